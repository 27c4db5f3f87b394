package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"jukebox/internal/cache"
	"jukebox/internal/config"
	"jukebox/internal/database"
	"jukebox/internal/fetcher"
	"jukebox/internal/ngrok"
	"jukebox/internal/search"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Server is the orchestrator: it translates HTTP intents into job store
// mutations and builds status payloads. Fetch runs happen on background
// goroutines; handlers return immediately.
type Server struct {
	cfg       *config.Config
	db        *database.Database
	favorites *database.FavoritesStore
	fetcher   *fetcher.Fetcher
	spotify   *search.SpotifyClient
	youtube   *search.YoutubeClient
	ngrokSvc  *ngrok.Service
	watcher   *fsnotify.Watcher
	artifacts *cache.ArtifactCache
	logger    *logrus.Logger
	mux       *http.ServeMux
}

// NewServer wires the orchestrator. The fetcher is optional: without
// yt-dlp on the host, video-id jobs are refused but uploads still work.
func NewServer(cfg *config.Config, db *database.Database, favorites *database.FavoritesStore, logger *logrus.Logger) (*Server, error) {
	f, err := fetcher.NewFetcher(cfg, db, logger)
	if err != nil {
		logger.WithError(err).Warn("Fetcher not available; video submissions disabled")
		f = nil
	}

	ngrokSvc, err := ngrok.NewService(&cfg.Ngrok)
	if err != nil {
		logger.WithError(err).Warn("Ngrok service not available")
		ngrokSvc = nil
	}

	timeout := time.Duration(cfg.Search.HTTPTimeoutS * float64(time.Second))
	s := &Server{
		cfg:       cfg,
		db:        db,
		favorites: favorites,
		fetcher:   f,
		spotify:   search.NewSpotifyClient(timeout),
		youtube:   search.NewYoutubeClient(timeout, cfg.Fetcher.YtDlpPath),
		ngrokSvc:  ngrokSvc,
		artifacts: cache.NewArtifactCache(),
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	// jobs
	s.mux.HandleFunc("POST /api/analysis/youtube", s.handleCreateFromVideo)
	s.mux.HandleFunc("GET /api/analysis/{id}", s.handleGetAnalysis)
	s.mux.HandleFunc("POST /api/repair/{id}", s.handleRepair)
	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("POST /api/plays/{id}", s.handleIncrementPlays)
	s.mux.HandleFunc("PATCH /api/plays/{id}", s.handleSetPlayCount)
	s.mux.HandleFunc("GET /api/top", s.handleTopTracks)
	s.mux.HandleFunc("GET /api/jobs/by-youtube/{id}", s.handleJobByYoutube)
	s.mux.HandleFunc("GET /api/jobs/by-track", s.handleJobByTrack)
	s.mux.HandleFunc("DELETE /api/jobs/{id}", s.handleDeleteJob)

	// media
	s.mux.HandleFunc("GET /api/audio/{id}", s.handleGetAudio)
	s.mux.HandleFunc("GET /api/logs/{id}", s.handleGetLog)

	// search
	s.mux.HandleFunc("GET /api/search/spotify", s.handleSearchSpotify)
	s.mux.HandleFunc("GET /api/search/youtube", s.handleSearchYoutube)

	// favorites sync
	s.mux.HandleFunc("POST /api/favorites/sync", s.handleCreateFavoritesSync)
	s.mux.HandleFunc("GET /api/favorites/sync/{code}", s.handleGetFavoritesSync)
	s.mux.HandleFunc("PUT /api/favorites/sync/{code}", s.handleUpdateFavoritesSync)

	// config + health + static
	s.mux.HandleFunc("GET /app-config", s.handleAppConfig)
	s.mux.HandleFunc("GET /health", s.handleHealthCheck)
	s.mux.HandleFunc("/", s.handleStatic)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.mux
	handler = s.corsMiddleware(handler)
	handler = s.requestLoggingMiddleware(handler)
	return handler
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Jobs.WatchDropFolder {
		if err := s.startDropWatcher(); err != nil {
			s.logger.WithError(err).Warn("Could not start drop-folder watcher")
		}
	}

	localAddress := fmt.Sprintf("http://%s", s.cfg.GetAddress())
	if s.ngrokSvc != nil {
		if err := s.ngrokSvc.StartTunnel(ctx, localAddress); err != nil {
			s.logger.WithError(err).Warn("Could not start ngrok tunnel")
		} else {
			defer s.ngrokSvc.Stop()
		}
	}

	httpServer := &http.Server{
		Addr:         s.cfg.GetAddress(),
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("address", localAddress).Info("Jukebox API listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		s.stopDropWatcher()
		return nil
	case err := <-errCh:
		s.stopDropWatcher()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
