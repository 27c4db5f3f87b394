package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"jukebox/internal/config"
	"jukebox/internal/database"
	"jukebox/internal/server"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := "./config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logger := newLogger(cfg)

	if err := cfg.EnsureStorageDirs(); err != nil {
		logger.WithError(err).Fatal("Error preparing storage")
	}

	db, err := database.NewDatabase(cfg.DatabasePath())
	if err != nil {
		logger.WithError(err).Fatal("Error initializing job store")
	}
	defer db.Close()

	favorites, err := database.NewFavoritesStore(cfg.FavoritesDatabasePath())
	if err != nil {
		logger.WithError(err).Fatal("Error initializing favorites store")
	}
	defer favorites.Close()

	srv, err := server.NewServer(cfg, db, favorites, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error creating server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		logger.Info("Received shutdown signal")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server shutdown complete")
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}
