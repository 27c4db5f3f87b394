package server

import (
	"net/http"
	"strconv"

	"jukebox/pkg/models"
)

// handleSearchSpotify proxies track search to the Spotify catalog.
func (s *Server) handleSearchSpotify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.respondWithError(w, r, http.StatusBadRequest, "q is required", nil)
		return
	}

	tracks, err := s.spotify.Search(query, s.cfg.Search.SearchLimit)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadGateway, "Spotify search failed", err)
		return
	}

	items := make([]models.SpotifyItem, 0, len(tracks))
	for _, track := range tracks {
		items = append(items, models.SpotifyItem{
			ID:       track.ID,
			Name:     track.Name,
			Artist:   track.Artist,
			Duration: track.Duration,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleSearchYoutube searches for videos, optionally ranking by
// closeness to a target duration.
func (s *Server) handleSearchYoutube(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.respondWithError(w, r, http.StatusBadRequest, "q is required", nil)
		return
	}
	targetDuration := 0.0
	if raw := r.URL.Query().Get("target_duration"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			s.respondWithError(w, r, http.StatusBadRequest, "target_duration must be a non-negative number", err)
			return
		}
		targetDuration = parsed
	}

	items, err := s.youtube.Search(query, s.cfg.Search.YoutubeSearchLimit, targetDuration)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadGateway, "YouTube search failed", err)
		return
	}
	if items == nil {
		items = []models.SearchItem{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"items": items})
}
