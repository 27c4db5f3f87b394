package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"jukebox/internal/database"
	"jukebox/pkg/models"
)

type favoritesSyncRequest struct {
	Favorites []models.FavoriteTrack `json:"favorites"`
}

// requireFavoritesSync gates the favorites endpoints on configuration.
func (s *Server) requireFavoritesSync(w http.ResponseWriter, r *http.Request) bool {
	if !s.cfg.Jobs.AllowFavoritesSync || s.favorites == nil {
		s.respondWithError(w, r, http.StatusForbidden, "Favorites sync disabled", nil)
		return false
	}
	return true
}

// handleCreateFavoritesSync stores a favorites list under a fresh code.
func (s *Server) handleCreateFavoritesSync(w http.ResponseWriter, r *http.Request) {
	if !s.requireFavoritesSync(w, r) {
		return
	}
	var req favoritesSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON payload", err)
		return
	}
	if len(req.Favorites) > database.MaxFavorites {
		s.respondWithError(w, r, http.StatusBadRequest, "Too many favorites", nil)
		return
	}

	code, err := s.favorites.CreateUniqueCode()
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to create sync code", err)
		return
	}
	if err := s.favorites.Save(code, req.Favorites); err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to store favorites", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.FavoritesSyncResponse{
		Code:      code,
		Count:     len(req.Favorites),
		Favorites: req.Favorites,
	})
}

// handleGetFavoritesSync loads a stored favorites list by code.
func (s *Server) handleGetFavoritesSync(w http.ResponseWriter, r *http.Request) {
	if !s.requireFavoritesSync(w, r) {
		return
	}
	code := strings.ToLower(strings.TrimSpace(r.PathValue("code")))
	if code == "" {
		s.respondWithError(w, r, http.StatusBadRequest, "Sync code is required", nil)
		return
	}
	favorites, err := s.favorites.Load(code)
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to load favorites", err)
		return
	}
	if favorites == nil {
		s.respondWithError(w, r, http.StatusNotFound, "Sync code not found", nil)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"favorites": favorites})
}

// handleUpdateFavoritesSync replaces the list stored under a code.
func (s *Server) handleUpdateFavoritesSync(w http.ResponseWriter, r *http.Request) {
	if !s.requireFavoritesSync(w, r) {
		return
	}
	code := strings.ToLower(strings.TrimSpace(r.PathValue("code")))
	if code == "" {
		s.respondWithError(w, r, http.StatusBadRequest, "Sync code is required", nil)
		return
	}
	var req favoritesSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON payload", err)
		return
	}
	if len(req.Favorites) > database.MaxFavorites {
		s.respondWithError(w, r, http.StatusBadRequest, "Too many favorites", nil)
		return
	}

	updated, err := s.favorites.Update(code, req.Favorites)
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to update favorites", err)
		return
	}
	if !updated {
		s.respondWithError(w, r, http.StatusNotFound, "Sync code not found", nil)
		return
	}
	s.respondJSON(w, http.StatusOK, models.FavoritesSyncResponse{
		Code:      code,
		Count:     len(req.Favorites),
		Favorites: req.Favorites,
	})
}
