package models

// Status payloads returned by the jobs API. Each in-flight, failed and
// complete response has its own explicit shape rather than one loosely
// populated map.

// JobProgressPayload is returned (202) while a job is downloading, queued
// or processing.
type JobProgressPayload struct {
	ID        string `json:"id"`
	YoutubeID string `json:"youtube_id,omitempty"`
	Status    string `json:"status"`
	Progress  *int   `json:"progress,omitempty"` // only set while processing
	Message   string `json:"message,omitempty"`
}

// JobErrorPayload is returned (200) for a failed job, or synthesized when a
// complete job's artifact has gone missing.
type JobErrorPayload struct {
	ID        string `json:"id"`
	YoutubeID string `json:"youtube_id,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// JobCompletePayload wraps the analysis artifact for a complete job.
type JobCompletePayload struct {
	ID        string         `json:"id"`
	YoutubeID string         `json:"youtube_id,omitempty"`
	Status    string         `json:"status"`
	Result    map[string]any `json:"result"`
	Progress  int            `json:"progress"`
}

// PlayCountResponse acknowledges a play-counter mutation.
type PlayCountResponse struct {
	ID        string `json:"id"`
	PlayCount int    `json:"play_count"`
}

// TopTracksResponse lists leaderboard entries.
type TopTracksResponse struct {
	Items []TopTrack `json:"items"`
}

// AppConfigResponse exposes feature switches and upload limits to the web
// client.
type AppConfigResponse struct {
	AllowUserUpload    bool     `json:"allow_user_upload"`
	AllowUserYoutube   bool     `json:"allow_user_youtube"`
	AllowFavoritesSync bool     `json:"allow_favorites_sync"`
	MaxUploadSize      int64    `json:"max_upload_size,omitempty"`
	AllowedUploadExts  []string `json:"allowed_upload_exts,omitempty"`
}

// SearchItem is one YouTube search result.
type SearchItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Duration int    `json:"duration"`
}

// SpotifyItem is one Spotify track search result.
type SpotifyItem struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Duration int    `json:"duration"`
}

// FavoriteTrack is one entry in a favorites sync payload.
type FavoriteTrack struct {
	UniqueSongID string  `json:"uniqueSongId"`
	Title        string  `json:"title"`
	Artist       string  `json:"artist"`
	Duration     float64 `json:"duration,omitempty"`
	SourceType   string  `json:"sourceType,omitempty"`
}

// FavoritesSyncResponse acknowledges a stored favorites list.
type FavoritesSyncResponse struct {
	Code      string          `json:"code"`
	Count     int             `json:"count"`
	Favorites []FavoriteTrack `json:"favorites,omitempty"`
}
