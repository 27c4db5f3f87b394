package search

import (
	"encoding/base64"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	spotifyTokenURL  = "https://accounts.spotify.com/api/token"
	spotifySearchURL = "https://api.spotify.com/v1/search"
)

// tokenCache holds the current client-credentials token behind a mutex.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// SpotifyClient searches the Spotify catalog using the client-credentials
// flow with token caching and a small retry/backoff on auth failures.
type SpotifyClient struct {
	client       *resty.Client
	clientID     string
	clientSecret string
	cache        tokenCache
}

// NewSpotifyClient reads credentials from the environment. A client with
// missing credentials is still constructed; searches will report the
// configuration error.
func NewSpotifyClient(timeout time.Duration) *SpotifyClient {
	return &SpotifyClient{
		client:       resty.New().SetTimeout(timeout),
		clientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
		clientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
	}
}

type spotifyTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type spotifySearchResponse struct {
	Tracks struct {
		Items []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
			DurationMS int `json:"duration_ms"`
		} `json:"items"`
	} `json:"tracks"`
}

// SpotifyTrack is one catalog search hit.
type SpotifyTrack struct {
	ID       string
	Name     string
	Artist   string
	Duration int // seconds
}

// token returns a cached token, fetching a fresh one when missing or
// expired.
func (s *SpotifyClient) token(forceRefresh bool) (string, error) {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()

	if !forceRefresh && s.cache.token != "" && time.Now().Before(s.cache.expiresAt) {
		return s.cache.token, nil
	}

	if s.clientID == "" || s.clientSecret == "" {
		return "", fmt.Errorf("spotify credentials missing")
	}

	auth := base64.StdEncoding.EncodeToString([]byte(s.clientID + ":" + s.clientSecret))
	var payload spotifyTokenResponse
	resp, err := s.client.R().
		SetHeader("Authorization", "Basic "+auth).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&payload).
		Post(spotifyTokenURL)
	if err != nil {
		return "", fmt.Errorf("spotify token request failed: %w", err)
	}
	if resp.IsError() || payload.AccessToken == "" {
		return "", fmt.Errorf("spotify token missing (status %d)", resp.StatusCode())
	}

	expiresIn := payload.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	s.cache.token = payload.AccessToken
	s.cache.expiresAt = time.Now().Add(time.Duration(expiresIn-30) * time.Second)
	return s.cache.token, nil
}

// Search queries the catalog for tracks. Auth failures refresh the token
// and retry with exponential backoff.
func (s *SpotifyClient) Search(query string, limit int) ([]SpotifyTrack, error) {
	const attempts = 3
	delay := 500 * time.Millisecond

	var lastStatus int
	for attempt := 0; attempt < attempts; attempt++ {
		token, err := s.token(attempt > 0)
		if err != nil {
			return nil, err
		}

		var payload spotifySearchResponse
		resp, err := s.client.R().
			SetHeader("Authorization", "Bearer "+token).
			SetQueryParams(map[string]string{
				"q":     query,
				"type":  "track",
				"limit": fmt.Sprintf("%d", limit),
			}).
			SetResult(&payload).
			Get(spotifySearchURL)
		if err != nil {
			return nil, fmt.Errorf("spotify search failed: %w", err)
		}

		lastStatus = resp.StatusCode()
		switch lastStatus {
		case 200:
			items := make([]SpotifyTrack, 0, len(payload.Tracks.Items))
			for _, track := range payload.Tracks.Items {
				artist := ""
				if len(track.Artists) > 0 {
					artist = track.Artists[0].Name
				}
				items = append(items, SpotifyTrack{
					ID:       track.ID,
					Name:     track.Name,
					Artist:   artist,
					Duration: int(math.Round(float64(track.DurationMS) / 1000)),
				})
			}
			return items, nil
		case 400, 401:
			// stale token; refresh and retry
			if attempt < attempts-1 {
				time.Sleep(delay)
				delay *= 2
			}
		default:
			return nil, fmt.Errorf("spotify search failed with status %d", lastStatus)
		}
	}
	return nil, fmt.Errorf("spotify search failed with status %d after retries", lastStatus)
}
