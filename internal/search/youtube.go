package search

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"jukebox/pkg/models"
)

const (
	youtubeSearchURL = "https://www.googleapis.com/youtube/v3/search"
	youtubeVideosURL = "https://www.googleapis.com/youtube/v3/videos"
)

// YoutubeClient searches for videos, preferring yt-dlp's flat extraction
// (no API key, no quota) and falling back to the Data API when yt-dlp is
// unavailable.
type YoutubeClient struct {
	client    *resty.Client
	apiKey    string
	ytDlpPath string
}

// NewYoutubeClient reads the API key from the environment.
func NewYoutubeClient(timeout time.Duration, ytDlpPath string) *YoutubeClient {
	return &YoutubeClient{
		client:    resty.New().SetTimeout(timeout),
		apiKey:    os.Getenv("YOUTUBE_API_KEY"),
		ytDlpPath: ytDlpPath,
	}
}

// Search returns up to maxResults videos for the query. When
// targetDuration is positive, results are ordered by closeness to it.
func (y *YoutubeClient) Search(query string, maxResults int, targetDuration float64) ([]models.SearchItem, error) {
	items, err := y.searchYtDlp(query, maxResults)
	if err != nil {
		if y.apiKey == "" {
			return nil, err
		}
		items, err = y.searchAPI(query, maxResults)
		if err != nil {
			return nil, err
		}
	}
	if targetDuration > 0 {
		sort.SliceStable(items, func(a, b int) bool {
			return math.Abs(float64(items[a].Duration)-targetDuration) <
				math.Abs(float64(items[b].Duration)-targetDuration)
		})
	}
	return items, nil
}

// ytDlpEntry is the slice of a flat-extraction entry we consume.
type ytDlpEntry struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Track    string   `json:"track"`
	Artist   string   `json:"artist"`
	Uploader string   `json:"uploader"`
	Duration *float64 `json:"duration"`
}

// searchYtDlp runs a metadata-only ytsearchN extraction.
func (y *YoutubeClient) searchYtDlp(query string, maxResults int) ([]models.SearchItem, error) {
	path := y.ytDlpPath
	if path == "" {
		path = "yt-dlp"
	}
	if _, err := exec.LookPath(path); err != nil {
		return nil, fmt.Errorf("yt-dlp is not available: %w", err)
	}

	cmd := exec.Command(path,
		"--dump-json",
		"--flat-playlist",
		"--skip-download",
		fmt.Sprintf("ytsearch%d:%s", maxResults, query),
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp search failed: %w", err)
	}

	var items []models.SearchItem
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry ytDlpEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.ID == "" || entry.Duration == nil {
			continue
		}
		items = append(items, models.SearchItem{
			ID:       entry.ID,
			Title:    formatSearchTitle(&entry),
			Duration: int(*entry.Duration),
		})
	}
	return items, nil
}

// formatSearchTitle prefers "track - artist" when both tags are present.
func formatSearchTitle(entry *ytDlpEntry) string {
	artist := entry.Artist
	if artist == "" {
		artist = entry.Uploader
	}
	if entry.Track != "" && artist != "" {
		return entry.Track + " - " + artist
	}
	if entry.Title != "" {
		return entry.Title
	}
	return "Unknown title"
}

type youtubeSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	} `json:"items"`
}

type youtubeVideosResponse struct {
	Items []struct {
		ID             string `json:"id"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	} `json:"items"`
}

// searchAPI queries the Data API: one search call for ids, one videos
// call for durations.
func (y *YoutubeClient) searchAPI(query string, maxResults int) ([]models.SearchItem, error) {
	var searchPayload youtubeSearchResponse
	resp, err := y.client.R().
		SetQueryParams(map[string]string{
			"part":       "snippet",
			"q":          query,
			"maxResults": fmt.Sprintf("%d", maxResults),
			"key":        y.apiKey,
			"type":       "video",
			"regionCode": "US",
		}).
		SetResult(&searchPayload).
		Get(youtubeSearchURL)
	if err != nil {
		return nil, fmt.Errorf("youtube search failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("youtube search failed with status %d", resp.StatusCode())
	}

	var videoIDs []string
	titles := map[string]string{}
	for _, item := range searchPayload.Items {
		if item.ID.VideoID == "" {
			continue
		}
		videoIDs = append(videoIDs, item.ID.VideoID)
		titles[item.ID.VideoID] = item.Snippet.Title
	}
	if len(videoIDs) == 0 {
		return []models.SearchItem{}, nil
	}

	var videosPayload youtubeVideosResponse
	resp, err = y.client.R().
		SetQueryParams(map[string]string{
			"part": "contentDetails,snippet",
			"id":   strings.Join(videoIDs, ","),
			"key":  y.apiKey,
		}).
		SetResult(&videosPayload).
		Get(youtubeVideosURL)
	if err != nil {
		return nil, fmt.Errorf("youtube videos lookup failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("youtube videos lookup failed with status %d", resp.StatusCode())
	}

	var items []models.SearchItem
	for _, item := range videosPayload.Items {
		if item.ID == "" {
			continue
		}
		duration, ok := ParseISO8601Duration(item.ContentDetails.Duration)
		if !ok {
			continue
		}
		title := item.Snippet.Title
		if title == "" {
			title = titles[item.ID]
		}
		if title == "" {
			title = "Untitled"
		}
		items = append(items, models.SearchItem{ID: item.ID, Title: title, Duration: duration})
	}
	return items, nil
}

// ParseISO8601Duration converts durations like PT3M42S to seconds.
func ParseISO8601Duration(value string) (int, bool) {
	if value == "" {
		return 0, false
	}
	var hours, minutes, seconds int
	num := ""
	inTime := false
	for _, ch := range value {
		switch {
		case ch == 'T':
			inTime = true
			num = ""
		case ch >= '0' && ch <= '9':
			num += string(ch)
		case !inTime || num == "":
			num = ""
		case ch == 'H':
			fmt.Sscanf(num, "%d", &hours)
			num = ""
		case ch == 'M':
			fmt.Sscanf(num, "%d", &minutes)
			num = ""
		case ch == 'S':
			fmt.Sscanf(num, "%d", &seconds)
			num = ""
		default:
			num = ""
		}
	}
	return hours*3600 + minutes*60 + seconds, true
}
