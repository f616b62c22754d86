package lrclib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL   = "https://lrclib.net/api"
	DefaultUserAgent = "lyricsync/1.0 (+https://github.com/lyricsync)"
)

var (
	ErrNotFound  = errors.New("lrclib: no lyrics found")
	ErrMalformed = errors.New("lrclib: malformed response")
)

var logger = log.With().Str("component", "lrclib").Logger()

// Client LRCLib客户端
type Client struct {
	httpClient     *http.Client
	baseURL        string
	userAgent      string
	requestTimeout time.Duration
	maxRetries     int
}

// Track LRCLib API 响应结构
type Track struct {
	ID           int     `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

func (t *Track) validate() error {
	if t.ID == 0 || t.TrackName == "" {
		return fmt.Errorf("%w: track without id or name", ErrMalformed)
	}
	return nil
}

// Query identifies a track by its metadata.
type Query struct {
	Title    string
	Artist   string
	Album    string
	Duration float64 // seconds, 0 if unknown
}

type Option func(*Client)

func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") } }

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }

func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

func WithRetries(n int) Option { return func(c *Client) { c.maxRetries = n } }

// NewClient 创建新的LRCLib客户端
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:     &http.Client{Timeout: 5 * time.Second},
		baseURL:        DefaultBaseURL,
		userAgent:      DefaultUserAgent,
		requestTimeout: 5 * time.Second,
		maxRetries:     2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetProviderName 返回提供商名称
func (c *Client) GetProviderName() string {
	return "LRCLib"
}

// Get looks a track up by exact metadata (/api/get).
func (c *Client) Get(ctx context.Context, q Query) (*Track, error) {
	params := url.Values{}
	params.Set("track_name", q.Title)
	params.Set("artist_name", q.Artist)
	if q.Album != "" {
		params.Set("album_name", q.Album)
	}
	if q.Duration > 0 {
		params.Set("duration", strconv.Itoa(int(q.Duration+0.5)))
	}

	var track Track
	if err := c.getJSON(ctx, "/get?"+params.Encode(), &track); err != nil {
		return nil, err
	}
	if err := track.validate(); err != nil {
		return nil, err
	}
	logger.Info().Str("title", track.TrackName).Str("artist", track.ArtistName).
		Bool("synced", track.SyncedLyrics != "").Msg("Found track by metadata")
	return &track, nil
}

// GetByID fetches one track (/api/get/{id}).
func (c *Client) GetByID(ctx context.Context, id int) (*Track, error) {
	var track Track
	if err := c.getJSON(ctx, "/get/"+strconv.Itoa(id), &track); err != nil {
		return nil, err
	}
	if err := track.validate(); err != nil {
		return nil, err
	}
	return &track, nil
}

// Search runs a free-text query (/api/search?q=).
func (c *Client) Search(ctx context.Context, query string) ([]Track, error) {
	params := url.Values{}
	params.Set("q", query)

	var tracks []Track
	if err := c.getJSON(ctx, "/search?"+params.Encode(), &tracks); err != nil {
		return nil, err
	}
	valid := tracks[:0]
	for i := range tracks {
		if tracks[i].validate() == nil {
			valid = append(valid, tracks[i])
		}
	}
	logger.Info().Str("query", query).Int("results", len(valid)).Msg("Search finished")
	if len(valid) == 0 {
		return nil, ErrNotFound
	}
	return valid, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.doRequestWithRetry(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lrclib: request returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// doRequestWithRetry 重试机制：网络错误与5xx会重试，其余直接返回
func (c *Client) doRequestWithRetry(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Info().Int("attempt", attempt).Int("max_retries", c.maxRetries).Msg("Retrying request")
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(time.Duration(attempt*500) * time.Millisecond):
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Request failed")
			if req.Context().Err() != nil {
				break
			}
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("lrclib: server returned status %d", resp.StatusCode)
			logger.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Msg("Request returned server error")
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// Candidate is a ranked search result.
type Candidate struct {
	Track
	Score int
}

// Rank orders search results by how well they match the wanted track:
// title and artist containment first, then duration proximity, synced lyrics
// over plain, instrumentals last. Ties keep the API order.
func Rank(tracks []Track, title, artist string, duration float64) []Candidate {
	out := make([]Candidate, len(tracks))
	for i, t := range tracks {
		score := 0
		if containsIgnoreCase(t.TrackName, title) {
			score += 40
			if strings.EqualFold(strings.TrimSpace(t.TrackName), strings.TrimSpace(title)) {
				score += 10
			}
		}
		if artist != "" && containsIgnoreCase(t.ArtistName, artist) {
			score += 30
		}
		if duration > 0 && t.Duration > 0 {
			const maxDurationDiff = 3 // 最大允许3秒误差
			diff := abs(t.Duration - duration)
			switch {
			case diff <= maxDurationDiff:
				score += 20
			case diff <= 10:
				score += 5
			}
		}
		if t.SyncedLyrics != "" {
			score += 15
		}
		if t.Instrumental {
			score -= 50
		}
		out[i] = Candidate{Track: t, Score: score}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func abs(n float64) float64 {
	if n < 0 {
		return -n
	}
	return n
}

// containsIgnoreCase 忽略大小写检查包含关系
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(strings.TrimSpace(substr)))
}
