package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TokenProvider supplies bearer tokens for the status API.
type TokenProvider interface {
	WithValidToken(ctx context.Context, fn func(accessToken string) error) error
	Invalidate()
}

// ErrUnauthorized is returned when the API rejects the token.
var ErrUnauthorized = errors.New("player: status api rejected token")

type currentlyPlaying struct {
	IsPlaying  bool `json:"is_playing"`
	ProgressMs *int `json:"progress_ms"`
	Item       *struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		DurationMs int    `json:"duration_ms"`
		Artists    []struct {
			Name string `json:"name"`
		} `json:"artists"`
		Album struct {
			Name string `json:"name"`
		} `json:"album"`
	} `json:"item"`
}

// StatusAPI polls a Spotify-style currently-playing endpoint.
type StatusAPI struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenProvider
	now        func() time.Time
}

func NewStatusAPI(baseURL string, tokens TokenProvider) *StatusAPI {
	return &StatusAPI{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		now:        time.Now,
	}
}

func (a *StatusAPI) Name() string {
	return "status-api"
}

func (a *StatusAPI) Current(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := a.tokens.WithValidToken(ctx, func(token string) error {
		var err error
		snap, err = a.fetch(ctx, token)
		return err
	})
	if errors.Is(err, ErrUnauthorized) {
		logger.Warn().Msg("Status API rejected access token")
		a.tokens.Invalidate()
	}
	return snap, err
}

func (a *StatusAPI) fetch(ctx context.Context, token string) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/me/player/currently-playing", nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()
	now := a.now()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return Snapshot{}, ErrNothingPlaying
	case http.StatusUnauthorized:
		return Snapshot{}, ErrUnauthorized
	default:
		return Snapshot{}, fmt.Errorf("player: status api returned %d", resp.StatusCode)
	}

	var body currentlyPlaying
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if body.Item == nil || body.Item.ID == "" || body.Item.Name == "" || body.ProgressMs == nil {
		return Snapshot{}, fmt.Errorf("%w: item without id, name or progress", ErrMalformed)
	}

	artists := make([]string, 0, len(body.Item.Artists))
	for _, a := range body.Item.Artists {
		artists = append(artists, a.Name)
	}
	return Snapshot{
		TrackID:    body.Item.ID,
		Title:      body.Item.Name,
		Artist:     strings.Join(artists, ", "),
		Album:      body.Item.Album.Name,
		Elapsed:    float64(*body.ProgressMs) / 1000,
		Duration:   float64(body.Item.DurationMs) / 1000,
		IsPlaying:  body.IsPlaying,
		ObservedAt: now,
	}, nil
}
