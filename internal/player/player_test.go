package player

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtrapolate(t *testing.T) {
	at := time.Unix(1000, 0)
	s := Snapshot{Elapsed: 10, Duration: 12, IsPlaying: true, ObservedAt: at}

	assert.InDelta(t, 11.5, s.Extrapolate(at.Add(1500*time.Millisecond)), 1e-9)
	assert.Equal(t, 12.0, s.Extrapolate(at.Add(time.Minute)), "capped at duration")
	assert.Equal(t, 10.0, s.Extrapolate(at.Add(-time.Second)))

	s.IsPlaying = false
	assert.Equal(t, 10.0, s.Extrapolate(at.Add(5*time.Second)))
}

func TestPlayerctlParsesMetadata(t *testing.T) {
	at := time.Unix(50, 0)
	var gotArgs []string
	p := &Playerctl{
		player: "spotify",
		now:    func() time.Time { return at },
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			gotArgs = args
			return []byte("/com/spotify/track/1\tAdele\tHello\t25\t295000000\tPlaying\t12500000\n"), nil
		},
	}

	s, err := p.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "--player=spotify", gotArgs[0])
	assert.Equal(t, Snapshot{
		TrackID: "/com/spotify/track/1", Title: "Hello", Artist: "Adele", Album: "25",
		Elapsed: 12.5, Duration: 295, IsPlaying: true, ObservedAt: at,
	}, s)
}

func TestPlayerctlEdgeCases(t *testing.T) {
	tests := map[string]struct {
		out     string
		err     error
		wantErr error
	}{
		"no players": {err: errors.New("playerctl: exit status 1: No players found"), wantErr: ErrNothingPlaying},
		"stopped":    {out: "id\tA\tT\t\t0\tStopped\t0", wantErr: ErrNothingPlaying},
		"bad shape":  {out: "only\ttwo", wantErr: ErrMalformed},
		"bad pos":    {out: "id\tA\tT\t\t0\tPaused\tnope", wantErr: ErrMalformed},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			p := &Playerctl{now: time.Now, run: func(context.Context, string, ...string) ([]byte, error) {
				return []byte(tt.out), tt.err
			}}
			_, err := p.Current(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPlayerctlSynthesizesTrackID(t *testing.T) {
	s, err := parsePlayerctl("\tAdele\tHello\t\t\tPaused\t1000000", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Adele\x00Hello", s.TrackID)
	assert.False(t, s.IsPlaying)
	assert.Equal(t, 0.0, s.Duration)
}

type fakeTokens struct {
	token       string
	err         error
	invalidated int
}

func (f *fakeTokens) WithValidToken(ctx context.Context, fn func(string) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(f.token)
}

func (f *fakeTokens) Invalidate() { f.invalidated++ }

func TestStatusAPI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/me/player/currently-playing", r.URL.Path)
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Write([]byte(`{"is_playing":true,"progress_ms":61500,"item":{"id":"abc","name":"Hello","duration_ms":295000,"artists":[{"name":"Adele"},{"name":"Guest"}],"album":{"name":"25"}}}`))
		case "Bearer idle":
			w.WriteHeader(http.StatusNoContent)
		case "Bearer broken":
			w.Write([]byte(`{"is_playing":true,"progress_ms":1,"item":{"name":"no id"}}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	tokens := &fakeTokens{token: "good"}
	api := NewStatusAPI(server.URL+"/v1", tokens)

	s, err := api.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", s.TrackID)
	assert.Equal(t, "Adele, Guest", s.Artist)
	assert.Equal(t, 61.5, s.Elapsed)
	assert.Equal(t, 295.0, s.Duration)
	assert.True(t, s.IsPlaying)

	tokens.token = "idle"
	_, err = api.Current(context.Background())
	assert.ErrorIs(t, err, ErrNothingPlaying)

	tokens.token = "broken"
	_, err = api.Current(context.Background())
	assert.ErrorIs(t, err, ErrMalformed)

	tokens.token = "expired"
	_, err = api.Current(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, tokens.invalidated)
}
