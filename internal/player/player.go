package player

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNothingPlaying means the source answered but no track is loaded.
	ErrNothingPlaying = errors.New("player: nothing playing")
	ErrMalformed      = errors.New("player: malformed status")
)

var logger = log.With().Str("component", "player").Logger()

// Snapshot is one immutable read of the player's state. Elapsed and
// Duration are in seconds; Duration is 0 when unknown.
type Snapshot struct {
	TrackID    string
	Title      string
	Artist     string
	Album      string
	Elapsed    float64
	Duration   float64
	IsPlaying  bool
	ObservedAt time.Time
}

// Extrapolate estimates the position at now, assuming playback continued
// at normal speed since the snapshot was taken.
func (s Snapshot) Extrapolate(now time.Time) float64 {
	pos := s.Elapsed
	if s.IsPlaying && now.After(s.ObservedAt) {
		pos += now.Sub(s.ObservedAt).Seconds()
	}
	if s.Duration > 0 && pos > s.Duration {
		pos = s.Duration
	}
	return pos
}

// Source 播放状态来源
type Source interface {
	Current(ctx context.Context) (Snapshot, error)
	Name() string
}
