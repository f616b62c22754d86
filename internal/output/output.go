// Package output holds the snapshot pushed to external consumers.
package output

import (
	"context"
	"encoding/json"
	"time"
)

// Snapshot is what displays, status bars and widgets receive.
type Snapshot struct {
	CurrentLyric string    `json:"currentLyric"`
	SongTitle    string    `json:"songTitle"`
	Artist       string    `json:"artist"`
	Timestamp    time.Time `json:"timestamp"`
	Status       string    `json:"status"`
	Translation  string    `json:"translation,omitempty"`
}

// SameContent ignores Timestamp; used to tell a real change from a heartbeat.
func (s Snapshot) SameContent(o Snapshot) bool {
	return s.CurrentLyric == o.CurrentLyric &&
		s.SongTitle == o.SongTitle &&
		s.Artist == o.Artist &&
		s.Status == o.Status &&
		s.Translation == o.Translation
}

// Stale reports whether a consumer should show the closed state.
func (s Snapshot) Stale(now time.Time, window time.Duration) bool {
	return s.Timestamp.IsZero() || now.Sub(s.Timestamp) > window
}

func (s Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Publisher receives every emitted snapshot.
type Publisher interface {
	Publish(ctx context.Context, s Snapshot) error
	Name() string
}
