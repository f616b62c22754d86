package tracker

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"lyricsync/internal/player"
)

var logger = log.With().Str("component", "tracker").Logger()

const (
	DefaultDebounce      = 100 * time.Millisecond
	DefaultSeekThreshold = 2 * time.Second
)

// Update describes what one observed snapshot changed.
type Update struct {
	// Transitions lists every state entered, in order. Seeking is always
	// followed by the state it resolved to.
	Transitions []SyncState
	// TrackChanged is a switch between two known tracks.
	TrackChanged bool
	// TrackAcquired is the first track after Waiting or Stopped.
	TrackAcquired bool
	Seeked        bool
}

// NeedsResolution reports whether lyrics must be looked up again.
func (u Update) NeedsResolution() bool {
	return u.TrackChanged || u.TrackAcquired
}

type manualAnchor struct {
	position float64
	at       time.Time
}

// Tracker turns polled snapshots into a SyncState machine.
type Tracker struct {
	debounce      time.Duration
	seekThreshold float64
	now           func() time.Time

	mu          sync.Mutex
	state       SyncState
	last        *player.Snapshot
	prevTrackID string
	committedAt time.Time
	manual      *manualAnchor
}

type Option func(*Tracker)

func WithDebounce(d time.Duration) Option { return func(t *Tracker) { t.debounce = d } }

func WithSeekThreshold(d time.Duration) Option {
	return func(t *Tracker) { t.seekThreshold = d.Seconds() }
}

func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

func New(opts ...Option) *Tracker {
	t := &Tracker{
		debounce:      DefaultDebounce,
		seekThreshold: DefaultSeekThreshold.Seconds(),
		now:           time.Now,
		state:         Waiting,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Observe feeds one snapshot into the state machine.
func (t *Tracker) Observe(s player.Snapshot) Update {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.TrackID == "" {
		return Update{}
	}
	now := t.now()

	current := ""
	if t.last != nil {
		current = t.last.TrackID
	}

	if s.TrackID != current {
		// 切歌后短时间内又收到旧歌的快照，忽略
		if s.TrackID == t.prevTrackID && now.Sub(t.committedAt) < t.debounce {
			logger.Debug().Str("track", s.TrackID).Msg("Absorbed flapping track change")
			return Update{}
		}
		return t.commitTrack(s, current, now)
	}

	var u Update
	expected := t.last.Extrapolate(s.ObservedAt)
	if math.Abs(s.Elapsed-expected) > t.seekThreshold {
		u.Seeked = true
		u.Transitions = append(u.Transitions, Seeking)
		target := Paused
		if s.IsPlaying {
			target = Playing
		}
		u.Transitions = append(u.Transitions, target)
		logger.Info().Float64("expected", expected).Float64("elapsed", s.Elapsed).Msg("Seek detected")
		t.state = target
	} else if next := t.nextState(s.IsPlaying); next != t.state {
		u.Transitions = append(u.Transitions, next)
		t.state = next
	}

	snap := s
	t.last = &snap
	return u
}

func (t *Tracker) commitTrack(s player.Snapshot, current string, now time.Time) Update {
	var u Update
	if current == "" {
		u.TrackAcquired = true
	} else {
		u.TrackChanged = true
	}

	next := t.state
	switch {
	case s.IsPlaying:
		next = Playing
	case t.state == Waiting || t.state == Stopped:
		// 暂停状态下拿到第一首歌：记下来，继续等待播放
		next = Waiting
	default:
		next = Paused
	}
	if next != t.state {
		u.Transitions = append(u.Transitions, next)
	}
	t.state = next

	t.prevTrackID = current
	t.committedAt = now
	t.manual = nil
	snap := s
	t.last = &snap

	logger.Info().
		Str("track", s.TrackID).
		Str("title", s.Title).
		Str("artist", s.Artist).
		Bool("acquired", u.TrackAcquired).
		Msg("Track changed")
	return u
}

func (t *Tracker) nextState(isPlaying bool) SyncState {
	switch t.state {
	case Waiting, Paused:
		if isPlaying {
			return Playing
		}
	case Playing:
		if !isPlaying {
			return Paused
		}
	}
	return t.state
}

// Stop moves to Stopped and forgets the track.
func (t *Tracker) Stop() Update {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Stopped && t.last == nil {
		return Update{}
	}
	t.state = Stopped
	t.last = nil
	t.prevTrackID = ""
	t.manual = nil
	return Update{Transitions: []SyncState{Stopped}}
}

func (t *Tracker) State() SyncState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Current returns the last observed snapshot.
func (t *Tracker) Current() (player.Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return player.Snapshot{}, false
	}
	return *t.last, true
}

// Elapsed is the best position estimate at now; a manual position wins
// over the polled one until ResumeAutoSync.
func (t *Tracker) Elapsed(now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last == nil {
		return 0
	}
	if t.manual != nil {
		pos := t.manual.position
		if t.state == Playing && now.After(t.manual.at) {
			pos += now.Sub(t.manual.at).Seconds()
		}
		return pos
	}
	return t.last.Extrapolate(now)
}

// SetManualPosition pins the position to seconds as of now.
func (t *Tracker) SetManualPosition(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.manual = &manualAnchor{position: seconds, at: t.now()}
	logger.Info().Float64("position", seconds).Msg("Manual position set")
}

// ResumeAutoSync drops the manual position.
func (t *Tracker) ResumeAutoSync() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.manual = nil
}

func (t *Tracker) ManualOverride() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.manual != nil
}
