// Package cache stores resolved lyric documents on disk, one file per song.
// A file's modification time is its last access time.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lyricsync/pkg/fileutil"
)

const (
	fileExt = ".lrc"

	// DefaultTTL 超过30天未访问的歌词会被清理
	DefaultTTL = 30 * 24 * time.Hour
)

var ErrMiss = errors.New("cache: not found")

// Record is one cached document in raw LRC form. Artist and Title are the
// lookup inputs; Key is what they normalize to.
type Record struct {
	Key        string
	Artist     string
	Title      string
	Raw        string
	LastAccess time.Time
}

// Store is safe for concurrent use. Writes go through an atomic rename so a
// reader never observes a half-written file.
type Store struct {
	dir    string
	now    func() time.Time
	logger zerolog.Logger
}

type Option func(*Store)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates the directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	s := &Store{
		dir:    dir,
		now:    time.Now,
		logger: log.With().Str("component", "lyrics-cache").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

// Get returns the record for (artist, title) and marks it accessed.
func (s *Store) Get(artist, title string) (*Record, error) {
	key, err := Key(artist, title)
	if err != nil {
		return nil, err
	}
	p := s.path(key)

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file %s: %w", p, err)
	}

	now := s.now()
	if err := os.Chtimes(p, now, now); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to touch cache entry")
	}

	s.logger.Debug().Str("key", key).Msg("Cache HIT")
	return &Record{Key: key, Artist: artist, Title: title, Raw: string(data), LastAccess: now}, nil
}

// Put stores raw unless a record already exists for the key. The first
// write wins; stored reports whether this call wrote the record.
func (s *Store) Put(artist, title, raw string) (stored bool, err error) {
	key, err := Key(artist, title)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(raw) == "" {
		return false, fmt.Errorf("cache: refusing to store empty document for %q", key)
	}
	p := s.path(key)

	if _, err := os.Stat(p); err == nil {
		s.logger.Debug().Str("key", key).Msg("Cache entry exists, keeping first write")
		return false, nil
	}

	err = fileutil.WriteFileExclusive(p, []byte(raw), 0o644)
	if errors.Is(err, fileutil.ErrExist) {
		s.logger.Debug().Str("key", key).Msg("Lost race for cache entry, keeping first write")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	now := s.now()
	if err := os.Chtimes(p, now, now); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to stamp cache entry")
	}

	s.logger.Info().Str("key", key).Msg("Saved lyrics to cache")
	return true, nil
}

// EvictExpired removes every record not accessed within ttl and returns how
// many were removed.
func (s *Store) EvictExpired(ttl time.Duration) (int, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cutoff := s.now().Add(-ttl)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn().Err(err).Str("file", e.Name()).Msg("Failed to evict cache entry")
				continue
			}
			removed++
		}
	}

	s.logger.Info().Int("removed", removed).Dur("ttl", ttl).Msg("Evicted expired cache entries")
	return removed, nil
}

// Len counts stored records.
func (s *Store) Len() int {
	return len(s.Keys())
}

// Keys lists the stored keys sorted by name.
func (s *Store) Keys() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list cache directory")
		return nil
	}
	var keys []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fileExt) {
			keys = append(keys, strings.TrimSuffix(e.Name(), fileExt))
		}
	}
	return keys
}
