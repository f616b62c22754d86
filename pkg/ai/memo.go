package ai

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	kvFormat = "%s => %s"
	// artist 和 title 之间的分隔符，不会出现在播放器元数据里
	fieldSep = "\x1f"
)

// SongCleaner is anything that cleans (artist, title).
type SongCleaner interface {
	Clean(ctx context.Context, artist, title string) (string, string, error)
}

// MemoCleaner remembers cleaned metadata in an append-only list file so the
// model is asked once per distinct player title, across restarts.
type MemoCleaner struct {
	inner SongCleaner
	path  string

	mu    sync.Mutex
	cache map[string]string
}

// NewMemoCleaner loads path (creating it when missing) and wraps inner.
func NewMemoCleaner(inner SongCleaner, path string) (*MemoCleaner, error) {
	m := &MemoCleaner{inner: inner, path: path, cache: make(map[string]string)}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		kv := strings.Split(scanner.Text(), " => ")
		if len(kv) != 2 {
			continue
		}
		m.cache[kv[0]] = kv[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	logger.Debug().Int("entries", len(m.cache)).Str("path", path).Msg("Loaded cleaned titles")
	return m, nil
}

func joinFields(artist, title string) string {
	return strings.ReplaceAll(artist, " => ", " ") + fieldSep + strings.ReplaceAll(title, " => ", " ")
}

func splitFields(v string) (string, string, bool) {
	artist, title, ok := strings.Cut(v, fieldSep)
	return artist, title, ok
}

func (m *MemoCleaner) Clean(ctx context.Context, artist, title string) (string, string, error) {
	key := joinFields(artist, title)

	m.mu.Lock()
	v, ok := m.cache[key]
	m.mu.Unlock()
	if ok {
		if a, t, ok := splitFields(v); ok {
			return a, t, nil
		}
	}

	cleanArtist, cleanTitle, err := m.inner.Clean(ctx, artist, title)
	if err != nil {
		return cleanArtist, cleanTitle, err
	}
	m.add(key, joinFields(cleanArtist, cleanTitle))
	return cleanArtist, cleanTitle, nil
}

func (m *MemoCleaner) add(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cache[key]; ok {
		return
	}
	m.cache[key] = value

	f, err := os.OpenFile(m.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to open cleaned title list")
		return
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, kvFormat+"\n", key, value); err != nil {
		logger.Warn().Err(err).Msg("Failed to append cleaned title")
	}
}
