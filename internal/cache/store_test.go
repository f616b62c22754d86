package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := New(t.TempDir(), WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock
}

func TestKeyNormalization(t *testing.T) {
	tests := []struct {
		artist, title, want string
	}{
		{"Adele", "Hello", "adele - hello"},
		{"  AC/DC ", "Back in   Black!", "acdc - back in black"},
		{"Beyoncé", "Déjà Vu", "beyonce - deja vu"},
		{"Sigur Rós", "Hoppípolla", "sigur ros - hoppipolla"},
		{"", "Intro", " - intro"},
	}
	for _, tt := range tests {
		got, err := Key(tt.artist, tt.title)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := Key("!!!", "???")
	assert.ErrorIs(t, err, ErrInvalidKey)

	a, _ := Key("AC/DC", "T.N.T.")
	b, _ := Key("acdc", "tnt")
	assert.Equal(t, a, b, "collisions are accepted as the same song")
}

func TestPutGet(t *testing.T) {
	s, clock := newStore(t)

	_, err := s.Get("Adele", "Hello")
	assert.ErrorIs(t, err, ErrMiss)

	stored, err := s.Put("Adele", "Hello", "[00:01.00]Hello from the other side\n")
	require.NoError(t, err)
	assert.True(t, stored)

	clock.Set(clock.Now().Add(time.Hour))
	rec, err := s.Get("ADELE", "hello!")
	require.NoError(t, err)
	assert.Equal(t, "adele - hello", rec.Key)
	assert.Equal(t, "[00:01.00]Hello from the other side\n", rec.Raw)
	assert.True(t, rec.LastAccess.Equal(clock.Now()))

	info, err := os.Stat(filepath.Join(s.Dir(), "adele - hello.lrc"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(clock.Now()))
}

func TestPutFirstWriteWins(t *testing.T) {
	s, _ := newStore(t)

	stored, err := s.Put("Adele", "Hello", "[00:01.00]first")
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = s.Put("Adele", "Hello", "[00:01.00]second")
	require.NoError(t, err)
	assert.False(t, stored)

	rec, err := s.Get("Adele", "Hello")
	require.NoError(t, err)
	assert.Equal(t, "[00:01.00]first", rec.Raw)
}

func TestPutRejectsEmpty(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Put("Adele", "Hello", "  \n")
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestEvictExpired(t *testing.T) {
	s, clock := newStore(t)
	start := clock.Now()

	_, err := s.Put("Old", "Song", "[00:01.00]old")
	require.NoError(t, err)

	clock.Set(start.Add(2 * 24 * time.Hour))
	_, err = s.Put("Recent", "Song", "[00:01.00]recent")
	require.NoError(t, err)

	// Old was last accessed 31 days ago, Recent 29 days ago.
	clock.Set(start.Add(31 * 24 * time.Hour))
	removed, err := s.EvictExpired(DefaultTTL)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Get("Old", "Song")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = s.Get("Recent", "Song")
	assert.NoError(t, err)
}

func TestGetRefreshesLastAccess(t *testing.T) {
	s, clock := newStore(t)
	start := clock.Now()

	_, err := s.Put("Adele", "Hello", "[00:01.00]hello")
	require.NoError(t, err)

	clock.Set(start.Add(20 * 24 * time.Hour))
	_, err = s.Get("Adele", "Hello")
	require.NoError(t, err)

	clock.Set(start.Add(40 * 24 * time.Hour))
	removed, err := s.EvictExpired(DefaultTTL)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestConcurrentReadsAndWrites(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Put("Shared", "Song", "[00:01.00]shared")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := s.Put("Artist", fmt.Sprintf("Song %d", i), "[00:01.00]x")
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			rec, err := s.Get("Shared", "Song")
			if assert.NoError(t, err) {
				assert.Equal(t, "[00:01.00]shared", rec.Raw)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 17, s.Len())
}

func TestConcurrentPutSameKeyStoresOnce(t *testing.T) {
	for round := 0; round < 20; round++ {
		s, _ := newStore(t)

		const writers = 8
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			winner string
			wins   int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				body := fmt.Sprintf("[00:01.00]writer %d", i)
				stored, err := s.Put("Adele", "Hello", body)
				assert.NoError(t, err)
				if stored {
					mu.Lock()
					wins++
					winner = body
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		require.Equal(t, 1, wins, "round %d", round)
		rec, err := s.Get("Adele", "Hello")
		require.NoError(t, err)
		assert.Equal(t, winner, rec.Raw)
		assert.Equal(t, []string{"adele - hello"}, s.Keys())
	}
}

func TestLongKeyIsBoundedAndDistinct(t *testing.T) {
	long := strings.Repeat("na ", 200)
	k1, err := Key("Artist", long+"one")
	require.NoError(t, err)
	k2, err := Key("Artist", long+"two")
	require.NoError(t, err)

	assert.LessOrEqual(t, len(k1), maxKeyLen)
	assert.NotEqual(t, k1, k2)

	s, _ := newStore(t)
	stored, err := s.Put("Artist", long+"one", "[00:01.00]x")
	require.NoError(t, err)
	assert.True(t, stored)

	rec, err := s.Get("Artist", long+"one")
	require.NoError(t, err)
	assert.Equal(t, k1, rec.Key)
	assert.Equal(t, "Artist", rec.Artist)
	assert.Equal(t, long+"one", rec.Title)
}
