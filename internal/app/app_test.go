package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lyricsync/internal/cache"
	"lyricsync/internal/config"
	"lyricsync/internal/output"
	"lyricsync/pkg/redis"
)

func testConfig(t *testing.T) *config.Config {
	dir, err := os.MkdirTemp("", "lsapp")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.Default()
	cfg.App.CacheDir = filepath.Join(dir, "cache")
	cfg.App.DataDir = filepath.Join(dir, "data")
	cfg.App.SocketPath = filepath.Join(dir, "s.sock")
	cfg.App.PlayerName = "lyricsync-test-player"
	cfg.HTTP.Listen = ""
	return cfg
}

func TestRunEvictsExpiredCacheAtStartup(t *testing.T) {
	cfg := testConfig(t)

	store, err := cache.New(cfg.LyricsCacheDir())
	require.NoError(t, err)
	_, err = store.Put("Adele", "Hello", "[00:01.00]hello\n")
	require.NoError(t, err)
	_, err = store.Put("Adele", "Skyfall", "[00:01.00]this is the end\n")
	require.NoError(t, err)

	key, err := cache.Key("Adele", "Hello")
	require.NoError(t, err)
	old := time.Now().Add(-31 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(store.Dir(), key+".lrc"), old, old))

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	assert.Equal(t, 1, store.Len())
	_, err = store.Get("Adele", "Hello")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.App.Player = "spotify"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRedisPublisherMirrorsSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := redis.NewClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	defer rc.Close()

	sub := mr.NewSubscriber()
	defer sub.Close()
	sub.Subscribe(SnapshotChannel)

	p := NewRedisPublisher(rc, 45*time.Second)
	require.NoError(t, p.Publish(context.Background(), output.Snapshot{CurrentLyric: "hello", Status: StatusSynced}))

	raw, err := mr.Get(SnapshotKey)
	require.NoError(t, err)
	assert.Contains(t, raw, `"currentLyric":"hello"`)
	assert.Equal(t, 45*time.Second, mr.TTL(SnapshotKey))

	select {
	case msg := <-sub.Messages():
		assert.Contains(t, msg.Message, "hello")
	case <-time.After(time.Second):
		t.Fatal("no pubsub message")
	}
}
