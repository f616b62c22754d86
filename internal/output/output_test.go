package output

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalFieldNames(t *testing.T) {
	s := Snapshot{CurrentLyric: "hello", SongTitle: "Hello", Artist: "Adele", Timestamp: time.Unix(10, 0).UTC(), Status: "synced"}
	raw, err := s.Marshal()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "hello", m["currentLyric"])
	assert.Equal(t, "Hello", m["songTitle"])
	assert.Equal(t, "Adele", m["artist"])
	assert.Equal(t, "synced", m["status"])
	assert.NotContains(t, m, "translation")
}

func TestSameContentAndStale(t *testing.T) {
	now := time.Now()
	a := Snapshot{CurrentLyric: "x", Timestamp: now}
	b := a
	b.Timestamp = now.Add(time.Second)
	assert.True(t, a.SameContent(b))
	b.CurrentLyric = "y"
	assert.False(t, a.SameContent(b))

	assert.False(t, a.Stale(now.Add(30*time.Second), 45*time.Second))
	assert.True(t, a.Stale(now.Add(46*time.Second), 45*time.Second))
	assert.True(t, Snapshot{}.Stale(now, time.Hour))
}
