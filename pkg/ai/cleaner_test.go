package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	answers []string
	errs    []error
	calls   int
	prompts []string
}

func (f *fakeModel) Name() string { return "fake" }

func (f *fakeModel) HandleText(ctx context.Context, msg string) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, msg)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return "", err
	}
	return f.answers[i], nil
}

func TestCleanParsesAnswer(t *testing.T) {
	model := &fakeModel{answers: []string{"```json\n{\"is_song\":true,\"title\":\"Hello\",\"artist\":\"Adele\"}\n```"}}
	artist, title, err := NewCleaner(model).Clean(context.Background(), "AdeleVEVO", "Adele - Hello (Official Music Video)")
	require.NoError(t, err)
	assert.Equal(t, "Adele", artist)
	assert.Equal(t, "Hello", title)
	assert.True(t, strings.Contains(model.prompts[0], "AdeleVEVO"))
}

func TestCleanRetriesThenSucceeds(t *testing.T) {
	model := &fakeModel{
		errs:    []error{errors.New("boom"), nil},
		answers: []string{"", `{"is_song":true,"title":"Hello","artist":""}`},
	}
	c := NewCleaner(model)
	c.retryDelay = 0
	artist, title, err := c.Clean(context.Background(), "Adele", "Hello - Live")
	require.NoError(t, err)
	assert.Equal(t, "Adele", artist)
	assert.Equal(t, "Hello", title)
	assert.Equal(t, 2, model.calls)
}

func TestCleanNotASongKeepsInput(t *testing.T) {
	model := &fakeModel{answers: []string{`{"is_song":false}`}}
	artist, title, err := NewCleaner(model).Clean(context.Background(), "Podcast", "Episode 12")
	assert.ErrorIs(t, err, ErrNotASong)
	assert.Equal(t, "Podcast", artist)
	assert.Equal(t, "Episode 12", title)
}
