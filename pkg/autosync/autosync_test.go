package autosync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProportional(t *testing.T) {
	lines, err := Generate("one two\nthree four five six\nseven eight", 80)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	assert.InDelta(t, 1.5, lines[0].Time, 1e-9)
	assert.InDelta(t, 21.5, lines[1].Time, 1e-9)
	assert.InDelta(t, 61.5, lines[2].Time, 1e-9)
	assert.Equal(t, "three four five six", lines[1].Text)
}

func TestGenerateSkipsBlankLines(t *testing.T) {
	lines, err := Generate("\n  a b  \n\n\n c d \n", 10)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "a b", lines[0].Text)
	assert.InDelta(t, 6.5, lines[1].Time, 1e-9)
}

func TestGenerateMonotonic(t *testing.T) {
	lines, err := Generate("a\nb c\nd e f\ng\nh i j k", 200)
	require.NoError(t, err)
	for i := 1; i < len(lines); i++ {
		assert.Greater(t, lines[i].Time, lines[i-1].Time)
	}
	assert.Less(t, lines[len(lines)-1].Time, 200+LeadIn)
}

func TestGenerateErrors(t *testing.T) {
	_, err := Generate("words here", 0)
	assert.ErrorIs(t, err, ErrPrecondition)

	_, err = Generate("words here", -3)
	assert.ErrorIs(t, err, ErrPrecondition)

	_, err = Generate("\n \n", 100)
	assert.ErrorIs(t, err, ErrNoWords)
}

func TestDocument(t *testing.T) {
	doc, err := Document("hello world", 30)
	require.NoError(t, err)
	assert.True(t, doc.IsSynced())
	assert.Equal(t, "autosync", doc.Meta["by"])
}
