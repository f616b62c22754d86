package tracker

import "lyricsync/pkg/lrc"

// Cursor remembers the last emitted line index so unchanged indices are
// not re-emitted.
type Cursor struct {
	index int
	valid bool
}

// Advance returns the active line at t and whether it differs from the
// previous call.
func (c *Cursor) Advance(lines []lrc.Line, t float64) (int, bool) {
	idx := lrc.ActiveIndex(lines, t)
	if c.valid && idx == c.index {
		return idx, false
	}
	c.index = idx
	c.valid = true
	return idx, true
}

// Reset forces the next Advance to report a change.
func (c *Cursor) Reset() {
	c.valid = false
}
