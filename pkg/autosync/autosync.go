// Package autosync derives approximate line timestamps for untimed lyrics.
//
// Timing is distributed by word share over the full track duration. The first
// line is anchored at LeadIn and every later line starts at LeadIn plus the
// summed durations of the lines before it, so the lead-in is not taken back
// from later lines: the last line ends at duration+LeadIn.
package autosync

import (
	"errors"
	"strings"

	"lyricsync/pkg/lrc"
)

// LeadIn keeps the first line from showing before the music starts.
const LeadIn = 1.5

var (
	ErrPrecondition = errors.New("autosync: track duration must be positive")
	ErrNoWords      = errors.New("autosync: no words to time")
)

// Lines splits text into non-blank, trimmed lines.
func Lines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Generate returns one timed line per non-blank input line.
func Generate(text string, duration float64) ([]lrc.Line, error) {
	if duration <= 0 {
		return nil, ErrPrecondition
	}

	lines := Lines(text)
	counts := make([]int, len(lines))
	total := 0
	for i, l := range lines {
		counts[i] = len(strings.Fields(l))
		total += counts[i]
	}
	if total == 0 {
		return nil, ErrNoWords
	}

	out := make([]lrc.Line, len(lines))
	at := LeadIn
	for i, l := range lines {
		out[i] = lrc.Line{Time: at, Text: l}
		at += duration * float64(counts[i]) / float64(total)
	}
	return out, nil
}

// Document is Generate wrapped into a synced lrc.Document.
func Document(text string, duration float64) (lrc.Document, error) {
	lines, err := Generate(text, duration)
	if err != nil {
		return lrc.Document{}, err
	}
	doc := lrc.Synced(lines)
	doc.Meta = map[string]string{"by": "autosync"}
	return doc, nil
}
