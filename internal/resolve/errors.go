package resolve

import (
	"errors"
	"fmt"
	"strings"

	"lyricsync/pkg/kugou"
	"lyricsync/pkg/lrclib"
	"lyricsync/pkg/netease"
	"lyricsync/pkg/plaintext"
)

var (
	// ErrNetwork covers timeouts, DNS and HTTP failures of a single tier.
	ErrNetwork = errors.New("resolve: network failure")
	// ErrParse covers malformed JSON or LRC from a single tier.
	ErrParse = errors.New("resolve: parse failure")
	// ErrNotFound is returned once every tier has been exhausted.
	ErrNotFound = errors.New("resolve: no lyrics found")
)

// AmbiguousError carries the ranked search candidates when more than one
// is equally plausible.
type AmbiguousError struct {
	Candidates []lrclib.Candidate
}

func (e *AmbiguousError) Error() string {
	names := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		names = append(names, fmt.Sprintf("%s - %s", c.ArtistName, c.TrackName))
	}
	return fmt.Sprintf("resolve: %d plausible matches: %s", len(e.Candidates), strings.Join(names, "; "))
}

func isMiss(err error) bool {
	return errors.Is(err, lrclib.ErrNotFound) ||
		errors.Is(err, netease.ErrNotFound) ||
		errors.Is(err, kugou.ErrNotFound) ||
		errors.Is(err, plaintext.ErrNotFound) ||
		errors.Is(err, ErrNotFound)
}

func isMalformed(err error) bool {
	return errors.Is(err, lrclib.ErrMalformed) ||
		errors.Is(err, netease.ErrMalformed) ||
		errors.Is(err, kugou.ErrMalformed) ||
		errors.Is(err, plaintext.ErrMalformed) ||
		errors.Is(err, ErrParse)
}

// classify maps a tier error into the taxonomy. nil means the tier
// answered but had nothing.
func classify(err error) error {
	switch {
	case err == nil, isMiss(err):
		return nil
	case isMalformed(err):
		return fmt.Errorf("%w: %v", ErrParse, err)
	default:
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
}
