package cache

import (
	"encoding/hex"
	"errors"
	"hash/fnv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ErrInvalidKey = errors.New("cache: artist and title normalize to nothing")

// normalizePart folds diacritics, keeps only [A-Za-z0-9 ], lower-cases and
// collapses whitespace. Distinct inputs may share a result; they are treated
// as the same song.
func normalizePart(s string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(unicode.ToLower(r))
		case r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// maxKeyLen keeps "<key>.lrc" well under the usual 255 byte name limit.
const maxKeyLen = 200

// Key returns the canonical "artist - title" key. Keys longer than
// maxKeyLen are cut and suffixed with a hash of the full key.
func Key(artist, title string) (string, error) {
	a, t := normalizePart(artist), normalizePart(title)
	if a == "" && t == "" {
		return "", ErrInvalidKey
	}
	key := a + " - " + t
	if len(key) <= maxKeyLen {
		return key, nil
	}
	h := fnv.New64a()
	h.Write([]byte(key))
	sum := hex.EncodeToString(h.Sum(nil))
	// key 只含 ASCII，可以按字节截断
	return strings.TrimSpace(key[:maxKeyLen-len(sum)-1]) + "-" + sum, nil
}
