// Package lrc reads and writes line-timestamped lyric text.
package lrc

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Line 一行带时间戳的歌词
type Line struct {
	Time float64 // 时间戳（秒）
	Text string
}

// Kind tells which variant of a Document is active.
type Kind int

const (
	KindSynced Kind = iota
	KindPlain
)

func (k Kind) String() string {
	if k == KindPlain {
		return "plain"
	}
	return "synced"
}

// Document is either a sorted list of timed lines or a block of plain text.
type Document struct {
	Kind  Kind
	Lines []Line
	Text  string
	Meta  map[string]string
}

// Synced builds a synced document. lines must already be sorted.
func Synced(lines []Line) Document {
	return Document{Kind: KindSynced, Lines: lines}
}

// Plain builds an untimed document.
func Plain(text string) Document {
	return Document{Kind: KindPlain, Text: strings.TrimSpace(text)}
}

// IsEmpty reports whether the document carries no lyrics at all. Callers
// treat an empty document as "not found".
func (d Document) IsEmpty() bool {
	if d.Kind == KindPlain {
		return strings.TrimSpace(d.Text) == ""
	}
	return len(d.Lines) == 0
}

// IsSynced reports whether the document has usable timestamps.
func (d Document) IsSynced() bool {
	return d.Kind == KindSynced && len(d.Lines) > 0
}

// PlainText returns the lyric text without timestamps.
func (d Document) PlainText() string {
	if d.Kind == KindPlain {
		return d.Text
	}
	texts := make([]string, len(d.Lines))
	for i, l := range d.Lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, "\n")
}

// String serializes the document back to its raw form.
func (d Document) String() string {
	if d.Kind == KindPlain {
		return d.Text
	}
	return Serialize(d.Lines)
}

var (
	timeTagRe = regexp.MustCompile(`^\[(\d+):(\d{1,2})(?:\.(\d{1,3}))?\]`)
	metaTagRe = regexp.MustCompile(`^\[([a-zA-Z#]+):(.*)\]$`)
)

// fraction converts the digits after the dot by their count: one digit is
// tenths, two are centiseconds, three are milliseconds.
func fraction(digits string) float64 {
	if digits == "" {
		return 0
	}
	n, _ := strconv.Atoi(digits)
	return float64(n) / math.Pow10(len(digits))
}

// Parse reads LRC text. Each time tag on a line yields one Line sharing the
// line's text. Untagged lines continue the previous tagged line and are
// dropped when no tag has been seen yet or when they open with an unknown
// bracket tag. The result is stable-sorted by time.
func Parse(text string) Document {
	doc := Document{Kind: KindSynced}
	var (
		context []float64
		offset  float64
	)

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		var times []float64
		rest := line
		for {
			m := timeTagRe.FindStringSubmatch(rest)
			if m == nil {
				break
			}
			min, _ := strconv.Atoi(m[1])
			sec, _ := strconv.Atoi(m[2])
			times = append(times, float64(min*60+sec)+fraction(m[3]))
			rest = rest[len(m[0]):]
		}

		if len(times) == 0 {
			if m := metaTagRe.FindStringSubmatch(line); m != nil {
				key := strings.ToLower(m[1])
				value := strings.TrimSpace(m[2])
				if doc.Meta == nil {
					doc.Meta = make(map[string]string)
				}
				doc.Meta[key] = value
				if key == "offset" {
					if ms, err := strconv.Atoi(strings.TrimPrefix(value, "+")); err == nil {
						offset = float64(ms) / 1000
					}
				}
				continue
			}
			// [Chorus] 这类不认识的标签整行丢弃
			if context == nil || strings.HasPrefix(line, "[") {
				continue
			}
			times = context
			rest = line
		} else {
			context = times
		}

		lyric := strings.TrimSpace(rest)
		if lyric == "" {
			continue
		}
		for _, t := range times {
			doc.Lines = append(doc.Lines, Line{Time: t, Text: lyric})
		}
	}

	if offset != 0 {
		for i := range doc.Lines {
			doc.Lines[i].Time = math.Max(0, doc.Lines[i].Time-offset)
		}
	}

	sort.SliceStable(doc.Lines, func(i, j int) bool { return doc.Lines[i].Time < doc.Lines[j].Time })
	return doc
}

// FormatTimestamp renders seconds as mm:ss.xx.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	cs := int64(math.Round(seconds * 100))
	return fmt.Sprintf("%02d:%02d.%02d", cs/6000, (cs/100)%60, cs%100)
}

// Serialize writes one [mm:ss.xx]text line per Line.
func Serialize(lines []Line) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("[")
		b.WriteString(FormatTimestamp(l.Time))
		b.WriteString("]")
		b.WriteString(l.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// ActiveIndex returns the index of the last line whose timestamp is <= t,
// or -1 when t is before the first line.
func ActiveIndex(lines []Line, t float64) int {
	if len(lines) == 0 || t < lines[0].Time {
		return -1
	}

	// 二分查找
	left, right := 0, len(lines)-1
	result := -1
	for left <= right {
		mid := (left + right) / 2
		if lines[mid].Time <= t {
			result = mid
			left = mid + 1
		} else {
			right = mid - 1
		}
	}
	return result
}
