package kugou

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultLyricsBaseURL = "https://krcs.kugou.com"
	DefaultSongSearchURL = "http://msearchcdn.kugou.com/api/v3/search/song"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	// durationDeltaMs rejects songs whose length differs more than this.
	durationDeltaMs = 3000
)

var (
	ErrNotFound  = errors.New("kugou: no lyrics found")
	ErrMalformed = errors.New("kugou: malformed response")
)

var logger = log.With().Str("component", "kugou").Logger()

// Client talks to Kugou's song and lyric endpoints.
type Client struct {
	httpClient    *http.Client
	lyricsBaseURL string
	songSearchURL string
}

func NewClient(lyricsBaseURL, songSearchURL string) *Client {
	if lyricsBaseURL == "" {
		lyricsBaseURL = DefaultLyricsBaseURL
	}
	if songSearchURL == "" {
		songSearchURL = DefaultSongSearchURL
	}
	return &Client{
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		lyricsBaseURL: strings.TrimRight(lyricsBaseURL, "/"),
		songSearchURL: songSearchURL,
	}
}

func (c *Client) GetProviderName() string {
	return "Kugou"
}

// SearchSong resolves a song hash. The returned id encodes the hash and the
// keyword because the lyric search needs both.
func (c *Client) SearchSong(ctx context.Context, title, artist string) (string, error) {
	song, err := c.searchSong(ctx, title, artist, 0)
	if err != nil {
		return "", err
	}
	id := url.Values{}
	id.Set("hash", song.Hash)
	id.Set("keyword", keyword(title, artist))
	id.Set("duration", strconv.Itoa(song.Duration*1000))
	return id.Encode(), nil
}

// GetLyrics downloads the best lyric for an id produced by SearchSong.
func (c *Client) GetLyrics(ctx context.Context, songID string) (string, error) {
	id, err := url.ParseQuery(songID)
	if err != nil || id.Get("hash") == "" {
		return "", fmt.Errorf("kugou: invalid song id %q", songID)
	}
	durationMs, _ := strconv.Atoi(id.Get("duration"))
	return c.lyricsForHash(ctx, id.Get("hash"), id.Get("keyword"), "", "", durationMs)
}

// GetLyricsByInfo searches the song, then its lyrics.
func (c *Client) GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error) {
	durationMs := int(duration * 1000)
	song, err := c.searchSong(ctx, title, artist, durationMs)
	if err != nil {
		return "", err
	}
	return c.lyricsForHash(ctx, song.Hash, keyword(title, artist), title, artist, durationMs)
}

func keyword(title, artist string) string {
	if artist == "" {
		return title
	}
	return title + " " + artist
}

func (c *Client) searchSong(ctx context.Context, title, artist string, durationMs int) (*SongInfo, error) {
	params := url.Values{}
	params.Set("keyword", keyword(title, artist))
	params.Set("pagesize", "10")
	params.Set("page", "1")
	params.Set("plat", "0")
	params.Set("version", "9108")

	var resp SongSearchResponse
	if err := c.getJSON(ctx, c.songSearchURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Status != 1 || resp.Data == nil {
		return nil, fmt.Errorf("%w: song search status %d, errcode %d", ErrMalformed, resp.Status, resp.ErrCode)
	}

	songs := resp.Data.Info
	if durationMs > 0 {
		filtered := songs[:0]
		for _, s := range songs {
			if abs(s.Duration*1000-durationMs) <= durationDeltaMs {
				filtered = append(filtered, s)
			}
		}
		songs = filtered
	}

	best := SelectBestSong(songs, title, artist, durationMs)
	if best == nil {
		return nil, ErrNotFound
	}
	logger.Info().Str("song", best.SongName).Str("singer", best.SingerName).Msg("Found song")
	return best, nil
}

func (c *Client) lyricsForHash(ctx context.Context, hash, kw, title, artist string, durationMs int) (string, error) {
	params := url.Values{}
	params.Set("ver", "1")
	params.Set("man", "yes")
	params.Set("client", "mobi")
	params.Set("keyword", kw)
	params.Set("hash", hash)
	if durationMs > 0 {
		params.Set("duration", strconv.Itoa(durationMs))
	}

	var search LyricsSearchResponse
	if err := c.getJSON(ctx, c.lyricsBaseURL+"/search?"+params.Encode(), &search); err != nil {
		return "", err
	}
	if search.Status != 200 {
		return "", fmt.Errorf("%w: %s (code %d)", ErrMalformed, search.ErrMsg, search.ErrCode)
	}

	best := SelectBestCandidate(search.Candidates, title, artist, durationMs)
	if best == nil {
		return "", ErrNotFound
	}

	dl := url.Values{}
	dl.Set("ver", "1")
	dl.Set("client", "pc")
	dl.Set("id", best.ID)
	dl.Set("accesskey", best.AccessKey)
	dl.Set("fmt", "lrc")

	var download DownloadResponse
	if err := c.getJSON(ctx, c.lyricsBaseURL+"/download?"+dl.Encode(), &download); err != nil {
		return "", err
	}
	if download.Status != 200 {
		return "", fmt.Errorf("%w: %s (code %d)", ErrMalformed, download.Info, download.ErrorCode)
	}
	if download.Content == "" {
		return "", ErrNotFound
	}
	return decodeContent(download.Content)
}

// decodeContent base64-decodes a download payload and drops a leading BOM.
func decodeContent(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return strings.TrimPrefix(string(decoded), "\ufeff"), nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kugou: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kugou: API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// SelectBestSong scores songs by title, artist and duration match.
func SelectBestSong(songs []SongInfo, title, artist string, durationMs int) *SongInfo {
	var best *SongInfo
	bestScore := -1
	titleLower, artistLower := strings.ToLower(title), strings.ToLower(artist)

	for i := range songs {
		s := &songs[i]
		score := 0
		name := strings.ToLower(s.SongName)
		switch {
		case name == titleLower:
			score += 30
		case strings.Contains(name, titleLower) || strings.Contains(titleLower, name):
			score += 15
		default:
			continue
		}
		if artistLower != "" {
			singer := strings.ToLower(s.SingerName)
			if singer == artistLower {
				score += 25
			} else if strings.Contains(singer, artistLower) || strings.Contains(artistLower, singer) {
				score += 10
			}
		}
		if durationMs > 0 && s.Duration > 0 && abs(s.Duration*1000-durationMs) < 3000 {
			score += 20
		}
		if score > bestScore {
			bestScore = score
			best = s
		}
	}
	return best
}

// SelectBestCandidate prefers synced, well matching, official lyrics.
func SelectBestCandidate(candidates []LyricsCandidate, title, artist string, durationMs int) *LyricsCandidate {
	var best *LyricsCandidate
	bestScore := -1
	titleLower, artistLower := strings.ToLower(title), strings.ToLower(artist)

	for i := range candidates {
		c := &candidates[i]
		score := c.Score
		if c.KRCType == 1 {
			score += 20
		}
		if titleLower != "" && strings.EqualFold(c.Song, title) {
			score += 20
		}
		if artistLower != "" && strings.Contains(strings.ToLower(c.Singer), artistLower) {
			score += 10
		}
		if durationMs > 0 && c.Duration > 0 && abs(c.Duration-durationMs) < 3000 {
			score += 20
		}
		if strings.Contains(c.ProductFrom, "官方") {
			score += 5
		}
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
