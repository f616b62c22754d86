package netease

import (
	"context"
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

const DefaultBaseURL = "https://music.163.com"

var (
	ErrNotFound  = errors.New("netease: no matching song")
	ErrMalformed = errors.New("netease: malformed response")
)

var logger = log.With().Str("component", "netease").Logger()

// SearchResponse 网易云搜索API响应
type SearchResponse struct {
	Code   int `json:"code"`
	Result *struct {
		Songs []Song `json:"songs"`
	} `json:"result"`
}

type Song struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Duration int    `json:"duration"` // ms
	Artists  []struct {
		Name string `json:"name"`
	} `json:"artists"`
}

// LyricResponse 网易云歌词API响应
type LyricResponse struct {
	Code int `json:"code"`
	Lrc  *struct {
		Lyric string `json:"lyric"`
	} `json:"lrc"`
	Tlyric *struct {
		Lyric string `json:"lyric"`
	} `json:"tlyric"`
}

// Client 网易云音乐客户端
type Client struct {
	httpClient     *http.Client
	baseURL        string
	cookie         string
	requestTimeout time.Duration
	maxRetries     int
}

// NewClient 创建新的网易云音乐客户端
func NewClient(baseURL, cookie string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient:     &http.Client{Timeout: 5 * time.Second},
		baseURL:        strings.TrimRight(baseURL, "/"),
		cookie:         cookie,
		requestTimeout: 5 * time.Second,
		maxRetries:     2,
	}
}

// GetProviderName 获取提供商名称
func (c *Client) GetProviderName() string {
	return "NetEase Cloud Music"
}

// SearchSong 搜索歌曲。artist 可以为空
func (c *Client) SearchSong(ctx context.Context, title, artist string) (string, error) {
	keyword := title
	if artist != "" {
		keyword = title + " " + artist
	}
	searchURL := fmt.Sprintf("%s/api/search/get/web?s=%s&type=1&limit=30", c.baseURL, url.QueryEscape(keyword))
	logger.Debug().Str("url", searchURL).Msg("Searching for song")

	var searchResp SearchResponse
	if err := c.getJSON(ctx, searchURL, &searchResp); err != nil {
		return "", err
	}
	if searchResp.Result == nil {
		return "", fmt.Errorf("%w: missing result", ErrMalformed)
	}
	if len(searchResp.Result.Songs) == 0 {
		return "", ErrNotFound
	}

	songID := c.findBestMatch(searchResp.Result.Songs, artist, title)
	if songID == 0 {
		return "", fmt.Errorf("%w for '%s' by '%s'", ErrNotFound, title, artist)
	}
	return strconv.Itoa(songID), nil
}

// GetLyrics 获取歌词
func (c *Client) GetLyrics(ctx context.Context, songID string) (string, error) {
	lyricURL := fmt.Sprintf("%s/api/song/lyric?os=pc&id=%s&lv=-1&kv=-1&tv=-1", c.baseURL, url.QueryEscape(songID))
	logger.Debug().Str("url", lyricURL).Msg("Fetching lyrics")

	var lyricResp LyricResponse
	if err := c.getJSON(ctx, lyricURL, &lyricResp); err != nil {
		return "", err
	}
	if lyricResp.Lrc == nil {
		return "", fmt.Errorf("%w: missing lrc field", ErrMalformed)
	}
	if strings.TrimSpace(lyricResp.Lrc.Lyric) == "" {
		return "", ErrNotFound
	}
	return lyricResp.Lrc.Lyric, nil
}

// GetLyricsByInfo 搜索+获取歌词
func (c *Client) GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error) {
	id, err := c.SearchSong(ctx, title, artist)
	if err != nil {
		return "", err
	}
	return c.GetLyrics(ctx, id)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.doRequestWithRetry(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("netease: request failed with status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (c *Client) doRequestWithRetry(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(time.Duration(attempt*200) * time.Millisecond):
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Request failed")
			if req.Context().Err() != nil {
				break
			}
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("netease: server returned status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// findBestMatch 找到最佳匹配的歌曲
func (c *Client) findBestMatch(songs []Song, targetArtist, targetTitle string) int {
	for _, song := range songs {
		if !containsIgnoreCase(song.Name, targetTitle) {
			continue
		}
		if targetArtist == "" {
			return song.ID
		}
		// artists 可能有多个，只要一个满足就算
		for _, artist := range song.Artists {
			if containsIgnoreCase(artist.Name, targetArtist) {
				logger.Info().Str("song", song.Name).Str("artist", artist.Name).Int("id", song.ID).Msg("Found matching song")
				return song.ID
			}
		}
	}

	// 如果没有找到完全匹配的，返回第一个匹配标题的
	if containsIgnoreCase(songs[0].Name, targetTitle) {
		logger.Info().Str("song", songs[0].Name).Int("id", songs[0].ID).Msg("Using first title match")
		return songs[0].ID
	}
	return 0
}

// normalizeString 标准化字符串（转小写，去空格）
func normalizeString(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "")
}

// containsIgnoreCase 忽略大小写和空格的包含关系检查
func containsIgnoreCase(s1, s2 string) bool {
	norm1, norm2 := normalizeString(s1), normalizeString(s2)
	if norm1 == "" || norm2 == "" {
		return false
	}
	return strings.Contains(norm1, norm2) || strings.Contains(norm2, norm1)
}
