package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrNotASong = errors.New("ai: media title is not a song")

var logger = log.With().Str("component", "ai-cleaner").Logger()

type songInfo struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	IsSong bool   `json:"is_song"`
}

func formatQuerySong(artist, title string) string {
	return fmt.Sprintf(`请精确地按照以下JSON格式提取歌曲信息: {"is_song": true, "title": "歌曲标题", "artist": "演唱者"}。输入是播放器上报的媒体标题和艺术家，其中可能混有 "(Official Video)"、"feat."、"Remastered" 等噪声。如果包含歌曲信息，请返回符合格式的JSON；否则，返回{"is_song": false}。切记不要任何markdown格式。 艺术家：%s 媒体标题：%s`, artist, title)
}

// Cleaner asks a model to turn noisy player metadata into a clean
// (artist, title) pair for lyric lookups.
type Cleaner struct {
	client     AiInterface
	maxRetries int
	retryDelay time.Duration
}

func NewCleaner(client AiInterface) *Cleaner {
	return &Cleaner{client: client, maxRetries: 3, retryDelay: time.Second}
}

// Clean returns the cleaned artist and title. Empty fields in the model's
// answer fall back to the input.
func (c *Cleaner) Clean(ctx context.Context, artist, title string) (string, string, error) {
	var raw string
	var err error
	for i := range c.maxRetries {
		raw, err = c.client.HandleText(ctx, formatQuerySong(artist, title))
		if err == nil {
			break
		}
		logger.Warn().Err(err).Str("model", c.client.Name()).Int("attempt", i+1).Msg("Failed to query model")
		select {
		case <-ctx.Done():
			return artist, title, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	if err != nil {
		return artist, title, fmt.Errorf("failed to query %s after %d attempts: %w", c.client.Name(), c.maxRetries, err)
	}

	var info songInfo
	if err := json.Unmarshal([]byte(stripFence(raw)), &info); err != nil {
		return artist, title, fmt.Errorf("failed to parse %s response: %w", c.client.Name(), err)
	}
	if !info.IsSong {
		return artist, title, ErrNotASong
	}

	cleanArtist, cleanTitle := strings.TrimSpace(info.Artist), strings.TrimSpace(info.Title)
	if cleanArtist == "" {
		cleanArtist = artist
	}
	if cleanTitle == "" {
		cleanTitle = title
	}
	logger.Debug().Str("artist", cleanArtist).Str("title", cleanTitle).Msg("Model returned song info")
	return cleanArtist, cleanTitle, nil
}

// 模型偶尔仍会包一层 ```json
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
