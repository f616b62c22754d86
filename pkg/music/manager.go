package music

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Provider 音乐提供商类型
type Provider string

const (
	// ProviderNetEase 网易云音乐
	ProviderNetEase Provider = "netease"
	// ProviderKugou 酷狗音乐
	ProviderKugou Provider = "kugou"
)

var ErrNoProviders = errors.New("no music providers available")

var logger = log.With().Str("component", "music-manager").Logger()

// Manager 音乐API管理器，按顺序尝试每个提供商
type Manager struct {
	providers []MusicAPI
	primary   MusicAPI
}

// NewManager 创建新的音乐API管理器
func NewManager(providers []MusicAPI) *Manager {
	if len(providers) == 0 {
		logger.Warn().Msg("No music providers configured")
		return &Manager{}
	}

	primary := providers[0]
	logger.Info().
		Int("provider_count", len(providers)).
		Str("primary_provider", primary.GetProviderName()).
		Msg("Music API Manager initialized")

	return &Manager{
		providers: providers,
		primary:   primary,
	}
}

// SearchSong 搜索歌曲，支持多提供商回退
func (m *Manager) SearchSong(ctx context.Context, title, artist string) (string, error) {
	if len(m.providers) == 0 {
		return "", ErrNoProviders
	}

	var lastErr error
	for _, provider := range m.providers {
		songID, err := provider.SearchSong(ctx, title, artist)
		if err == nil {
			return songID, nil
		}
		logger.Warn().Str("provider", provider.GetProviderName()).Err(err).Msg("Provider search failed")
		lastErr = err
	}
	return "", fmt.Errorf("all providers failed, last error: %w", lastErr)
}

// GetLyrics 获取歌词，支持多提供商回退
func (m *Manager) GetLyrics(ctx context.Context, songID string) (string, error) {
	if len(m.providers) == 0 {
		return "", ErrNoProviders
	}

	var lastErr error
	for _, provider := range m.providers {
		lyrics, err := provider.GetLyrics(ctx, songID)
		if err == nil && strings.TrimSpace(lyrics) != "" {
			return lyrics, nil
		}
		if err == nil {
			err = errors.New("empty lyrics")
		}
		logger.Warn().Str("provider", provider.GetProviderName()).Err(err).Msg("Provider failed")
		lastErr = err
	}
	return "", fmt.Errorf("all providers failed, last error: %w", lastErr)
}

// GetLyricsByInfo 根据歌曲信息直接获取歌词（封装搜索+获取歌词）。
// accept decides whether a provider's text is usable; a rejected result
// moves on to the next provider. nil accepts any non-empty text.
func (m *Manager) GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error) {
	_, lyrics, err := m.Lookup(ctx, title, artist, duration, nil)
	return lyrics, err
}

// Lookup is GetLyricsByInfo that also reports which provider answered.
func (m *Manager) Lookup(ctx context.Context, title, artist string, duration float64, accept func(string) bool) (string, string, error) {
	if len(m.providers) == 0 {
		return "", "", ErrNoProviders
	}

	var lastErr error
	for i, provider := range m.providers {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}
		name := provider.GetProviderName()
		logger.Info().
			Str("title", title).
			Str("artist", artist).
			Float64("duration", duration).
			Str("provider", name).
			Int("attempt", i+1).
			Int("total_providers", len(m.providers)).
			Msg("Trying to get lyrics")

		lyrics, err := m.fetch(ctx, provider, title, artist, duration)
		if err == nil && strings.TrimSpace(lyrics) == "" {
			err = errors.New("empty lyrics")
		}
		if err == nil && accept != nil && !accept(lyrics) {
			err = errors.New("lyrics rejected")
		}
		if err != nil {
			logger.Warn().Str("provider", name).Err(err).Msg("Provider get lyrics failed")
			lastErr = err
			continue
		}

		logger.Info().Str("title", title).Str("artist", artist).Str("provider", name).Msg("Successfully got lyrics")
		return name, lyrics, nil
	}

	return "", "", fmt.Errorf("all providers failed to get lyrics for '%s - %s', last error: %w", title, artist, lastErr)
}

func (m *Manager) fetch(ctx context.Context, provider MusicAPI, title, artist string, duration float64) (string, error) {
	if lookup, ok := provider.(InfoLookup); ok {
		return lookup.GetLyricsByInfo(ctx, title, artist, duration)
	}
	songID, err := provider.SearchSong(ctx, title, artist)
	if err != nil {
		return "", err
	}
	return provider.GetLyrics(ctx, songID)
}

// GetProviderName 获取管理器名称（实现MusicAPI接口）
func (m *Manager) GetProviderName() string {
	if m.primary != nil {
		return fmt.Sprintf("Manager[Primary: %s]", m.primary.GetProviderName())
	}
	return "Manager[No Providers]"
}

// GetProviderNames 获取所有提供商名称
func (m *Manager) GetProviderNames() []string {
	names := make([]string, len(m.providers))
	for i, provider := range m.providers {
		names[i] = provider.GetProviderName()
	}
	return names
}
