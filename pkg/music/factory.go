package music

import (
	"fmt"
	"strings"

	"lyricsync/pkg/kugou"
	"lyricsync/pkg/netease"
)

// Settings carries what the provider constructors need.
type Settings struct {
	NeteaseBaseURL string
	NeteaseCookie  string
	KugouLyricsURL string
	KugouSongURL   string
}

// CreateProvider 创建音乐提供商客户端
func CreateProvider(provider Provider, s Settings) (MusicAPI, error) {
	switch provider {
	case ProviderNetEase:
		logger.Info().Msg("Creating NetEase music client")
		return netease.NewClient(s.NeteaseBaseURL, s.NeteaseCookie), nil
	case ProviderKugou:
		logger.Info().Msg("Creating Kugou music client")
		return kugou.NewClient(s.KugouLyricsURL, s.KugouSongURL), nil
	default:
		return nil, fmt.Errorf("unknown music provider: %s", provider)
	}
}

// CreateManager builds a manager over the named providers, in order.
func CreateManager(names []string, s Settings) (*Manager, error) {
	var providers []MusicAPI
	for _, name := range names {
		p, err := GetProviderByName(name)
		if err != nil {
			logger.Warn().Err(err).Msg("Skipping provider")
			continue
		}
		api, err := CreateProvider(p, s)
		if err != nil {
			logger.Warn().Err(err).Str("provider", name).Msg("Failed to create provider")
			continue
		}
		providers = append(providers, api)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no music providers available")
	}
	return NewManager(providers), nil
}

// GetProviderByName 根据名称获取提供商
func GetProviderByName(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "netease", "网易云", "163":
		return ProviderNetEase, nil
	case "kugou", "酷狗":
		return ProviderKugou, nil
	default:
		return "", fmt.Errorf("unknown provider name: %s", name)
	}
}
