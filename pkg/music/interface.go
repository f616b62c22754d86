package music

import (
	"context"
)

// MusicAPI 音乐API通用接口
type MusicAPI interface {
	// SearchSong 搜索歌曲，返回歌曲ID
	SearchSong(ctx context.Context, title, artist string) (string, error)

	// GetLyrics 根据歌曲ID获取歌词
	GetLyrics(ctx context.Context, songID string) (string, error)

	// GetProviderName 获取音乐提供商名称
	GetProviderName() string
}

// InfoLookup is implemented by providers that can go from metadata to
// lyrics in one call, using the duration to pick among same-named songs.
type InfoLookup interface {
	GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error)
}

// MusicManager 音乐管理器接口（扩展接口，包含组合操作）
type MusicManager interface {
	MusicAPI
	InfoLookup
}
