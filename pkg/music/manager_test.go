package music

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// mockProvider 模拟音乐提供商
type mockProvider struct {
	name       string
	searchFail bool
	lyricsFail bool
	lyrics     string
	calls      int
}

func (m *mockProvider) SearchSong(ctx context.Context, title, artist string) (string, error) {
	m.calls++
	if m.searchFail {
		return "", errors.New("search failed")
	}
	return "mock-song-id", nil
}

func (m *mockProvider) GetLyrics(ctx context.Context, songID string) (string, error) {
	if m.lyricsFail {
		return "", errors.New("lyrics failed")
	}
	if m.lyrics != "" {
		return m.lyrics, nil
	}
	return "[00:10.00]Test lyrics", nil
}

func (m *mockProvider) GetProviderName() string {
	return m.name
}

// infoProvider 只走 GetLyricsByInfo 的提供商
type infoProvider struct {
	mockProvider
	gotDuration float64
}

func (p *infoProvider) GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error) {
	p.gotDuration = duration
	return "[00:01.00]by info", nil
}

// TestGetLyricsByInfo 测试新的封装方法
func TestGetLyricsByInfo(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		manager := NewManager([]MusicAPI{&mockProvider{name: "TestProvider"}})
		lyrics, err := manager.GetLyricsByInfo(context.Background(), "Test Song", "Test Artist", 0)
		if err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
		if lyrics != "[00:10.00]Test lyrics" {
			t.Errorf("Expected '[00:10.00]Test lyrics', got '%s'", lyrics)
		}
	})

	// 测试搜索失败但有回退提供商的情况
	t.Run("FailoverSuccess", func(t *testing.T) {
		failProvider := &mockProvider{name: "FailProvider", searchFail: true}
		successProvider := &mockProvider{name: "SuccessProvider"}

		manager := NewManager([]MusicAPI{failProvider, successProvider})
		lyrics, err := manager.GetLyricsByInfo(context.Background(), "Test Song", "Test Artist", 0)
		if err != nil {
			t.Errorf("Expected success with failover, got error: %v", err)
		}
		if lyrics != "[00:10.00]Test lyrics" {
			t.Errorf("Expected '[00:10.00]Test lyrics', got '%s'", lyrics)
		}
	})

	t.Run("AllFail", func(t *testing.T) {
		manager := NewManager([]MusicAPI{
			&mockProvider{name: "FailProvider1", searchFail: true},
			&mockProvider{name: "FailProvider2", lyricsFail: true},
		})
		_, err := manager.GetLyricsByInfo(context.Background(), "Test Song", "Test Artist", 0)
		if err == nil {
			t.Error("Expected error when all providers fail, got success")
		}
	})

	t.Run("NoProviders", func(t *testing.T) {
		_, err := NewManager(nil).GetLyricsByInfo(context.Background(), "a", "b", 0)
		if !errors.Is(err, ErrNoProviders) {
			t.Errorf("Expected ErrNoProviders, got %v", err)
		}
	})

	t.Run("UsesInfoLookup", func(t *testing.T) {
		p := &infoProvider{mockProvider: mockProvider{name: "Info"}}
		lyrics, err := NewManager([]MusicAPI{p}).GetLyricsByInfo(context.Background(), "a", "b", 201.5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if lyrics != "[00:01.00]by info" || p.gotDuration != 201.5 || p.calls != 0 {
			t.Errorf("expected info lookup path, got %q duration=%v calls=%d", lyrics, p.gotDuration, p.calls)
		}
	})
}

func TestLookupAcceptRejectsAndFallsThrough(t *testing.T) {
	plain := &mockProvider{name: "Plain", lyrics: "just words"}
	timed := &mockProvider{name: "Timed"}

	name, lyrics, err := NewManager([]MusicAPI{plain, timed}).Lookup(context.Background(), "t", "a", 0,
		func(s string) bool { return strings.HasPrefix(s, "[") })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Timed" || lyrics != "[00:10.00]Test lyrics" {
		t.Errorf("got provider %q lyrics %q", name, lyrics)
	}
}

func TestLookupStopsOnCancelledContext(t *testing.T) {
	p := &mockProvider{name: "P"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewManager([]MusicAPI{p}).Lookup(ctx, "t", "a", 0, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p.calls != 0 {
		t.Errorf("provider should not be called, got %d calls", p.calls)
	}
}

// TestManagerInterfaceCompliance 测试Manager是否正确实现了接口
func TestManagerInterfaceCompliance(t *testing.T) {
	manager := NewManager([]MusicAPI{&mockProvider{name: "TestProvider"}})

	var _ MusicAPI = manager
	var _ MusicManager = manager

	name := manager.GetProviderName()
	expected := "Manager[Primary: TestProvider]"
	if name != expected {
		t.Errorf("Expected provider name '%s', got '%s'", expected, name)
	}
}

func TestGetProviderByName(t *testing.T) {
	for in, want := range map[string]Provider{"netease": ProviderNetEase, "网易云": ProviderNetEase, " Kugou ": ProviderKugou} {
		got, err := GetProviderByName(in)
		if err != nil || got != want {
			t.Errorf("GetProviderByName(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := GetProviderByName("qq"); err == nil {
		t.Error("expected error for unknown provider")
	}
}
