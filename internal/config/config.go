package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSocketPath = "/tmp/lyricsync.sock"
	envPrefix         = "LYRICSYNC"
)

var logger = log.With().Str("component", "config").Logger()

func xdgDir(envName, fallback string) string {
	// 优先使用 XDG 环境变量
	if dir := os.Getenv(envName); dir != "" {
		return filepath.Join(dir, "lyricsync")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// 获取不到用户主目录，回退到当前目录
		return "lyricsync_" + filepath.Base(fallback)
	}
	return filepath.Join(homeDir, fallback, "lyricsync")
}

func getDefaultCacheDir() string { return xdgDir("XDG_CACHE_HOME", ".cache") }

func getDefaultDataDir() string { return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")) }

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "lyricsync", "config.toml")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		logger.Warn().Err(err).Msg("Cannot get user home directory")
		return "config.toml"
	}
	return filepath.Join(homeDir, ".config", "lyricsync", "config.toml")
}

// TomlConfig TOML配置文件结构，时间一律写成 "1s"、"100ms" 这样的字符串
type TomlConfig struct {
	App struct {
		SocketPath             string `toml:"socket_path"`
		CacheDir               string `toml:"cache_dir"`
		DataDir                string `toml:"data_dir"`
		LogLevel               string `toml:"log_level"`
		Player                 string `toml:"player"`
		PlayerName             string `toml:"player_name"`
		PollIntervalForeground string `toml:"poll_interval_foreground"`
		PollIntervalBackground string `toml:"poll_interval_background"`
		LineInterval           string `toml:"line_interval"`
		HeartbeatInterval      string `toml:"heartbeat_interval"`
		ResolveTimeout         string `toml:"resolve_timeout"`
		StalenessWindow        string `toml:"staleness_window"`
		CacheTTL               string `toml:"cache_ttl"`
		Debounce               string `toml:"debounce"`
		SeekThreshold          string `toml:"seek_threshold"`
		SignalProcess          string `toml:"signal_process"`
		SignalNumber           int    `toml:"signal_number"`
	} `toml:"app"`

	Spotify struct {
		ClientID     string   `toml:"client_id"`
		ClientSecret string   `toml:"client_secret"`
		RedirectURL  string   `toml:"redirect_url"`
		AuthURL      string   `toml:"auth_url"`
		TokenURL     string   `toml:"token_url"`
		APIBaseURL   string   `toml:"api_base_url"`
		Scopes       []string `toml:"scopes"`
	} `toml:"spotify"`

	Lyrics struct {
		LRCLibBaseURL      string   `toml:"lrclib_base_url"`
		Providers          []string `toml:"providers"`
		NeteaseBaseURL     string   `toml:"netease_base_url"`
		NeteaseCookie      string   `toml:"netease_cookie"`
		KugouLyricsURL     string   `toml:"kugou_lyrics_url"`
		KugouSongURL       string   `toml:"kugou_song_url"`
		PlaintextSearchURL string   `toml:"plaintext_search_url"`
		PlaintextToken     string   `toml:"plaintext_token"`
		UserAgent          string   `toml:"user_agent"`
		RequestsPerSecond  float64  `toml:"requests_per_second"`
		Burst              int      `toml:"burst"`
		BreakerThreshold   int      `toml:"breaker_threshold"`
		BreakerCooldown    string   `toml:"breaker_cooldown"`
		RequestTimeout     string   `toml:"request_timeout"`
	} `toml:"lyrics"`

	AI struct {
		Enabled    bool   `toml:"enabled"`
		ModuleName string `toml:"module_name"`
		APIKey     string `toml:"api_key"`
		BaseURL    string `toml:"base_url"` // for OpenAI
	} `toml:"ai"`

	Redis struct {
		Enabled  bool   `toml:"enabled"`
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
	} `toml:"redis"`

	HTTP struct {
		Listen            string   `toml:"listen"`
		RequestsPerMinute int      `toml:"requests_per_minute"`
		AllowedOrigins    []string `toml:"allowed_origins"`
	} `toml:"http"`

	Translate struct {
		Enabled   bool   `toml:"enabled"`
		SecretID  string `toml:"secret_id"`
		SecretKey string `toml:"secret_key"`
		Region    string `toml:"region"`
		Target    string `toml:"target"`
		ProjectID int64  `toml:"project_id"`
	} `toml:"translate"`
}

// EnvConfig 环境变量覆盖，前缀 LYRICSYNC_
type EnvConfig struct {
	ClientID       string `envconfig:"CLIENT_ID"`
	ClientSecret   string `envconfig:"CLIENT_SECRET"`
	RedisAddr      string `envconfig:"REDIS_ADDR"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	AIKey          string `envconfig:"AI_API_KEY"`
	TencentID      string `envconfig:"TENCENT_SECRET_ID"`
	TencentKey     string `envconfig:"TENCENT_SECRET_KEY"`
	PlaintextToken string `envconfig:"PLAINTEXT_TOKEN"`
	Listen         string `envconfig:"LISTEN"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
	Player         string `envconfig:"PLAYER"`
}

// AppConfig 应用配置
type AppConfig struct {
	SocketPath             string
	CacheDir               string
	DataDir                string
	LogLevel               string
	Player                 string // "playerctl" 或 "spotify"
	PlayerName             string // playerctl --player
	PollIntervalForeground time.Duration
	PollIntervalBackground time.Duration
	LineInterval           time.Duration
	HeartbeatInterval      time.Duration
	ResolveTimeout         time.Duration
	StalenessWindow        time.Duration
	CacheTTL               time.Duration
	Debounce               time.Duration
	SeekThreshold          time.Duration
	SignalProcess          string
	SignalNumber           int
}

// SpotifyConfig 播放器状态 API 与 OAuth 配置
type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	Scopes       []string
}

// LyricsConfig 歌词源配置
type LyricsConfig struct {
	LRCLibBaseURL      string
	Providers          []string
	NeteaseBaseURL     string
	NeteaseCookie      string
	KugouLyricsURL     string
	KugouSongURL       string
	PlaintextSearchURL string
	PlaintextToken     string
	UserAgent          string
	RequestsPerSecond  float64
	Burst              int
	BreakerThreshold   int
	BreakerCooldown    time.Duration
	RequestTimeout     time.Duration
}

// AIConfig AI配置
type AIConfig struct {
	Enabled    bool
	ModuleName string
	APIKey     string
	BaseURL    string
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// HTTPConfig 本地控制接口
type HTTPConfig struct {
	Listen            string
	RequestsPerMinute int
	AllowedOrigins    []string
}

// TranslateConfig 腾讯云机器翻译
type TranslateConfig struct {
	Enabled   bool
	SecretID  string
	SecretKey string
	Region    string
	Target    string
	ProjectID int64
}

// Config 主配置结构
type Config struct {
	App       AppConfig
	Spotify   SpotifyConfig
	Lyrics    LyricsConfig
	AI        AIConfig
	Redis     RedisConfig
	HTTP      HTTPConfig
	Translate TranslateConfig
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		App: AppConfig{
			SocketPath:             DefaultSocketPath,
			CacheDir:               getDefaultCacheDir(),
			DataDir:                getDefaultDataDir(),
			LogLevel:               "info",
			Player:                 "playerctl",
			PollIntervalForeground: time.Second,
			PollIntervalBackground: 2 * time.Second,
			LineInterval:           100 * time.Millisecond,
			HeartbeatInterval:      10 * time.Second,
			ResolveTimeout:         time.Minute,
			StalenessWindow:        45 * time.Second,
			CacheTTL:               30 * 24 * time.Hour,
			Debounce:               100 * time.Millisecond,
			SeekThreshold:          2 * time.Second,
			SignalProcess:          "i3blocks",
			SignalNumber:           0,
		},
		Spotify: SpotifyConfig{
			RedirectURL: "http://127.0.0.1:8765/auth/callback",
			AuthURL:     "https://accounts.spotify.com/authorize",
			TokenURL:    "https://accounts.spotify.com/api/token",
			APIBaseURL:  "https://api.spotify.com/v1",
			Scopes:      []string{"user-read-currently-playing", "user-read-playback-state"},
		},
		Lyrics: LyricsConfig{
			LRCLibBaseURL:     "https://lrclib.net/api",
			Providers:         []string{"netease", "kugou"},
			UserAgent:         "lyricsync/1.0",
			RequestsPerSecond: 2,
			Burst:             4,
			BreakerThreshold:  5,
			BreakerCooldown:   2 * time.Minute,
			RequestTimeout:    10 * time.Second,
		},
		AI: AIConfig{
			ModuleName: "gemini",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		HTTP: HTTPConfig{
			Listen:            "127.0.0.1:8765",
			RequestsPerMinute: 120,
			AllowedOrigins:    []string{"*"},
		},
		Translate: TranslateConfig{
			Region: "ap-guangzhou",
			Target: "zh",
		},
	}
}

// Load reads the TOML file at GetConfigPath, then .env and LYRICSYNC_*
// variables. Problems are logged and the defaults kept.
func Load() *Config {
	cfg, err := LoadFrom(GetConfigPath())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load config file, using defaults")
		cfg = Default()
		applyEnv(cfg)
	}
	return cfg
}

// LoadFrom is Load with an explicit file path. A missing file is not an error.
func LoadFrom(path string) (*Config, error) {
	tomlConfig := &TomlConfig{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info().Str("path", path).Msg("Config file not found, using defaults")
	} else if _, err := toml.DecodeFile(path, tomlConfig); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	} else {
		logger.Info().Str("path", path).Msg("Loaded config")
	}

	cfg := Default()
	applyToml(cfg, tomlConfig)
	applyEnv(cfg)
	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, raw, name string) {
	if raw == "" {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn().Str("key", name).Str("value", raw).Msg("Invalid duration format, using default")
		return
	}
	*dst = d
}

func applyToml(cfg *Config, t *TomlConfig) {
	setString(&cfg.App.SocketPath, t.App.SocketPath)
	setString(&cfg.App.CacheDir, t.App.CacheDir)
	setString(&cfg.App.DataDir, t.App.DataDir)
	setString(&cfg.App.LogLevel, t.App.LogLevel)
	setString(&cfg.App.Player, t.App.Player)
	setString(&cfg.App.PlayerName, t.App.PlayerName)
	setDuration(&cfg.App.PollIntervalForeground, t.App.PollIntervalForeground, "app.poll_interval_foreground")
	setDuration(&cfg.App.PollIntervalBackground, t.App.PollIntervalBackground, "app.poll_interval_background")
	setDuration(&cfg.App.LineInterval, t.App.LineInterval, "app.line_interval")
	setDuration(&cfg.App.HeartbeatInterval, t.App.HeartbeatInterval, "app.heartbeat_interval")
	setDuration(&cfg.App.ResolveTimeout, t.App.ResolveTimeout, "app.resolve_timeout")
	setDuration(&cfg.App.StalenessWindow, t.App.StalenessWindow, "app.staleness_window")
	setDuration(&cfg.App.CacheTTL, t.App.CacheTTL, "app.cache_ttl")
	setDuration(&cfg.App.Debounce, t.App.Debounce, "app.debounce")
	setDuration(&cfg.App.SeekThreshold, t.App.SeekThreshold, "app.seek_threshold")
	setString(&cfg.App.SignalProcess, t.App.SignalProcess)
	if t.App.SignalNumber != 0 {
		cfg.App.SignalNumber = t.App.SignalNumber
	}

	setString(&cfg.Spotify.ClientID, t.Spotify.ClientID)
	setString(&cfg.Spotify.ClientSecret, t.Spotify.ClientSecret)
	setString(&cfg.Spotify.RedirectURL, t.Spotify.RedirectURL)
	setString(&cfg.Spotify.AuthURL, t.Spotify.AuthURL)
	setString(&cfg.Spotify.TokenURL, t.Spotify.TokenURL)
	setString(&cfg.Spotify.APIBaseURL, t.Spotify.APIBaseURL)
	if len(t.Spotify.Scopes) > 0 {
		cfg.Spotify.Scopes = t.Spotify.Scopes
	}

	setString(&cfg.Lyrics.LRCLibBaseURL, t.Lyrics.LRCLibBaseURL)
	if len(t.Lyrics.Providers) > 0 {
		cfg.Lyrics.Providers = t.Lyrics.Providers
	}
	setString(&cfg.Lyrics.NeteaseBaseURL, t.Lyrics.NeteaseBaseURL)
	setString(&cfg.Lyrics.NeteaseCookie, t.Lyrics.NeteaseCookie)
	setString(&cfg.Lyrics.KugouLyricsURL, t.Lyrics.KugouLyricsURL)
	setString(&cfg.Lyrics.KugouSongURL, t.Lyrics.KugouSongURL)
	setString(&cfg.Lyrics.PlaintextSearchURL, t.Lyrics.PlaintextSearchURL)
	setString(&cfg.Lyrics.PlaintextToken, t.Lyrics.PlaintextToken)
	setString(&cfg.Lyrics.UserAgent, t.Lyrics.UserAgent)
	if t.Lyrics.RequestsPerSecond > 0 {
		cfg.Lyrics.RequestsPerSecond = t.Lyrics.RequestsPerSecond
	}
	if t.Lyrics.Burst > 0 {
		cfg.Lyrics.Burst = t.Lyrics.Burst
	}
	if t.Lyrics.BreakerThreshold > 0 {
		cfg.Lyrics.BreakerThreshold = t.Lyrics.BreakerThreshold
	}
	setDuration(&cfg.Lyrics.BreakerCooldown, t.Lyrics.BreakerCooldown, "lyrics.breaker_cooldown")
	setDuration(&cfg.Lyrics.RequestTimeout, t.Lyrics.RequestTimeout, "lyrics.request_timeout")

	cfg.AI.Enabled = t.AI.Enabled
	setString(&cfg.AI.ModuleName, t.AI.ModuleName)
	setString(&cfg.AI.APIKey, t.AI.APIKey)
	setString(&cfg.AI.BaseURL, t.AI.BaseURL)

	cfg.Redis.Enabled = t.Redis.Enabled
	setString(&cfg.Redis.Addr, t.Redis.Addr)
	setString(&cfg.Redis.Password, t.Redis.Password)
	if t.Redis.DB != 0 {
		cfg.Redis.DB = t.Redis.DB
	}

	setString(&cfg.HTTP.Listen, t.HTTP.Listen)
	if t.HTTP.RequestsPerMinute > 0 {
		cfg.HTTP.RequestsPerMinute = t.HTTP.RequestsPerMinute
	}
	if len(t.HTTP.AllowedOrigins) > 0 {
		cfg.HTTP.AllowedOrigins = t.HTTP.AllowedOrigins
	}

	cfg.Translate.Enabled = t.Translate.Enabled
	setString(&cfg.Translate.SecretID, t.Translate.SecretID)
	setString(&cfg.Translate.SecretKey, t.Translate.SecretKey)
	setString(&cfg.Translate.Region, t.Translate.Region)
	setString(&cfg.Translate.Target, t.Translate.Target)
	if t.Translate.ProjectID != 0 {
		cfg.Translate.ProjectID = t.Translate.ProjectID
	}
}

func applyEnv(cfg *Config) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Msg("Error loading .env")
	}

	var env EnvConfig
	if err := envconfig.Process(envPrefix, &env); err != nil {
		logger.Warn().Err(err).Msg("Unable to process environment overrides")
		return
	}
	setString(&cfg.Spotify.ClientID, env.ClientID)
	setString(&cfg.Spotify.ClientSecret, env.ClientSecret)
	setString(&cfg.Redis.Addr, env.RedisAddr)
	setString(&cfg.Redis.Password, env.RedisPassword)
	setString(&cfg.AI.APIKey, env.AIKey)
	setString(&cfg.Translate.SecretID, env.TencentID)
	setString(&cfg.Translate.SecretKey, env.TencentKey)
	setString(&cfg.Lyrics.PlaintextToken, env.PlaintextToken)
	setString(&cfg.HTTP.Listen, env.Listen)
	setString(&cfg.App.LogLevel, env.LogLevel)
	setString(&cfg.App.Player, env.Player)
}

// Validate reports settings the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.App.PollIntervalForeground <= 0 || c.App.PollIntervalBackground <= 0 {
		problems = append(problems, "poll intervals must be positive")
	}
	if c.App.LineInterval <= 0 {
		problems = append(problems, "app.line_interval must be positive")
	}
	if c.App.CacheTTL <= 0 {
		problems = append(problems, "app.cache_ttl must be positive")
	}
	switch strings.ToLower(c.App.Player) {
	case "playerctl":
	case "spotify":
		if c.Spotify.ClientID == "" {
			problems = append(problems, "spotify.client_id is required when app.player is spotify")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown app.player %q", c.App.Player))
	}
	if c.AI.Enabled && c.AI.APIKey == "" {
		problems = append(problems, "ai.api_key is required when ai.enabled is true")
	}
	if c.Translate.Enabled && (c.Translate.SecretID == "" || c.Translate.SecretKey == "") {
		problems = append(problems, "translate.secret_id and translate.secret_key are required when translate.enabled is true")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// CredentialPath is where the bbolt credential store lives.
func (c *Config) CredentialPath() string {
	return filepath.Join(c.App.DataDir, "credentials.db")
}

// LyricsCacheDir is the directory of cached .lrc files.
func (c *Config) LyricsCacheDir() string {
	return filepath.Join(c.App.CacheDir, "lyrics")
}
