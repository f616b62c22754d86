package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"lyricsync/internal/auth"
	"lyricsync/internal/cache"
	"lyricsync/internal/config"
	"lyricsync/internal/httpapi"
	"lyricsync/internal/ipc"
	"lyricsync/internal/metrics"
	"lyricsync/internal/notify"
	"lyricsync/internal/output"
	"lyricsync/internal/player"
	"lyricsync/internal/resolve"
	"lyricsync/internal/tracker"
	"lyricsync/internal/translate"
	"lyricsync/pkg/ai"
	"lyricsync/pkg/lrclib"
	"lyricsync/pkg/music"
	"lyricsync/pkg/plaintext"
	"lyricsync/pkg/redis"
)

// App wires configuration into an Engine and its surroundings.
type App struct {
	cfg       *config.Config
	engine    *Engine
	cache     *cache.Store
	ipcServer *ipc.Server
	signaller *notify.Signaller
	http      *httpapi.Server

	closers []func() error
}

// setupLogging 设置 zerolog 的全局配置
func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	setupLogging(cfg.App.LogLevel)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	store, err := cache.New(cfg.LyricsCacheDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open lyric cache: %w", err)
	}
	a.cache = store
	log.Info().Str("cache_dir", store.Dir()).Msg("Lyrics cache directory")

	var rc *redis.Client
	if cfg.Redis.Enabled {
		rc, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			// redis 只是镜像，连不上不影响主流程
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, mirrors disabled")
			rc = nil
		} else {
			a.closers = append(a.closers, rc.Close)
		}
	}

	credentials, err := a.buildAuth(rc)
	if err != nil {
		return nil, err
	}

	source, err := a.buildSource(credentials)
	if err != nil {
		return nil, err
	}

	pipeline, err := a.buildPipeline(ctx)
	if err != nil {
		return nil, err
	}

	var translator translate.Translator
	if cfg.Translate.Enabled {
		tr, err := translate.NewTencent(cfg.Translate.SecretID, cfg.Translate.SecretKey, cfg.Translate.Region, cfg.Translate.Target, cfg.Translate.ProjectID)
		if err != nil {
			return nil, err
		}
		translator = tr
	}

	a.ipcServer = ipc.NewServer(cfg.App.SocketPath, filepath.Join(cfg.App.CacheDir, "current.json"))
	publishers := []output.Publisher{a.ipcServer}
	if rc != nil {
		publishers = append(publishers, NewRedisPublisher(rc, cfg.App.StalenessWindow))
	}
	if cfg.App.SignalNumber > 0 && cfg.App.SignalProcess != "" {
		a.signaller = notify.NewSignaller(cfg.App.SignalProcess, cfg.App.SignalNumber)
		publishers = append(publishers, a.signaller)
	}

	a.engine = NewEngine(Deps{
		Source: source,
		Tracker: tracker.New(
			tracker.WithDebounce(cfg.App.Debounce),
			tracker.WithSeekThreshold(cfg.App.SeekThreshold),
		),
		Resolver:       pipeline,
		Translator:     translator,
		Publishers:     publishers,
		PollForeground: cfg.App.PollIntervalForeground,
		PollBackground: cfg.App.PollIntervalBackground,
		LineInterval:   cfg.App.LineInterval,
		Heartbeat:      cfg.App.HeartbeatInterval,
		ResolveTimeout: cfg.App.ResolveTimeout,
	})

	if cfg.HTTP.Listen != "" {
		var authn httpapi.Authenticator
		if credentials != nil {
			authn = credentials
		}
		a.http = httpapi.New(a.engine, authn, httpapi.Options{
			RequestsPerMinute: cfg.HTTP.RequestsPerMinute,
			AllowedOrigins:    cfg.HTTP.AllowedOrigins,
			StalenessWindow:   cfg.App.StalenessWindow,
		})
	}

	ok = true
	return a, nil
}

func (a *App) buildAuth(rc *redis.Client) (*auth.Manager, error) {
	sp := a.cfg.Spotify
	if sp.ClientID == "" {
		return nil, nil
	}
	bolt, err := auth.OpenBoltStore(a.cfg.CredentialPath())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, bolt.Close)

	opts := []auth.Option{}
	if rc != nil {
		opts = append(opts, auth.WithMirror(auth.NewRedisMirror(rc)))
	}
	return auth.NewManager(bolt, &oauth2.Config{
		ClientID:     sp.ClientID,
		ClientSecret: sp.ClientSecret,
		RedirectURL:  sp.RedirectURL,
		Scopes:       sp.Scopes,
		Endpoint:     oauth2.Endpoint{AuthURL: sp.AuthURL, TokenURL: sp.TokenURL},
	}, opts...)
}

func (a *App) buildSource(credentials *auth.Manager) (player.Source, error) {
	switch strings.ToLower(a.cfg.App.Player) {
	case "spotify":
		if credentials == nil {
			return nil, errors.New("status api player requires spotify.client_id")
		}
		return player.NewStatusAPI(a.cfg.Spotify.APIBaseURL, credentials), nil
	default:
		return player.NewPlayerctl(a.cfg.App.PlayerName), nil
	}
}

func (a *App) buildPipeline(ctx context.Context) (*resolve.Pipeline, error) {
	lc := a.cfg.Lyrics
	src := resolve.Sources{
		Cache: a.cache,
		Timed: lrclib.NewClient(
			lrclib.WithBaseURL(lc.LRCLibBaseURL),
			lrclib.WithUserAgent(lc.UserAgent),
		),
	}

	if len(lc.Providers) > 0 {
		manager, err := music.CreateManager(lc.Providers, music.Settings{
			NeteaseBaseURL: lc.NeteaseBaseURL,
			NeteaseCookie:  lc.NeteaseCookie,
			KugouLyricsURL: lc.KugouLyricsURL,
			KugouSongURL:   lc.KugouSongURL,
		})
		if err != nil {
			return nil, err
		}
		src.Alternate = manager
	}
	if lc.PlaintextSearchURL != "" {
		src.Plain = plaintext.NewClient(lc.PlaintextSearchURL, lc.PlaintextToken, lc.UserAgent)
	}
	if a.cfg.AI.Enabled {
		client, err := ai.New(ctx, a.cfg.AI.ModuleName, a.cfg.AI.APIKey, a.cfg.AI.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create AI client: %w", err)
		}
		if c, ok := client.(interface{ Close() error }); ok {
			a.closers = append(a.closers, c.Close)
		}
		memo, err := ai.NewMemoCleaner(ai.NewCleaner(client), filepath.Join(a.cfg.App.CacheDir, "cleaned_titles.list"))
		if err != nil {
			return nil, err
		}
		src.Cleaner = memo
	}

	return resolve.New(src, resolve.Options{
		RequestsPerSecond: lc.RequestsPerSecond,
		Burst:             lc.Burst,
		BreakerThreshold:  lc.BreakerThreshold,
		BreakerCooldown:   lc.BreakerCooldown,
		TierTimeout:       lc.RequestTimeout,
	}), nil
}

// Engine exposes the orchestrator, mainly for tests.
func (a *App) Engine() *Engine { return a.engine }

// Run evicts stale cache entries, starts every surface and blocks until
// ctx is done.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	if n, err := a.cache.EvictExpired(a.cfg.App.CacheTTL); err != nil {
		log.Warn().Err(err).Msg("Cache eviction failed")
	} else {
		metrics.RecordEvictions(n)
		log.Info().Int("evicted", n).Int("remaining", a.cache.Len()).Msg("Lyric cache cleaned")
	}

	if err := a.ipcServer.Start(); err != nil {
		return fmt.Errorf("failed to start IPC server: %w", err)
	}
	defer a.ipcServer.Close()

	if a.signaller != nil {
		if err := a.signaller.Start(ctx); err != nil {
			return err
		}
		defer a.signaller.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.engine.Run(gctx) })
	if a.http != nil {
		g.Go(func() error { return a.http.ListenAndServe(gctx, a.cfg.HTTP.Listen) })
	}
	log.Info().Msg("lyricsync running")
	return g.Wait()
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Debug().Err(err).Msg("Close failed")
		}
	}
	a.closers = nil
}
