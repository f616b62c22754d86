package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"lyricsync/internal/cache"
	"lyricsync/internal/metrics"
	"lyricsync/pkg/lrc"
	"lyricsync/pkg/lrclib"
	"lyricsync/pkg/plaintext"
)

var logger = log.With().Str("component", "resolver").Logger()

const (
	TierCache     = "cache"
	TierTimed     = "lrclib"
	TierAlternate = "alternate"
	TierSearch    = "search"
	TierPlain     = "plaintext"
)

// Kind 解析结果类型
type Kind int

const (
	KindSynced Kind = iota
	// KindPlain needs timing from autosync before display.
	KindPlain
	KindInstrumental
)

func (k Kind) String() string {
	switch k {
	case KindSynced:
		return "synced"
	case KindPlain:
		return "plain"
	case KindInstrumental:
		return "instrumental"
	default:
		return "unknown"
	}
}

// Query identifies the song to resolve. Duration is in seconds, 0 if unknown.
type Query struct {
	Artist   string
	Title    string
	Album    string
	Duration float64
}

// Result 解析结果
type Result struct {
	Kind     Kind
	Document lrc.Document // KindSynced
	Text     string       // KindPlain
	Duration float64      // KindPlain, seconds
	Source   string
	Cached   bool // served from the local cache
}

// Cache is the subset of the lyric store the pipeline uses.
type Cache interface {
	Get(artist, title string) (*cache.Record, error)
	Put(artist, title, raw string) (bool, error)
}

// TimedSource looks tracks up by metadata and by free-text search.
type TimedSource interface {
	Get(ctx context.Context, q lrclib.Query) (*lrclib.Track, error)
	Search(ctx context.Context, query string) ([]lrclib.Track, error)
	GetByID(ctx context.Context, id int) (*lrclib.Track, error)
}

// AlternateSource is an ordered set of unofficial timed-lyrics APIs.
type AlternateSource interface {
	Lookup(ctx context.Context, title, artist string, duration float64, accept func(string) bool) (string, string, error)
}

// PlainSource returns untimed lyrics text.
type PlainSource interface {
	GetLyrics(ctx context.Context, title, artist string) (string, error)
}

// Cleaner rewrites noisy player metadata for network lookups.
type Cleaner interface {
	Clean(ctx context.Context, artist, title string) (string, string, error)
}

// Sources 各层数据源，nil 表示跳过该层
type Sources struct {
	Cache     Cache
	Timed     TimedSource
	Alternate AlternateSource
	Plain     PlainSource
	Cleaner   Cleaner
}

// Options tune rate limiting and circuit breaking.
type Options struct {
	RequestsPerSecond float64
	Burst             int
	BreakerThreshold  int
	BreakerCooldown   time.Duration
	TierTimeout       time.Duration
	Now               func() time.Time
}

// Pipeline tries the cache and then each online tier in order.
type Pipeline struct {
	src      Sources
	limiter  *rate.Limiter
	breakers map[string]*Breaker
	timeout  time.Duration
}

func New(src Sources, opts Options) *Pipeline {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	if opts.TierTimeout <= 0 {
		opts.TierTimeout = 10 * time.Second
	}

	breakers := make(map[string]*Breaker)
	for _, tier := range []string{TierTimed, TierAlternate, TierSearch, TierPlain} {
		breakers[tier] = NewBreaker(tier, opts.BreakerThreshold, opts.BreakerCooldown, opts.Now)
	}

	return &Pipeline{
		src:      src,
		limiter:  rate.NewLimiter(limit, burst),
		breakers: breakers,
		timeout:  opts.TierTimeout,
	}
}

// Breaker exposes a tier's breaker, mainly for diagnostics.
func (p *Pipeline) Breaker(tier string) *Breaker {
	return p.breakers[tier]
}

// Resolve 按优先级解析歌词：缓存 -> 元数据查询 -> 备用源 -> 搜索 -> 纯文本。
// Returns ErrNotFound when every tier misses and *AmbiguousError when the
// search tier has several equally plausible candidates.
func (p *Pipeline) Resolve(ctx context.Context, q Query) (Result, error) {
	l := logger.With().Str("attempt", uuid.NewString()).Str("artist", q.Artist).Str("title", q.Title).Logger()

	if res, ok := p.fromCache(q, l); ok {
		return res, nil
	}

	netQ := q
	if p.src.Cleaner != nil {
		artist, title, err := p.src.Cleaner.Clean(ctx, q.Artist, q.Title)
		if err != nil {
			l.Debug().Err(err).Msg("Metadata cleaner failed, using raw metadata")
		} else {
			netQ.Artist, netQ.Title = artist, title
		}
	}

	var plainFallback string

	// 1. 按元数据精确查询
	if p.src.Timed != nil {
		var track *lrclib.Track
		err := p.runTier(ctx, TierTimed, l, func(ctx context.Context) error {
			var err error
			track, err = p.src.Timed.Get(ctx, lrclib.Query{Title: netQ.Title, Artist: netQ.Artist, Album: netQ.Album, Duration: netQ.Duration})
			return err
		})
		if err != nil {
			return Result{}, err
		}
		if track != nil {
			if track.Instrumental {
				l.Info().Msg("Track is instrumental")
				return Result{Kind: KindInstrumental, Source: TierTimed}, nil
			}
			if res, ok := p.commit(q, track.SyncedLyrics, TierTimed, l); ok {
				return res, nil
			}
			plainFallback = track.PlainLyrics
		}
	}

	// 2. 备用非官方源，只接受带时间轴的结果
	if p.src.Alternate != nil {
		var raw, provider string
		err := p.runTier(ctx, TierAlternate, l, func(ctx context.Context) error {
			var err error
			provider, raw, err = p.src.Alternate.Lookup(ctx, netQ.Title, netQ.Artist, netQ.Duration, func(s string) bool {
				return !lrc.Parse(s).IsEmpty()
			})
			return err
		})
		if err != nil {
			return Result{}, err
		}
		if raw != "" {
			if res, ok := p.commit(q, raw, provider, l); ok {
				return res, nil
			}
		}
	}

	// 3. 全文搜索
	if p.src.Timed != nil {
		var tracks []lrclib.Track
		err := p.runTier(ctx, TierSearch, l, func(ctx context.Context) error {
			var err error
			tracks, err = p.src.Timed.Search(ctx, strings.TrimSpace(netQ.Artist+" "+netQ.Title))
			return err
		})
		if err != nil {
			return Result{}, err
		}
		if len(tracks) > 0 {
			best, err := selectCandidate(tracks, netQ)
			var ambiguous *AmbiguousError
			switch {
			case errors.As(err, &ambiguous):
				metrics.RecordTier(TierSearch, "ambiguous")
				l.Info().Int("candidates", len(ambiguous.Candidates)).Msg("Search is ambiguous, asking for a choice")
				return Result{}, err
			case best != nil:
				res, err := p.fetchCandidate(ctx, q, best.ID, l)
				if err == nil {
					return res, nil
				}
				if ctx.Err() != nil {
					return Result{}, ctx.Err()
				}
				if plainFallback == "" && best.PlainLyrics != "" {
					plainFallback = best.PlainLyrics
				}
			}
		}
	}

	if text := plaintext.Clean(plainFallback); text != "" {
		l.Info().Msg("Using plain lyrics from metadata lookup")
		return Result{Kind: KindPlain, Text: text, Duration: q.Duration, Source: TierTimed}, nil
	}

	// 4. 纯文本抓取
	if p.src.Plain != nil {
		var text string
		err := p.runTier(ctx, TierPlain, l, func(ctx context.Context) error {
			var err error
			text, err = p.src.Plain.GetLyrics(ctx, netQ.Title, netQ.Artist)
			return err
		})
		if err != nil {
			return Result{}, err
		}
		if text = plaintext.Clean(text); text != "" {
			l.Info().Msg("Using scraped plain lyrics")
			return Result{Kind: KindPlain, Text: text, Duration: q.Duration, Source: TierPlain}, nil
		}
	}

	l.Info().Msg("All tiers exhausted")
	return Result{}, ErrNotFound
}

// ResolveCandidate fetches the search candidate the user picked and caches
// it under the query's metadata.
func (p *Pipeline) ResolveCandidate(ctx context.Context, q Query, id int) (Result, error) {
	if p.src.Timed == nil {
		return Result{}, ErrNotFound
	}
	l := logger.With().Str("artist", q.Artist).Str("title", q.Title).Int("candidate", id).Logger()
	return p.fetchCandidate(ctx, q, id, l)
}

func (p *Pipeline) fetchCandidate(ctx context.Context, q Query, id int, l zerolog.Logger) (Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	track, err := p.src.Timed.GetByID(tctx, id)
	if err != nil {
		if classified := classify(err); classified != nil {
			l.Warn().Err(classified).Msg("Candidate fetch failed")
			return Result{}, classified
		}
		return Result{}, ErrNotFound
	}
	if track.Instrumental {
		return Result{Kind: KindInstrumental, Source: TierSearch}, nil
	}
	if res, ok := p.commit(q, track.SyncedLyrics, TierSearch, l); ok {
		return res, nil
	}
	if text := plaintext.Clean(track.PlainLyrics); text != "" {
		return Result{Kind: KindPlain, Text: text, Duration: q.Duration, Source: TierSearch}, nil
	}
	return Result{}, ErrNotFound
}

func (p *Pipeline) fromCache(q Query, l zerolog.Logger) (Result, bool) {
	if p.src.Cache == nil {
		return Result{}, false
	}
	rec, err := p.src.Cache.Get(q.Artist, q.Title)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			l.Warn().Err(err).Msg("Cache read failed")
		}
		metrics.RecordCacheLookup(false)
		return Result{}, false
	}
	doc := lrc.Parse(rec.Raw)
	if doc.IsEmpty() {
		l.Warn().Str("key", rec.Key).Msg("Cached document has no lines, ignoring")
		metrics.RecordCacheLookup(false)
		return Result{}, false
	}
	metrics.RecordCacheLookup(true)
	l.Info().Str("key", rec.Key).Msg("Cache HIT")
	return Result{Kind: KindSynced, Document: doc, Source: TierCache, Cached: true}, true
}

// commit parses raw LRC and, when it has lines, writes it back to the
// cache under the player's metadata before returning.
func (p *Pipeline) commit(q Query, raw, source string, l zerolog.Logger) (Result, bool) {
	doc := lrc.Parse(raw)
	if doc.IsEmpty() {
		return Result{}, false
	}
	if p.src.Cache != nil {
		stored, err := p.src.Cache.Put(q.Artist, q.Title, raw)
		if err != nil {
			l.Warn().Err(err).Msg("Failed to write lyrics to cache")
		} else if stored {
			l.Info().Str("source", source).Msg("Saved lyrics to cache")
		}
	}
	return Result{Kind: KindSynced, Document: doc, Source: source}, true
}

// runTier applies the rate limiter, the tier breaker and a timeout around fn.
// Tier failures are logged and swallowed; only cancellation of ctx is returned.
func (p *Pipeline) runTier(ctx context.Context, tier string, l zerolog.Logger, fn func(context.Context) error) error {
	b := p.breakers[tier]
	if !b.Allow() {
		metrics.RecordTier(tier, "skipped")
		l.Debug().Str("tier", tier).Msg("Breaker open, skipping tier")
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := fn(tctx)
	cancel()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if classified := classify(err); classified != nil {
		b.RecordFailure()
		metrics.RecordTier(tier, "error")
		l.Warn().Str("tier", tier).Err(classified).Msg("Tier failed, advancing")
		return nil
	}
	b.RecordSuccess()
	if err != nil {
		metrics.RecordTier(tier, "miss")
		l.Debug().Str("tier", tier).Msg("Tier miss")
	} else {
		metrics.RecordTier(tier, "hit")
	}
	return nil
}

// selectCandidate ranks search results and returns the single best one.
// Equally plausible leaders yield *AmbiguousError; nothing plausible
// yields nil.
func selectCandidate(tracks []lrclib.Track, q Query) (*lrclib.Track, error) {
	ranked := lrclib.Rank(tracks, q.Title, q.Artist, q.Duration)

	var plausible []lrclib.Candidate
	for _, c := range ranked {
		if c.Score >= plausibleScore && !c.Instrumental {
			plausible = append(plausible, c)
		}
	}
	switch {
	case len(plausible) == 0:
		return nil, nil
	case len(plausible) == 1 || plausible[0].Score > plausible[1].Score:
		return &plausible[0].Track, nil
	default:
		return nil, &AmbiguousError{Candidates: plausible}
	}
}

// plausibleScore is a title match alone; see lrclib.Rank.
const plausibleScore = 40

func (r Result) String() string {
	switch r.Kind {
	case KindSynced:
		return fmt.Sprintf("%s (%d lines from %s)", r.Kind, len(r.Document.Lines), r.Source)
	default:
		return fmt.Sprintf("%s from %s", r.Kind, r.Source)
	}
}
