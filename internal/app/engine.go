package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"lyricsync/internal/auth"
	"lyricsync/internal/metrics"
	"lyricsync/internal/output"
	"lyricsync/internal/player"
	"lyricsync/internal/resolve"
	"lyricsync/internal/tracker"
	"lyricsync/internal/translate"
	"lyricsync/pkg/autosync"
	"lyricsync/pkg/lrc"
	"lyricsync/pkg/lrclib"
)

var logger = log.With().Str("component", "engine").Logger()

// 给消费者看的状态文字，不暴露原始错误
const (
	StatusSearching    = "searching…"
	StatusCached       = "cached"
	StatusSynced       = "synced"
	StatusAutoSynced   = "auto-synced"
	StatusPlain        = "plain"
	StatusInstrumental = "instrumental"
	StatusChoose       = "choose a match"
	StatusNoLyrics     = "no lyrics found"
	StatusReconnect    = "reconnect required"
	StatusNotPlaying   = "not playing"
)

const (
	publishTimeout = 2 * time.Second
	subscriberBuf  = 8
)

var ErrUnknownCandidate = errors.New("engine: no such candidate")

// Resolver is the lyric lookup the engine drives.
type Resolver interface {
	Resolve(ctx context.Context, q resolve.Query) (resolve.Result, error)
	ResolveCandidate(ctx context.Context, q resolve.Query, id int) (resolve.Result, error)
}

// Deps 引擎依赖，全部由调用方构造后注入
type Deps struct {
	Source     player.Source
	Tracker    *tracker.Tracker
	Resolver   Resolver
	Translator translate.Translator // optional
	Publishers []output.Publisher

	PollForeground time.Duration
	PollBackground time.Duration
	LineInterval   time.Duration
	Heartbeat      time.Duration
	ResolveTimeout time.Duration // 单次解析的总时限
	Now            func() time.Time
}

func (d *Deps) setDefaults() {
	if d.Tracker == nil {
		d.Tracker = tracker.New()
	}
	if d.PollForeground <= 0 {
		d.PollForeground = time.Second
	}
	if d.PollBackground <= 0 {
		d.PollBackground = 2 * time.Second
	}
	if d.LineInterval <= 0 {
		d.LineInterval = 100 * time.Millisecond
	}
	if d.Heartbeat <= 0 {
		d.Heartbeat = 10 * time.Second
	}
	if d.ResolveTimeout <= 0 {
		d.ResolveTimeout = time.Minute
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

// loop is one cancellable background goroutine.
type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *loop) stop() {
	if l == nil {
		return
	}
	l.cancel()
	<-l.done
}

// Engine ties the player source, the tracker and the resolver together and
// fans snapshots out to publishers and subscribers.
type Engine struct {
	d Deps

	runMu      sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	foreground bool

	// 调度器控制：任何时候最多一个轮询循环和一个歌词定时器
	schedulerMutex sync.Mutex
	poll           *loop
	lineTimer      *loop

	mu           sync.Mutex
	base         context.Context
	attempt      uint64
	trackID      string
	query        resolve.Query
	lines        []lrc.Line
	plain        string
	translations []string
	candidates   []lrclib.Candidate
	status       string
	reconnect    bool
	cursor       tracker.Cursor
	resolving    sync.WaitGroup

	emitMu sync.Mutex
	last   output.Snapshot

	subsMu sync.Mutex
	subs   map[chan output.Snapshot]struct{}
}

func NewEngine(d Deps) *Engine {
	d.setDefaults()
	return &Engine{
		d:          d,
		foreground: true,
		status:     StatusNotPlaying,
		subs:       make(map[chan output.Snapshot]struct{}),
	}
}

// Start launches the poll loop and the line timer. It returns immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.ctx != nil {
		return fmt.Errorf("engine already running")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Lock()
	e.base = e.ctx
	e.mu.Unlock()

	e.startPollLoop(e.ctx, e.pollInterval())
	e.startLineTimer(e.ctx)
	logger.Info().Str("source", e.d.Source.Name()).Msg("Engine started")
	return nil
}

// Stop cancels both loops and every in-flight resolution and waits for them.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.ctx == nil {
		return
	}
	e.cancel()

	e.schedulerMutex.Lock()
	e.poll.stop()
	e.lineTimer.stop()
	e.poll, e.lineTimer = nil, nil
	e.schedulerMutex.Unlock()

	e.resolving.Wait()
	e.ctx, e.cancel = nil, nil
	logger.Info().Msg("Engine stopped")
}

// Run is Start followed by Stop once ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.Stop()
	return nil
}

func (e *Engine) pollInterval() time.Duration {
	if e.foreground {
		return e.d.PollForeground
	}
	return e.d.PollBackground
}

// SetForeground switches the poll interval, restarting the poll loop.
func (e *Engine) SetForeground(fg bool) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.foreground == fg {
		return
	}
	e.foreground = fg
	if e.ctx != nil {
		e.startPollLoop(e.ctx, e.pollInterval())
	}
	logger.Info().Bool("foreground", fg).Dur("interval", e.pollInterval()).Msg("Poll interval changed")
}

// startPollLoop 先停掉旧的轮询循环再启动新的
func (e *Engine) startPollLoop(parent context.Context, interval time.Duration) {
	e.schedulerMutex.Lock()
	defer e.schedulerMutex.Unlock()

	if e.poll != nil {
		logger.Debug().Msg("Stopping previous poll loop")
		e.poll.stop()
	}
	ctx, cancel := context.WithCancel(parent)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	e.poll = l
	go e.pollLoop(ctx, interval, l.done)
}

func (e *Engine) pollLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	var (
		wg         sync.WaitGroup
		tickCancel context.CancelFunc = func() {}
	)
	defer func() {
		tickCancel()
		wg.Wait()
	}()

	tick := func() {
		// 上一次轮询还没结束就作废，不排队
		tickCancel()
		var tickCtx context.Context
		tickCtx, tickCancel = context.WithCancel(ctx)
		wg.Add(1)
		go func(c context.Context) {
			defer wg.Done()
			e.pollOnce(c)
		}(tickCtx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	tick()
	for {
		select {
		case <-ticker.C:
			tick()
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context) {
	snap, err := e.d.Source.Current(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		e.handlePollError(err)
		return
	}

	e.mu.Lock()
	wasReconnect := e.reconnect
	e.reconnect = false
	e.mu.Unlock()

	upd := e.d.Tracker.Observe(snap)
	if len(upd.Transitions) > 0 {
		logger.Debug().Interface("transitions", upd.Transitions).Str("track", snap.TrackID).Msg("State changed")
	}
	if upd.NeedsResolution() {
		e.startResolution(snap.TrackID, queryFor(snap), nil)
		return
	}
	if upd.Seeked {
		e.mu.Lock()
		e.cursor.Reset()
		e.mu.Unlock()
	}
	e.refresh(wasReconnect)
}

func (e *Engine) handlePollError(err error) {
	switch {
	case errors.Is(err, player.ErrNothingPlaying):
		upd := e.d.Tracker.Stop()
		e.mu.Lock()
		wasReconnect := e.reconnect
		e.reconnect = false
		if len(upd.Transitions) > 0 {
			logger.Info().Msg("Playback stopped")
			e.attempt++ // 丢弃仍在进行的解析
			e.resetLocked("")
			e.query = resolve.Query{}
			e.status = StatusNotPlaying
		}
		e.mu.Unlock()
		if wasReconnect || len(upd.Transitions) > 0 {
			e.refresh(true)
		}
	case errors.Is(err, auth.ErrNotLoggedIn), errors.Is(err, auth.ErrCredentialInvalid):
		e.mu.Lock()
		changed := !e.reconnect
		e.reconnect = true
		e.mu.Unlock()
		if changed {
			logger.Warn().Err(err).Msg("Player status needs a new login")
			e.refresh(true)
		}
	default:
		metrics.RecordPollError()
		logger.Warn().Err(err).Msg("Failed to poll player")
	}
}

func queryFor(s player.Snapshot) resolve.Query {
	return resolve.Query{Artist: s.Artist, Title: s.Title, Album: s.Album, Duration: s.Duration}
}

func (e *Engine) resetLocked(trackID string) {
	e.trackID = trackID
	e.lines = nil
	e.plain = ""
	e.translations = nil
	e.candidates = nil
	e.cursor.Reset()
}

type resolveFunc func(ctx context.Context) (resolve.Result, error)

// startResolution begins a new attempt for trackID. Older attempts keep
// running so their cache writes complete, but their results are discarded.
func (e *Engine) startResolution(trackID string, q resolve.Query, fn resolveFunc) {
	if fn == nil {
		fn = func(ctx context.Context) (resolve.Result, error) { return e.d.Resolver.Resolve(ctx, q) }
	}

	e.mu.Lock()
	parent := e.base
	if parent == nil {
		parent = context.Background()
	}
	e.attempt++
	id := e.attempt
	e.resetLocked(trackID)
	e.query = q
	e.status = StatusSearching
	e.resolving.Add(1)
	e.mu.Unlock()

	logger.Info().Uint64("attempt", id).Str("artist", q.Artist).Str("title", q.Title).Msg("Resolving lyrics")
	e.refresh(true)

	go func() {
		defer e.resolving.Done()
		ctx, cancel := context.WithTimeout(parent, e.d.ResolveTimeout)
		defer cancel()

		res, err := fn(ctx)
		e.finishResolution(parent, ctx, id, q, res, err)
	}()
}

func (e *Engine) current(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return id == e.attempt
}

// finishResolution applies the result of attempt id. parent is the engine
// context: once it is done the engine is shutting down and nothing is
// published. Running out of the per-attempt deadline is a normal miss.
func (e *Engine) finishResolution(parent, ctx context.Context, id uint64, q resolve.Query, res resolve.Result, err error) {
	if !e.current(id) {
		logger.Debug().Uint64("attempt", id).Msg("Discarding superseded resolution")
		return
	}
	if parent.Err() != nil {
		return
	}

	var (
		lines  []lrc.Line
		plain  string
		status string
		amb    *resolve.AmbiguousError
	)
	switch {
	case err == nil && res.Kind == resolve.KindSynced:
		lines = res.Document.Lines
		status = StatusSynced
		if res.Cached {
			status = StatusCached
		}
	case err == nil && res.Kind == resolve.KindPlain:
		generated, aerr := autosync.Generate(res.Text, res.Duration)
		if aerr != nil {
			// 没有时长就直接显示整段文本
			logger.Info().Err(aerr).Msg("Auto-sync unavailable, showing plain text")
			plain = res.Text
			status = StatusPlain
		} else {
			lines = generated
			status = StatusAutoSynced
		}
	case err == nil && res.Kind == resolve.KindInstrumental:
		status = StatusInstrumental
	case errors.As(err, &amb):
		status = StatusChoose
	case errors.Is(err, resolve.ErrNotFound):
		status = StatusNoLyrics
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn().Dur("timeout", e.d.ResolveTimeout).Msg("Resolution timed out")
		status = StatusNoLyrics
	default:
		logger.Warn().Err(err).Msg("Resolution failed")
		status = StatusNoLyrics
	}

	var translations []string
	if len(lines) > 0 && e.d.Translator != nil {
		translations = e.translate(ctx, lines)
	}

	e.mu.Lock()
	if id != e.attempt {
		e.mu.Unlock()
		logger.Debug().Uint64("attempt", id).Msg("Discarding superseded resolution")
		return
	}
	e.lines = lines
	e.plain = plain
	e.translations = translations
	e.status = status
	if amb != nil {
		e.candidates = amb.Candidates
	}
	e.cursor.Reset()
	e.mu.Unlock()

	logger.Info().
		Uint64("attempt", id).
		Str("artist", q.Artist).
		Str("title", q.Title).
		Str("status", status).
		Int("lines", len(lines)).
		Str("source", res.Source).
		Msg("Resolution finished")
	e.refresh(true)
}

func (e *Engine) translate(ctx context.Context, lines []lrc.Line) []string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	got, err := e.d.Translator.Translate(ctx, texts)
	if err != nil {
		logger.Warn().Err(err).Msg("Translation failed")
		return nil
	}
	return got
}

func (e *Engine) startLineTimer(parent context.Context) {
	e.schedulerMutex.Lock()
	defer e.schedulerMutex.Unlock()

	if e.lineTimer != nil {
		e.lineTimer.stop()
	}
	ctx, cancel := context.WithCancel(parent)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	e.lineTimer = l

	go func() {
		defer close(l.done)
		lineTicker := time.NewTicker(e.d.LineInterval)
		defer lineTicker.Stop()
		heartbeat := time.NewTicker(e.d.Heartbeat)
		defer heartbeat.Stop()
		for {
			select {
			case <-lineTicker.C:
				e.refresh(false)
			case <-heartbeat.C:
				e.refresh(true)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// refresh recomputes the snapshot and emits it when it changed, or always
// when force is set.
func (e *Engine) refresh(force bool) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	snap, moved := e.build()
	if !force && !moved && snap.SameContent(e.last) {
		return
	}
	e.last = snap
	e.emit(snap)
}

func (e *Engine) build() (output.Snapshot, bool) {
	now := e.d.Now()
	cur, _ := e.d.Tracker.Current()

	e.mu.Lock()
	defer e.mu.Unlock()

	snap := output.Snapshot{
		SongTitle: e.query.Title,
		Artist:    e.query.Artist,
		Timestamp: now,
		Status:    e.status,
	}
	if snap.SongTitle == "" {
		snap.SongTitle, snap.Artist = cur.Title, cur.Artist
	}
	if e.reconnect {
		snap.Status = StatusReconnect
	}

	changed := false
	switch {
	case len(e.lines) > 0:
		idx, moved := e.cursor.Advance(e.lines, e.d.Tracker.Elapsed(now))
		changed = moved
		if idx >= 0 {
			snap.CurrentLyric = e.lines[idx].Text
			if idx < len(e.translations) {
				snap.Translation = e.translations[idx]
			}
		}
	case e.plain != "":
		snap.CurrentLyric = e.plain
	}
	return snap, changed
}

func (e *Engine) emit(snap output.Snapshot) {
	metrics.RecordSnapshot()

	for _, p := range e.d.Publishers {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.Publish(ctx, snap); err != nil {
			logger.Debug().Err(err).Str("publisher", p.Name()).Msg("Publish failed")
		}
		cancel()
	}

	e.subsMu.Lock()
	for ch := range e.subs {
		select {
		case ch <- snap:
		default:
			// 订阅者太慢，丢掉这一帧
		}
	}
	e.subsMu.Unlock()
}

// Subscribe returns a channel of snapshots and a function that ends the
// subscription. Slow subscribers miss snapshots rather than block.
func (e *Engine) Subscribe() (<-chan output.Snapshot, func()) {
	ch := make(chan output.Snapshot, subscriberBuf)
	e.subsMu.Lock()
	e.subs[ch] = struct{}{}
	e.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subsMu.Lock()
			delete(e.subs, ch)
			e.subsMu.Unlock()
			close(ch)
		})
	}
}

// Snapshot is the last emitted snapshot.
func (e *Engine) Snapshot() output.Snapshot {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	return e.last
}

// Search resolves artist/title instead of the player's metadata, until the
// player moves to another track.
func (e *Engine) Search(artist, title string) {
	cur, _ := e.d.Tracker.Current()
	q := resolve.Query{Artist: artist, Title: title, Duration: cur.Duration}
	logger.Info().Str("artist", artist).Str("title", title).Msg("Manual search")
	e.startResolution(cur.TrackID, q, nil)
}

// Candidates returns the ranked matches of the last ambiguous search.
func (e *Engine) Candidates() []lrclib.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]lrclib.Candidate(nil), e.candidates...)
}

// Choose resolves one of the candidates returned by Candidates.
func (e *Engine) Choose(id int) error {
	e.mu.Lock()
	found := false
	for _, c := range e.candidates {
		if c.ID == id {
			found = true
			break
		}
	}
	trackID, q := e.trackID, e.query
	e.mu.Unlock()
	if !found {
		return ErrUnknownCandidate
	}

	e.startResolution(trackID, q, func(ctx context.Context) (resolve.Result, error) {
		return e.d.Resolver.ResolveCandidate(ctx, q, id)
	})
	return nil
}

// SetPosition pins playback to seconds until ResumeAutoSync.
func (e *Engine) SetPosition(seconds float64) {
	e.d.Tracker.SetManualPosition(seconds)
	e.refresh(true)
}

func (e *Engine) ResumeAutoSync() {
	e.d.Tracker.ResumeAutoSync()
	e.refresh(true)
}

// State 当前播放状态
func (e *Engine) State() tracker.SyncState {
	return e.d.Tracker.State()
}
