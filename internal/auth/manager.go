package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"lyricsync/internal/metrics"
)

var logger = log.With().Str("component", "auth").Logger()

// Manager owns the credential lifecycle: login, refresh, invalidation and
// logout. It is the only writer of the store and the mirror.
type Manager struct {
	store      SecureStore
	mirror     Mirror
	oauth      *oauth2.Config
	httpClient *http.Client
	now        func() time.Time

	mu    sync.RWMutex
	cred  *Credential
	gen   uint64 // 每次登录或清除凭证加一
	group singleflight.Group

	// mirrorMu orders mirror writes so a delete is never followed by a stale save.
	mirrorMu sync.Mutex
}

type Option func(*Manager)

func WithMirror(m Mirror) Option { return func(mg *Manager) { mg.mirror = m } }

func WithClock(now func() time.Time) Option { return func(mg *Manager) { mg.now = now } }

// WithHTTPClient sets the client used for token endpoint requests.
func WithHTTPClient(c *http.Client) Option { return func(mg *Manager) { mg.httpClient = c } }

// NewManager loads any persisted credential from store.
func NewManager(store SecureStore, cfg *oauth2.Config, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:  store,
		mirror: NopMirror{},
		oauth:  cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	cred, err := store.Load()
	if err != nil {
		return nil, err
	}
	m.cred = cred
	logger.Info().Str("state", m.State().String()).Msg("Credential manager initialized")
	return m, nil
}

// State 当前凭证状态
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred.state(m.now())
}

// AuthCodeURL builds the provider's consent URL.
func (m *Manager) AuthCodeURL(state string) string {
	return m.oauth.AuthCodeURL(state)
}

// Login exchanges an authorization code for a credential.
func (m *Manager) Login(ctx context.Context, code string) error {
	tok, err := m.oauth.Exchange(m.oauthContext(ctx), code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("token endpoint returned no access token")
	}
	return m.LoginWithToken(ctx, fromToken(tok, "", m.now()))
}

// LoginWithToken stores an already obtained credential.
func (m *Manager) LoginWithToken(ctx context.Context, c Credential) error {
	if c.AccessToken == "" {
		return errors.New("auth: empty access token")
	}
	if err := m.commit(ctx, c, nil); err != nil {
		return err
	}
	logger.Info().Time("expires_at", c.ExpiresAt).Msg("Logged in")
	return nil
}

// WithValidToken calls fn with a usable access token, refreshing first
// when the token is about to expire. Concurrent callers share one refresh.
func (m *Manager) WithValidToken(ctx context.Context, fn func(accessToken string) error) error {
	token, err := m.validToken(ctx)
	if err != nil {
		return err
	}
	return fn(token)
}

func (m *Manager) validToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	cred := m.cred
	state := cred.state(m.now())
	m.mu.RUnlock()

	switch state {
	case StateAbsent:
		return "", ErrNotLoggedIn
	case StateValid:
		return cred.AccessToken, nil
	}

	ch := m.group.DoChan("refresh", func() (interface{}, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// refresh runs inside the single flight.
func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.mu.RLock()
	cred := m.cred
	gen := m.gen
	m.mu.RUnlock()

	// 上一轮已经刷新成功
	switch cred.state(m.now()) {
	case StateValid:
		return cred.AccessToken, nil
	case StateAbsent:
		return "", ErrNotLoggedIn
	}

	if cred.RefreshToken == "" {
		m.clear(ctx, &gen)
		return "", ErrCredentialInvalid
	}

	logger.Info().Msg("Refreshing access token")
	src := m.oauth.TokenSource(m.oauthContext(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		metrics.RecordRefresh(false)
		logger.Warn().Err(err).Msg("Token refresh failed, logging out")
		m.clear(ctx, &gen)
		return "", fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}
	metrics.RecordRefresh(true)

	next := fromToken(tok, cred.RefreshToken, m.now())
	if err := m.commit(ctx, next, &gen); err != nil {
		return "", err
	}
	logger.Info().Time("expires_at", next.ExpiresAt).Msg("Access token refreshed")
	return next.AccessToken, nil
}

// Invalidate marks the access token expired so the next caller refreshes.
// Used when the status API rejects the token before its stated expiry.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return
	}
	c := *m.cred
	c.ExpiresAt = m.now()
	m.cred = &c
	logger.Info().Msg("Access token invalidated")
}

// Logout clears the credential everywhere before returning. A refresh
// still in flight is discarded when it completes.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.clear(ctx, nil); err != nil {
		return err
	}
	logger.Info().Msg("Logged out")
	return nil
}

// commit persists c. When since is set the write only happens if no login
// or clear ran after that generation was read; a login starts a new one.
func (m *Manager) commit(ctx context.Context, c Credential, since *uint64) error {
	m.mu.Lock()
	if since != nil && *since != m.gen {
		m.mu.Unlock()
		logger.Info().Msg("Dropping refreshed token, credential was cleared meanwhile")
		return ErrNotLoggedIn
	}
	if err := m.store.Save(c); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to persist credential: %w", err)
	}
	if since == nil {
		m.gen++
	}
	m.cred = &c
	gen := m.gen
	m.mu.Unlock()

	m.mirrorMu.Lock()
	defer m.mirrorMu.Unlock()
	m.mu.RLock()
	cleared := gen != m.gen
	m.mu.RUnlock()
	if cleared {
		return nil
	}
	if err := m.mirror.Save(ctx, c, c.ExpiresAt.Sub(m.now())); err != nil {
		logger.Warn().Err(err).Msg("Failed to mirror credential")
	}
	return nil
}

// clear drops the credential. When since is set it is a no-op if a login
// or clear already happened after that generation.
func (m *Manager) clear(ctx context.Context, since *uint64) error {
	m.mu.Lock()
	if since != nil && *since != m.gen {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	m.cred = nil
	var errs []error
	if err := m.store.Delete(); err != nil {
		errs = append(errs, fmt.Errorf("failed to delete stored credential: %w", err))
	}
	m.mu.Unlock()

	m.mirrorMu.Lock()
	defer m.mirrorMu.Unlock()
	m.mu.RLock()
	superseded := gen != m.gen
	m.mu.RUnlock()
	// 之后的登录或登出会自己处理镜像
	if superseded {
		return errors.Join(errs...)
	}
	if err := m.mirror.Delete(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to delete mirrored credential: %w", err))
	}
	return errors.Join(errs...)
}

func (m *Manager) oauthContext(ctx context.Context) context.Context {
	if m.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}
