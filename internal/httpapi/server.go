// Package httpapi is the local control surface: login, manual resync,
// manual search and candidate choice, plus snapshot and metrics reads.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"lyricsync/internal/auth"
	"lyricsync/internal/output"
	"lyricsync/internal/tracker"
	"lyricsync/pkg/lrclib"
)

var logger = log.With().Str("component", "httpapi").Logger()

const stateCookie = "lyricsync_oauth_state"

// Controller is the engine as seen from HTTP.
type Controller interface {
	Snapshot() output.Snapshot
	State() tracker.SyncState
	Search(artist, title string)
	Candidates() []lrclib.Candidate
	Choose(id int) error
	SetPosition(seconds float64)
	ResumeAutoSync()
}

// Authenticator 登录相关，可以为 nil（未配置 OAuth）
type Authenticator interface {
	State() auth.State
	AuthCodeURL(state string) string
	Login(ctx context.Context, code string) error
	Logout(ctx context.Context) error
}

type Options struct {
	RequestsPerMinute int
	AllowedOrigins    []string
	StalenessWindow   time.Duration
	Now               func() time.Time
}

type Server struct {
	ctrl  Controller
	authn Authenticator
	opts  Options
}

func New(ctrl Controller, authn Authenticator, opts Options) *Server {
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 120
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.StalenessWindow <= 0 {
		opts.StalenessWindow = 45 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{ctrl: ctrl, authn: authn, opts: opts}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httprate.Limit(
		s.opts.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded")
		}),
	))

	r.Get("/healthz", s.healthz)
	r.Get("/snapshot", s.snapshot)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", s.login)
		r.Get("/callback", s.callback)
		r.Post("/logout", s.logout)
	})
	r.Route("/sync", func(r chi.Router) {
		r.Post("/position", s.position)
		r.Post("/resume", s.resume)
	})
	r.Route("/lyrics", func(r chi.Router) {
		r.Post("/search", s.search)
		r.Get("/candidates", s.candidates)
		r.Post("/choose", s.choose)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	})
	return c.Handler(r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok", "state": s.ctrl.State().String()}
	if s.authn != nil {
		resp["credential"] = s.authn.State().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type snapshotResponse struct {
	output.Snapshot
	Stale bool `json:"stale"`
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Snapshot()
	writeJSON(w, http.StatusOK, snapshotResponse{
		Snapshot: snap,
		Stale:    snap.Stale(s.opts.Now(), s.opts.StalenessWindow),
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if s.authn == nil {
		writeError(w, http.StatusNotFound, "oauth_not_configured")
		return
	}
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.authn.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	if s.authn == nil {
		writeError(w, http.StatusNotFound, "oauth_not_configured")
		return
	}
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		writeError(w, http.StatusBadRequest, "state_mismatch")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/auth", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		writeError(w, http.StatusBadRequest, errParam)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing_code")
		return
	}
	if err := s.authn.Login(r.Context(), code); err != nil {
		logger.Warn().Err(err).Msg("Login failed")
		writeError(w, http.StatusBadGateway, "login_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"credential": s.authn.State().String()})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if s.authn == nil {
		writeError(w, http.StatusNotFound, "oauth_not_configured")
		return
	}
	if err := s.authn.Logout(r.Context()); err != nil {
		logger.Error().Err(err).Msg("Logout failed")
		writeError(w, http.StatusInternalServerError, "logout_failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) position(w http.ResponseWriter, r *http.Request) {
	seconds, err := strconv.ParseFloat(r.URL.Query().Get("seconds"), 64)
	if err != nil || seconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid_seconds")
		return
	}
	s.ctrl.SetPosition(seconds)
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	s.ctrl.ResumeAutoSync()
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	artist := r.URL.Query().Get("artist")
	title := r.URL.Query().Get("title")
	if title == "" {
		writeError(w, http.StatusBadRequest, "missing_title")
		return
	}
	s.ctrl.Search(artist, title)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "searching"})
}

type candidateResponse struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	Synced       bool    `json:"synced"`
	Score        int     `json:"score"`
}

func (s *Server) candidates(w http.ResponseWriter, r *http.Request) {
	list := s.ctrl.Candidates()
	resp := make([]candidateResponse, 0, len(list))
	for _, c := range list {
		resp = append(resp, candidateResponse{
			ID:           c.ID,
			Name:         c.TrackName,
			ArtistName:   c.ArtistName,
			AlbumName:    c.AlbumName,
			Duration:     c.Duration,
			Instrumental: c.Instrumental,
			Synced:       c.SyncedLyrics != "",
			Score:        c.Score,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) choose(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	if err := s.ctrl.Choose(id); err != nil {
		writeError(w, http.StatusNotFound, "unknown_candidate")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resolving"})
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP control surface listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
