package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lyricsync/internal/auth"
	"lyricsync/internal/output"
	"lyricsync/internal/tracker"
	"lyricsync/pkg/lrclib"
)

type fakeController struct {
	mu         sync.Mutex
	snap       output.Snapshot
	searched   [][2]string
	chosen     []int
	position   float64
	resumed    bool
	candidates []lrclib.Candidate
}

func (f *fakeController) Snapshot() output.Snapshot { return f.snap }
func (f *fakeController) State() tracker.SyncState  { return tracker.Playing }
func (f *fakeController) Search(artist, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searched = append(f.searched, [2]string{artist, title})
}
func (f *fakeController) Candidates() []lrclib.Candidate { return f.candidates }
func (f *fakeController) Choose(id int) error {
	for _, c := range f.candidates {
		if c.ID == id {
			f.chosen = append(f.chosen, id)
			return nil
		}
	}
	return errors.New("unknown")
}
func (f *fakeController) SetPosition(s float64) { f.position = s }
func (f *fakeController) ResumeAutoSync()       { f.resumed = true }

type fakeAuth struct {
	state  auth.State
	codes  []string
	logout bool
}

func (a *fakeAuth) State() auth.State { return a.state }
func (a *fakeAuth) AuthCodeURL(state string) string {
	return "https://accounts.example/authorize?state=" + url.QueryEscape(state)
}
func (a *fakeAuth) Login(_ context.Context, code string) error {
	a.codes = append(a.codes, code)
	a.state = auth.StateValid
	return nil
}
func (a *fakeAuth) Logout(context.Context) error {
	a.logout = true
	a.state = auth.StateAbsent
	return nil
}

func newTestServer(ctrl *fakeController, authn Authenticator) *httptest.Server {
	now := time.Unix(1000, 0)
	srv := New(ctrl, authn, Options{Now: func() time.Time { return now }})
	return httptest.NewServer(srv.Handler())
}

func noRedirect() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
}

func TestSnapshotReportsStaleness(t *testing.T) {
	ctrl := &fakeController{snap: output.Snapshot{CurrentLyric: "hello", Timestamp: time.Unix(990, 0)}}
	ts := newTestServer(ctrl, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "hello", body["currentLyric"])
	assert.Equal(t, false, body["stale"])
}

func TestLoginCallbackFlow(t *testing.T) {
	authn := &fakeAuth{}
	ts := newTestServer(&fakeController{}, authn)
	defer ts.Close()
	client := noRedirect()

	resp, err := client.Get(ts.URL + "/auth/login")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == stateCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, state, cookie.Value)

	// 错误的 state 被拒绝
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/auth/callback?code=abc&state=wrong", nil)
	req.AddCookie(cookie)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, authn.codes)

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/auth/callback?code=abc&state="+url.QueryEscape(state), nil)
	req.AddCookie(cookie)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"abc"}, authn.codes)

	resp, err = client.Post(ts.URL+"/auth/logout", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, authn.logout)
}

func TestAuthNotConfigured(t *testing.T) {
	ts := newTestServer(&fakeController{}, nil)
	defer ts.Close()

	resp, err := noRedirect().Get(ts.URL + "/auth/login")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSyncAndLyricsEndpoints(t *testing.T) {
	ctrl := &fakeController{candidates: []lrclib.Candidate{
		{Track: lrclib.Track{ID: 7, TrackName: "Hello", ArtistName: "Adele", SyncedLyrics: "[00:01.00]x"}, Score: 90},
	}}
	ts := newTestServer(ctrl, nil)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/sync/position?seconds=12.5", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 12.5, ctrl.position)

	resp, err = http.Post(ts.URL+"/sync/position?seconds=abc", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/sync/resume", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.True(t, ctrl.resumed)

	resp, err = http.Post(ts.URL+"/lyrics/search?artist=Adele&title=Hello", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, [][2]string{{"Adele", "Hello"}}, ctrl.searched)

	resp, err = http.Get(ts.URL + "/lyrics/candidates")
	require.NoError(t, err)
	var list []candidateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)
	assert.Equal(t, 7, list[0].ID)
	assert.True(t, list[0].Synced)

	resp, err = http.Post(ts.URL+"/lyrics/choose?id=7", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []int{7}, ctrl.chosen)

	resp, err = http.Post(ts.URL+"/lyrics/choose?id=8", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	srv := New(&fakeController{}, nil, Options{RequestsPerMinute: 2})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	codes := make([]int, 0, 3)
	for range 3 {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(&fakeController{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
