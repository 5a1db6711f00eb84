package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workspace-dashboard/backend/internal/apps"
	"github.com/workspace-dashboard/backend/internal/db"
	"github.com/workspace-dashboard/backend/internal/model"
	"github.com/workspace-dashboard/backend/internal/repository"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeLive struct {
	mu     sync.Mutex
	active map[string]bool
	closed []string
}

func newFakeLive(ids ...string) *fakeLive {
	l := &fakeLive{active: map[string]bool{}}
	for _, id := range ids {
		l.active[id] = true
	}
	return l
}

func (l *fakeLive) Active(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[id]
}

func (l *fakeLive) CloseSession(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active[id] {
		return model.ErrSessionNotFound
	}
	delete(l.active, id)
	l.closed = append(l.closed, id)
	return nil
}

type sessionFixture struct {
	repo   *repository.SessionRepository
	live   *fakeLive
	router *gin.Engine
}

func newSessionFixture(t *testing.T, live *fakeLive) *sessionFixture {
	t.Helper()
	testDB, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })

	repo := repository.NewSessionRepository(testDB)
	r := gin.New()
	NewSessionHandler(repo, live, nil).RegisterRoutes(r.Group("/api"))
	return &sessionFixture{repo: repo, live: live, router: r}
}

func (f *sessionFixture) create(t *testing.T, s *model.TerminalSession) {
	t.Helper()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt.Add(90 * time.Second)
	}
	if s.Shell == "" {
		s.Shell = "/bin/bash"
	}
	require.NoError(t, f.repo.Create(context.Background(), s))
}

func (f *sessionFixture) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestSessionList(t *testing.T) {
	f := newSessionFixture(t, newFakeLive("live"))
	code := 0
	f.create(t, &model.TerminalSession{ID: "done", Status: model.SessionStatusExited, ExitCode: &code,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	f.create(t, &model.TerminalSession{ID: "live", Status: model.SessionStatusRunning,
		CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)})
	f.create(t, &model.TerminalSession{ID: "orphan", Status: model.SessionStatusRunning,
		CreatedAt: time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)})

	w := f.do(http.MethodGet, "/api/terminal/sessions")
	require.Equal(t, http.StatusOK, w.Code)

	var got []SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 3)
	assert.Equal(t, "orphan", got[0].ID)
	assert.Equal(t, "closed", got[0].Status)
	assert.Equal(t, "running", got[1].Status)
	assert.Equal(t, "exited", got[2].Status)
	assert.Equal(t, "1m30s", got[2].Duration)

	w = f.do(http.MethodGet, "/api/terminal/sessions?limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 1)
}

func TestSessionListEmpty(t *testing.T) {
	f := newSessionFixture(t, newFakeLive())
	w := f.do(http.MethodGet, "/api/terminal/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestSessionListBadLimit(t *testing.T) {
	f := newSessionFixture(t, newFakeLive())
	for _, q := range []string{"0", "-3", "abc"} {
		w := f.do(http.MethodGet, "/api/terminal/sessions?limit="+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, w).Code)
	}
}

func TestSessionGet(t *testing.T) {
	f := newSessionFixture(t, newFakeLive())
	pid := 42
	f.create(t, &model.TerminalSession{ID: "s1", PID: &pid, Status: model.SessionStatusClosed,
		WorkspaceRoot: "/ws", Cwd: "~/src", PreviewLine: "$ ls"})

	w := f.do(http.MethodGet, "/api/terminal/sessions/s1")
	require.Equal(t, http.StatusOK, w.Code)

	var got SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "s1", got.ID)
	require.NotNil(t, got.PID)
	assert.Equal(t, 42, *got.PID)
	assert.Equal(t, "~/src", got.Cwd)
	assert.Equal(t, "$ ls", got.PreviewLine)
	assert.Equal(t, "2026-01-02T03:04:05Z", got.CreatedAt)
	assert.False(t, got.HasRecording)

	w = f.do(http.MethodGet, "/api/terminal/sessions/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", decodeError(t, w).Code)
}

func TestSessionDelete(t *testing.T) {
	f := newSessionFixture(t, newFakeLive("live"))
	recording := filepath.Join(t.TempDir(), "old.cast")
	require.NoError(t, os.WriteFile(recording, []byte("{}\n"), 0o644))
	f.create(t, &model.TerminalSession{ID: "old", Status: model.SessionStatusExited, RecordingPath: recording})
	f.create(t, &model.TerminalSession{ID: "live", Status: model.SessionStatusRunning})

	w := f.do(http.MethodDelete, "/api/terminal/sessions/live")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SESSION_RUNNING", decodeError(t, w).Code)

	w = f.do(http.MethodDelete, "/api/terminal/sessions/old")
	assert.Equal(t, http.StatusNoContent, w.Code)
	_, err := os.Stat(recording)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = f.repo.GetByID(context.Background(), "old")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)

	w = f.do(http.MethodDelete, "/api/terminal/sessions/old")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionClose(t *testing.T) {
	live := newFakeLive("live")
	f := newSessionFixture(t, live)

	w := f.do(http.MethodPost, "/api/terminal/sessions/live/close")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"live"}, live.closed)

	w = f.do(http.MethodPost, "/api/terminal/sessions/live/close")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionRecording(t *testing.T) {
	f := newSessionFixture(t, newFakeLive())
	dir := t.TempDir()
	recording := filepath.Join(dir, "rec.cast")
	require.NoError(t, os.WriteFile(recording, []byte(`{"version":2}`+"\n"), 0o644))

	f.create(t, &model.TerminalSession{ID: "rec", Status: model.SessionStatusExited, RecordingPath: recording})
	f.create(t, &model.TerminalSession{ID: "none", Status: model.SessionStatusExited})
	f.create(t, &model.TerminalSession{ID: "gone", Status: model.SessionStatusExited,
		RecordingPath: filepath.Join(dir, "gone.cast")})

	w := f.do(http.MethodGet, "/api/terminal/sessions/rec/recording")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-asciicast", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "rec.cast")
	assert.Equal(t, `{"version":2}`+"\n", w.Body.String())

	for _, id := range []string{"none", "gone"} {
		w = f.do(http.MethodGet, "/api/terminal/sessions/"+id+"/recording")
		assert.Equal(t, http.StatusNotFound, w.Code, id)
		assert.Equal(t, "RECORDING_NOT_FOUND", decodeError(t, w).Code)
	}
}

type fakeApps struct {
	listing apps.Listing
	err     error
}

func (f fakeApps) List(context.Context) (apps.Listing, error) {
	return f.listing, f.err
}

func newAppsRouter(lister AppLister) *gin.Engine {
	r := gin.New()
	NewAppsHandler(lister).RegisterRoutes(r.Group("/api"))
	return r
}

func TestHealth(t *testing.T) {
	r := newAppsRouter(fakeApps{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAppsList(t *testing.T) {
	port := 3000
	r := newAppsRouter(fakeApps{listing: apps.Listing{
		Domain:         "ws.io",
		OpencodeDomain: "opencode.ws.io",
		Apps: []apps.AppStatus{{
			App:    apps.App{Slug: "blog", Type: apps.TypeFrontend, FrontendPort: &port, Options: []string{}},
			URL:    "https://ws.io/blog/",
			Status: apps.StatusUp,
		}},
	}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/apps", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"domain": "ws.io",
		"opencodeDomain": "opencode.ws.io",
		"apps": [{
			"slug": "blog",
			"type": "frontend",
			"frontendPort": 3000,
			"backendPort": null,
			"options": [],
			"url": "https://ws.io/blog/",
			"status": "up"
		}]
	}`, w.Body.String())
}

func TestAppsListError(t *testing.T) {
	r := newAppsRouter(fakeApps{err: context.DeadlineExceeded})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/apps", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "APPS_UNAVAILABLE", resp.Error.Code)
}

func TestTerminalRoute(t *testing.T) {
	var hit bool
	r := gin.New()
	NewTerminalHandler("/api/terminal/ws", func(c *gin.Context) {
		hit = true
		c.Status(http.StatusSwitchingProtocols)
	}).RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/terminal/ws", nil))
	assert.True(t, hit)
}
