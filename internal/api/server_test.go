package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/viabridge-project/viabridge/internal/artifact"
	"github.com/viabridge-project/viabridge/internal/config"
	"github.com/viabridge-project/viabridge/internal/db"
	"github.com/viabridge-project/viabridge/internal/relay"
	"github.com/viabridge-project/viabridge/internal/session"
)

func newTestServer(t *testing.T) (*Server, *db.AccountStore, []artifact.Record) {
	t.Helper()

	store, err := db.NewAccountStore(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	records := []artifact.Record{
		artifact.NewRecord("https://example.invalid/ViaProxy-3.3.4.jar", dir, ""),
		artifact.NewRecord("https://example.invalid/ViaProxyOpenAuthMod-1.0.2.jar", filepath.Join(dir, "plugins"), ""),
	}
	require.NoError(t, os.WriteFile(records[0].Path, []byte("jar"), 0o644))

	r := relay.New(nil, nil)
	cfg := config.DefaultConfig()
	cfg.API.RateLimitRPS = 0
	srv := NewServer(cfg, nil, Deps{
		Version:   "test",
		Sessions:  session.NewManager(r, nil, 10*time.Millisecond, time.Second),
		Relay:     r,
		Accounts:  store,
		Artifacts: records,
	})
	return srv, store, records
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestPing(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := do(t, srv.Handler(), http.MethodGet, "/api/public/ping", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "test", body["version"])
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestStatusBeforeLaunch(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := do(t, srv.Handler(), http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "starting", body["state"])
	require.Equal(t, "1.8.x", body["target_version"])
}

func TestArtifacts(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := do(t, srv.Handler(), http.MethodGet, "/api/artifacts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 2, body["total"])
	require.EqualValues(t, 1, body["present"])
}

func TestConnectionsEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := do(t, srv.Handler(), http.MethodGet, "/api/connections", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 0, body["total"])
	require.Contains(t, body, "scheduler")
}

func TestLoginWithoutProxy(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, _ := do(t, srv.Handler(), http.MethodPost, "/api/control/login",
		`{"account":"Steve","target":"mc.example.com"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = do(t, srv.Handler(), http.MethodPost, "/api/control/login", `{"account":"Steve"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccountRoutes(t *testing.T) {
	srv, store, _ := newTestServer(t)
	require.NoError(t, store.Put(db.StoredAccount{Username: "Steve", UUID: uuid.New(), Online: true, AccessToken: "secret"}))

	rec, body := do(t, srv.Handler(), http.MethodGet, "/api/control/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, body["total"])
	require.NotContains(t, rec.Body.String(), "secret")

	rec, _ = do(t, srv.Handler(), http.MethodPut, "/api/control/accounts/Steve/token", `{"access_token":"fresh"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	a, err := store.Get("Steve")
	require.NoError(t, err)
	require.Equal(t, "fresh", a.AccessToken)

	rec, _ = do(t, srv.Handler(), http.MethodPut, "/api/control/accounts/Nobody/token", `{"access_token":"x"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, srv.Handler(), http.MethodDelete, "/api/control/accounts/Steve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, srv.Handler(), http.MethodDelete, "/api/control/accounts/Steve", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryLimit(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, _ := do(t, srv.Handler(), http.MethodGet, "/api/history?limit=0", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := do(t, srv.Handler(), http.MethodGet, "/api/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 0, body["total"])
}

func TestUnknownRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, _ := do(t, srv.Handler(), http.MethodGet, "/api/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()
	require.True(t, rl.allow("a", now))
	require.True(t, rl.allow("a", now))
	require.False(t, rl.allow("a", now))
	require.True(t, rl.allow("b", now))
	require.True(t, rl.allow("a", now.Add(time.Second)))
	require.Equal(t, 2, rl.tracked())

	// Idle buckets are dropped on the next sweep.
	require.True(t, rl.allow("c", now.Add(2*time.Minute)))
	require.Equal(t, 1, rl.tracked())
}
