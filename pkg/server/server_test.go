package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathom-agent/fathom/pkg/config"
	"github.com/fathom-agent/fathom/pkg/observability"
	"github.com/fathom-agent/fathom/pkg/session"
)

func testServer(t *testing.T) (*Server, *session.Store) {
	t.Helper()
	store := session.NewStore(t.TempDir(), 0)
	var cfg config.ServerConfig
	cfg.SetDefaults()
	return New(cfg, store, observability.NewMetrics(), nil), store
}

func TestHealthz(t *testing.T) {
	s, _ := testServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := testServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	s, store := testServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	sess, err := store.CreateOrLoad("batch1")
	require.NoError(t, err)
	require.NoError(t, sess.SetStatus(session.StatusCompleted))
	require.NoError(t, sess.Flush())

	resp, err := http.Get(ts.URL + "/api/sessions/")
	require.NoError(t, err)
	var listing struct {
		Sessions []session.Summary `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	resp.Body.Close()
	require.Len(t, listing.Sessions, 1)
	assert.Equal(t, "batch1", listing.Sessions[0].SessionID)
	assert.Equal(t, session.StatusCompleted, listing.Sessions[0].Status)

	resp, err = http.Get(ts.URL + "/api/sessions/batch1")
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	resp.Body.Close()
	assert.Equal(t, "batch1", raw["session_id"])

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/batch1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/sessions/batch1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListSessionsEmpty(t *testing.T) {
	s, _ := testServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/sessions/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Sessions []session.Summary `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	assert.Empty(t, listing.Sessions)
}

func TestRunShutsDownOnContextCancel(t *testing.T) {
	store := session.NewStore(t.TempDir(), 0)
	var cfg config.ServerConfig
	cfg.SetDefaults()
	cfg.Port = 0 // ephemeral
	cfg.ShutdownTimeout = time.Second
	s := New(cfg, store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
