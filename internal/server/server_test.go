package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	err error
}

func (f fakeChecker) Ping(context.Context) error { return f.err }

func TestHandleHealthz_AlwaysOK(t *testing.T) {
	s := New("0", nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleReadyz_AllChecksPass(t *testing.T) {
	s := New("0", map[string]Checker{"database": fakeChecker{}, "broker": fakeChecker{}})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleReadyz_FailingCheckReturns503(t *testing.T) {
	s := New("0", map[string]Checker{"database": fakeChecker{err: errors.New("connection refused")}})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleMetrics_ServesPrometheusFormat(t *testing.T) {
	s := New("0", nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestServer_StartRequiresPort(t *testing.T) {
	s := New("", nil)
	err := s.Start(context.Background())
	assert.Error(t, err)
}

func TestServer_Lifecycle(t *testing.T) {
	const port = "18099"
	s := New(port, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() { errCh <- s.Start(ctx) }()

	url := "http://127.0.0.1:" + port + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}, 2*time.Second, 50*time.Millisecond, "server failed to bind in time")

	resp, err := http.Get(url)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server shutdown timed out")
	}
}
