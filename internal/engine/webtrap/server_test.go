package webtrap

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowport/hollowport/internal/config"
	"github.com/hollowport/hollowport/internal/model"
)

type captureSink struct {
	mu  sync.Mutex
	obs []model.Observation
}

func (c *captureSink) Submit(ctx context.Context, obs model.Observation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.obs = append(c.obs, obs)
	return nil
}

func (c *captureSink) last(t *testing.T) model.Observation {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.obs)
	return c.obs[len(c.obs)-1]
}

func newTestServer() (*Server, *captureSink) {
	sink := &captureSink{}
	cfg := &config.HTTPConfig{
		Enabled:      true,
		ListenAddr:   ":0",
		HoneypotID:   "http-default",
		ServerHeader: "nginx/1.18.0",
		MaxBodyBytes: 10240,
	}
	return NewServer(cfg, sink), sink
}

func TestAnyPathReturnsStaticPage(t *testing.T) {
	s, sink := newTestServer()

	for _, path := range []string{"/", "/admin", "/wp-login.php", "/api/v1/users?id=1%20OR%201=1"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "203.0.113.9:50000"
		w := httptest.NewRecorder()
		s.handle(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "nginx/1.18.0", w.Header().Get("Server"))
		body, _ := io.ReadAll(w.Result().Body)
		assert.Equal(t, staticPage, string(body), "response body is fixed for %s", path)
	}
	assert.Len(t, sink.obs, 4)
}

func TestObservationCapturesRequest(t *testing.T) {
	s, sink := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/login?next=%2Fadmin", strings.NewReader("user=root&pass=toor"))
	req.RemoteAddr = "203.0.113.9:50000"
	req.Host = "victim.example"
	req.Header.Set("User-Agent", "sqlmap/1.7")
	w := httptest.NewRecorder()
	s.handle(w, req)

	obs := sink.last(t)
	assert.Equal(t, "http-default", obs.HoneypotID)
	assert.Equal(t, "http_connection", obs.EventType)
	assert.Equal(t, model.LevelLow, obs.Level)
	assert.Equal(t, "203.0.113.9", obs.SourceIP)
	assert.Equal(t, "POST", obs.Details["method"])
	assert.Equal(t, "/login", obs.Details["path"])
	assert.Equal(t, "sqlmap/1.7", obs.Details["user_agent"])
	assert.Equal(t, "user=root&pass=toor", obs.Details["body"])

	text := obs.RequestText()
	lines := strings.Split(text, "\n")
	require.GreaterOrEqual(t, len(lines), 6)
	assert.Equal(t, "http://victim.example/login?next=%2Fadmin", lines[0])
	assert.Equal(t, "/login", lines[1])
	assert.Equal(t, "next=%2Fadmin", lines[2])
	assert.Contains(t, text, "user=root&pass=toor")
}

func TestBasicAuthDecoded(t *testing.T) {
	s, sink := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.RemoteAddr = "203.0.113.9:50000"
	req.SetBasicAuth("svc_backup_01", "hunter2")
	w := httptest.NewRecorder()
	s.handle(w, req)

	obs := sink.last(t)
	assert.Equal(t, "svc_backup_01", obs.Details["username"])
	assert.Equal(t, "hunter2", obs.Details["password"])
	assert.Contains(t, obs.RequestText(), "username=svc_backup_01")
	assert.Contains(t, obs.RequestText(), "password=hunter2")
}

func TestBodyCapEnforced(t *testing.T) {
	s, sink := newTestServer()

	big := strings.Repeat("A", 50000)
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(big))
	req.RemoteAddr = "203.0.113.9:50000"
	w := httptest.NewRecorder()
	s.handle(w, req)

	obs := sink.last(t)
	body, ok := obs.Details["body"].(string)
	require.True(t, ok)
	assert.Len(t, body, 10240)
	assert.Equal(t, 10240, obs.Details["body_length"])
}

func TestForwardedForCannotSpoofSourceIP(t *testing.T) {
	s, sink := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:40000"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.5")
	w := httptest.NewRecorder()
	s.handle(w, req)

	// the TCP peer wins; the header is attacker-writable
	assert.Equal(t, "203.0.113.9", sink.last(t).SourceIP)
}

func TestForwardedForFallbackWithoutRemoteAddr(t *testing.T) {
	s, sink := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ""
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.5")
	w := httptest.NewRecorder()
	s.handle(w, req)

	assert.Equal(t, "198.51.100.7", sink.last(t).SourceIP)
}

func TestInputNeverReflected(t *testing.T) {
	s, _ := newTestServer()

	marker := "<script>alert('zzz9_xss_probe')</script>"
	req := httptest.NewRequest(http.MethodPost, "/?q=zzz9_xss_probe", strings.NewReader(marker))
	req.RemoteAddr = "203.0.113.9:50000"
	w := httptest.NewRecorder()
	s.handle(w, req)

	body, _ := io.ReadAll(w.Result().Body)
	assert.NotContains(t, string(body), "zzz9_xss_probe")
}
