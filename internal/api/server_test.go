package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexconsult/avaluo-api/internal/config"
	"github.com/nexconsult/avaluo-api/internal/logger"
	"github.com/nexconsult/avaluo-api/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server: config.ServerConfig{Environment: "test"},
		Site:   config.DefaultSite(),
		Browser: config.BrowserConfig{
			Headless:          true,
			LaunchTimeout:     time.Second,
			NavigationTimeout: time.Second,
			SelectorTimeout:   time.Second,
			CaptchaTimeout:    time.Second,
			ActionTimeout:     time.Second,
			PopupTimeout:      time.Second,
			PopupLoadTimeout:  time.Second,
			FetchTimeout:      time.Second,
			ClickAttempts:     1,
			ClickGrace:        time.Second,
			FrameRounds:       1,
		},
		Session: config.SessionConfig{TTL: time.Minute, SweepInterval: time.Minute},
		Retry:   config.RetryConfig{MaxAttempts: 1},
		Storage: config.StorageConfig{CacheTTL: time.Hour},
		Security: config.SecurityConfig{
			RateLimit: config.RateLimitConfig{RequestsPerMinute: 600, BurstSize: 10, CleanupInterval: time.Minute},
			CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}},
		},
	}

	container, err := services.NewContainer(cfg, logger.Discard())
	require.NoError(t, err)

	server := NewServer(cfg, logger.Discard(), container)
	t.Cleanup(func() {
		server.Close()
		_ = container.Close()
	})
	return server
}

func request(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func TestServerRoutes(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		want   string
	}{
		{"liveness", http.MethodGet, "/health/live", "", http.StatusOK, `"alive":true`},
		{"health degraded without oracle", http.MethodGet, "/health", "", http.StatusOK, `"status":"degraded"`},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK, "go_goroutines"},
		{"session stats", http.MethodGet, "/api/v1/sessions/stats", "", http.StatusOK, `"active_sessions":0`},
		{"cache stats", http.MethodGet, "/api/v1/cache/stats", "", http.StatusOK, `"certificates"`},
		{"unknown session", http.MethodGet, "/api/v1/captcha/session/nope", "", http.StatusNotFound, "SESSION_NOT_FOUND"},
		{"invalid locator", http.MethodPost, "/api/v1/captcha/submit", `{"region":"13","comuna":"06101","manzana":"500","predio":"295"}`, http.StatusBadRequest, "INVALID_LOCATOR"},
		{"auto without oracle", http.MethodPost, "/api/v1/captcha/auto", `{"region":"06","comuna":"06101","manzana":"500","predio":"295"}`, http.StatusServiceUnavailable, "ORACLE_UNAVAILABLE"},
		{"resolve unknown session", http.MethodPost, "/api/v1/captcha/resolve", `{"session_id":"nope","captcha_value":"4821"}`, http.StatusNotFound, "SESSION_NOT_FOUND"},
		{"not found", http.MethodGet, "/api/v2/anything", "", http.StatusNotFound, "Not Found"},
		{"method not allowed", http.MethodDelete, "/health/live", "", http.StatusMethodNotAllowed, "Method Not Allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := request(server, tt.method, tt.path, tt.body)

			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), tt.want)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}
