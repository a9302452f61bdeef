package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riffline-calling/pkg/jwt"
	"riffline-calling/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func authRouter(t *testing.T) (*gin.Engine, *jwt.JWTManager) {
	t.Helper()
	manager := jwt.NewJWTManager("test-secret", "riffline-api")
	router := gin.New()
	router.GET("/me", AuthMiddleware(manager, "alice"), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id")+"/"+c.GetString("display_name"))
	})
	return router, manager
}

func TestAuthMiddleware(t *testing.T) {
	router, manager := authRouter(t)

	own, err := manager.GenerateAccessToken("alice", "Alice", time.Minute)
	require.NoError(t, err)
	other, err := manager.GenerateAccessToken("bob", "Bob", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{name: "missing token", status: http.StatusUnauthorized},
		{name: "malformed header", header: "Token " + own, status: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "other user", header: "Bearer " + other, status: http.StatusForbidden},
		{name: "device user", header: "Bearer " + own, status: http.StatusOK},
		{name: "query token", query: "?access_token=" + own, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(router, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "alice/Alice", w.Body.String())
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(CORSMiddleware(ParseOrigins(" https://ui.riffline.app , ")))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://ui.riffline.app")
	w := serve(router, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://ui.riffline.app", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.Equal(t, http.StatusForbidden, serve(router, req).Code)

	req = httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	assert.Equal(t, http.StatusNoContent, serve(router, req).Code)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestLogger_PropagatesRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestLogger())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := serve(router, req)
	assert.Equal(t, "req-1", w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))

	w = serve(router, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRecovery(t *testing.T) {
	router := gin.New()
	router.Use(Recovery())
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := serve(router, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestNoRoute(t *testing.T) {
	router := gin.New()
	router.Use(RequestLogger())
	router.NoRoute(NoRoute())

	req := httptest.NewRequest(http.MethodGet, "/v1/nowhere", nil)
	req.Header.Set("X-Request-ID", "req-404")
	w := serve(router, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"NOT_FOUND"`)
	assert.Contains(t, w.Body.String(), `"request_id":"req-404"`)
}

func TestHealthCheck(t *testing.T) {
	var degraded map[string]string
	router := gin.New()
	router.Use(HealthCheck("call-agent", func() map[string]string { return degraded }))
	router.GET("/other", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	w := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	degraded = map[string]string{"redis": "degraded"}
	w = serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, w.Body.String(), `"degraded"`)

	assert.Equal(t, http.StatusTeapot, serve(router, httptest.NewRequest(http.MethodGet, "/other", nil)).Code)
}

func TestRequestTimeout(t *testing.T) {
	router := gin.New()
	router.Use(RequestTimeout(time.Minute))
	router.GET("/v1/calls/current", func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		assert.True(t, ok)
		c.Status(http.StatusOK)
	})
	router.GET("/v1/calls/ws/state", func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		assert.False(t, ok)
		c.Status(http.StatusOK)
	})

	serve(router, httptest.NewRequest(http.MethodGet, "/v1/calls/current", nil))
	serve(router, httptest.NewRequest(http.MethodGet, "/v1/calls/ws/state", nil))
}

func TestSecurityHeaders(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeaders())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(router, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestPrometheusMiddleware_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	appMetrics := metrics.NewMetricsWith(registry, "test-service")

	router := gin.New()
	router.Use(NewPrometheusMiddleware(appMetrics).Handler())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", MetricsHandler(registry))

	serve(router, httptest.NewRequest(http.MethodGet, "/ping", nil))
	serve(router, httptest.NewRequest(http.MethodGet, "/missing", nil))

	w := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `http_requests_total{endpoint="/ping",method="GET",service="test-service",status="200"} 1`)
	assert.Contains(t, body, "http_request_duration_seconds")
	assert.Contains(t, body, `http_requests_in_flight{service="test-service"}`)
}
