package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ismart-scholar/workbench/internal/config"
)

func TestOriginPolicyAllow(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.ServerConfig
		origin string
		want   bool
	}{
		{"no origin header", config.ServerConfig{}, "", true},
		{"same origin", config.ServerConfig{}, "http://127.0.0.1:8090", true},
		{"foreign origin by default", config.ServerConfig{}, "https://evil.example", false},
		{"malformed origin", config.ServerConfig{}, "null", false},
		{"listed origin", config.ServerConfig{EnableCORS: true, AllowOrigins: "http://localhost:5173, https://app.example"}, "https://app.example", true},
		{"unlisted origin", config.ServerConfig{EnableCORS: true, AllowOrigins: "http://localhost:5173"}, "https://evil.example", false},
		{"list ignored without cors", config.ServerConfig{AllowOrigins: "https://app.example"}, "https://app.example", false},
		{"explicit wildcard", config.ServerConfig{EnableCORS: true, AllowOrigins: "*"}, "https://any.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8090/api/uploads", nil)
			if tt.origin != "" {
				req.Header.Set(echo.HeaderOrigin, tt.origin)
			}
			assert.Equal(t, tt.want, NewOriginPolicy(tt.cfg).Allow(req))
		})
	}
}

func TestDefaultsDisableCORS(t *testing.T) {
	cfg := config.DefaultConfig().Server
	assert.False(t, cfg.EnableCORS)
	assert.Empty(t, cfg.AllowOrigins)
}

func TestCrossOriginUploadRejected(t *testing.T) {
	env := newTestEnv(t)
	target := env.writeFile(t, "secret.txt", "key")

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", strings.NewReader(`{"refs":["`+target+`"]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderOrigin, "https://evil.example")
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "FORBIDDEN")
	assert.Empty(t, env.queue.Tasks())

	req = httptest.NewRequest(http.MethodGet, "/api/uploads", nil)
	req.Header.Set(echo.HeaderOrigin, "https://evil.example")
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestSameOriginUploadAccepted(t *testing.T) {
	env := newTestEnv(t)
	target := env.writeFile(t, "paper.pdf", "pdf")

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", strings.NewReader(`{"refs":["`+target+`"]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderOrigin, "http://"+req.Host)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestEventSocketRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/events"
	header := http.Header{}
	header.Set(echo.HeaderOrigin, "https://evil.example")
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if ws != nil {
		ws.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set(echo.HeaderOrigin, srv.URL)
	ws, _, err = websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	ws.Close()
}
