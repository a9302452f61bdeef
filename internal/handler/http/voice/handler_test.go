package voice

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riffline-calling/internal/domain"
	"riffline-calling/internal/service/voice"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func newRouter() *gin.Engine {
	channels := []domain.VoiceChannel{{ID: "duo", Name: "Duo", Capacity: 1}}
	h := NewHandler(voice.NewService(channels, clock.NewMock()))

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("user_id", c.GetHeader("X-User"))
		c.Set("display_name", "")
		c.Next()
	})
	v := router.Group("/v1/voice")
	{
		v.GET("/channels", h.ListChannels)
		v.POST("/channels/:id/join", h.Join)
		v.GET("/sessions/:id", h.GetSession)
		v.POST("/sessions/:id/leave", h.Leave)
		v.POST("/sessions/:id/mute", h.SetMuted)
		v.POST("/sessions/:id/speaking", h.SetSpeaking)
	}
	return router
}

func do(t *testing.T, router *gin.Engine, user, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("X-User", user)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestVoiceRoomFlow(t *testing.T) {
	router := newRouter()

	status, env := do(t, router, "alice", http.MethodPost, "/v1/voice/channels/duo/join", "")
	require.Equal(t, http.StatusOK, status)
	var session domain.VoiceSession
	require.NoError(t, json.Unmarshal(env.Data, &session))
	require.Len(t, session.Users, 1)
	assert.Equal(t, "alice", session.Users[0].DisplayName)

	status, env = do(t, router, "bob", http.MethodPost, "/v1/voice/channels/duo/join", "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	status, env = do(t, router, "alice", http.MethodPost, "/v1/voice/sessions/"+session.ID+"/mute", `{"value":true}`)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &session))
	assert.True(t, session.Users[0].IsMuted)

	status, _ = do(t, router, "alice", http.MethodPost, "/v1/voice/sessions/"+session.ID+"/speaking", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = do(t, router, "alice", http.MethodGet, "/v1/voice/channels", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"occupancy":1`)

	status, _ = do(t, router, "alice", http.MethodPost, "/v1/voice/sessions/"+session.ID+"/leave", "")
	require.Equal(t, http.StatusOK, status)

	status, env = do(t, router, "alice", http.MethodGet, "/v1/voice/sessions/"+session.ID, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestJoin_UnknownChannel(t *testing.T) {
	router := newRouter()

	status, env := do(t, router, "alice", http.MethodPost, "/v1/voice/channels/nowhere/join", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}
