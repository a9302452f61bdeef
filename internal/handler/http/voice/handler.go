package voice

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"riffline-calling/internal/domain"
	"riffline-calling/internal/service/voice"
	"riffline-calling/pkg/response"
)

// Handler handles voice room HTTP requests
type Handler struct {
	voiceService *voice.Service
}

// NewHandler creates a new voice handler
func NewHandler(voiceService *voice.Service) *Handler {
	return &Handler{
		voiceService: voiceService,
	}
}

// ToggleRequest carries a boolean flag
type ToggleRequest struct {
	Value *bool `json:"value" binding:"required"`
}

// ListChannels returns the room catalog
// GET /v1/voice/channels
func (h *Handler) ListChannels(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"channels": h.voiceService.ListChannels(c.Request.Context()),
	})
}

// Join enters a voice room as the authenticated user
// POST /v1/voice/channels/:id/join
func (h *Handler) Join(c *gin.Context) {
	user := domain.VoiceUser{
		UserID:      c.GetString("user_id"),
		DisplayName: c.GetString("display_name"),
	}

	session, err := h.voiceService.Join(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// Leave exits a voice room
// POST /v1/voice/sessions/:id/leave
func (h *Handler) Leave(c *gin.Context) {
	if err := h.voiceService.Leave(c.Request.Context(), c.Param("id")); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Left voice channel"})
}

// GetSession returns a session with the room roster
// GET /v1/voice/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.voiceService.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// SetMuted updates the mute flag
// POST /v1/voice/sessions/:id/mute
func (h *Handler) SetMuted(c *gin.Context) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	session, err := h.voiceService.SetMuted(c.Request.Context(), c.Param("id"), *req.Value)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// SetSpeaking updates the speaking flag
// POST /v1/voice/sessions/:id/speaking
func (h *Handler) SetSpeaking(c *gin.Context) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	session, err := h.voiceService.SetSpeaking(c.Request.Context(), c.Param("id"), *req.Value)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}
