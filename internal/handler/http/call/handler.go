package call

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"riffline-calling/internal/domain"
	"riffline-calling/internal/service/call"
	"riffline-calling/internal/service/directory"
	"riffline-calling/pkg/errors"
	"riffline-calling/pkg/response"
)

// Handler handles call HTTP requests from the local UI
type Handler struct {
	manager   *call.Manager
	directory *directory.Service
}

// NewHandler creates a new call handler
func NewHandler(manager *call.Manager, dir *directory.Service) *Handler {
	return &Handler{
		manager:   manager,
		directory: dir,
	}
}

// InitiateCallRequest represents call initiation request
type InitiateCallRequest struct {
	ToUserID string `json:"toUserId" binding:"required"`
	CallType string `json:"callType" binding:"required,oneof=audio video"`
}

// EndCallRequest represents an optional hang-up reason
type EndCallRequest struct {
	Reason string `json:"reason" binding:"omitempty,oneof=ended missed declined"`
}

// SignalRequest represents a signal for the current call's peer
type SignalRequest struct {
	Type string          `json:"type" binding:"required"`
	Data json.RawMessage `json:"data"`
}

// InitiateCall places an outgoing call
// POST /v1/calls/initiate
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	placed, err := h.manager.InitiateCall(c.Request.Context(), req.ToUserID, domain.CallType(req.CallType))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, placed)
}

// AnswerCall accepts the pending incoming call
// POST /v1/calls/:id/answer
func (h *Handler) AnswerCall(c *gin.Context) {
	answered, err := h.manager.AnswerCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, answered)
}

// DeclineCall rejects the pending incoming call
// POST /v1/calls/:id/decline
func (h *Handler) DeclineCall(c *gin.Context) {
	callID := c.Param("id")
	if err := h.manager.DeclineCall(c.Request.Context(), callID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Call declined",
		"callId":  callID,
	})
}

// EndCall hangs up the current call
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	var req EndCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
	}

	callID := c.Param("id")
	if err := h.manager.EndCall(c.Request.Context(), callID, domain.CallStatus(req.Reason)); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Call ended",
		"callId":  callID,
	})
}

// SendSignal forwards a signal to the current call's peer
// POST /v1/calls/signal
func (h *Handler) SendSignal(c *gin.Context) {
	var req SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.manager.SendSignal(c.Request.Context(), domain.SignalType(req.Type), req.Data); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Signal sent"})
}

// Toggle flips a local media toggle
// POST /v1/calls/toggle/:kind
func (h *Handler) Toggle(c *gin.Context) {
	switch c.Param("kind") {
	case "mute":
		response.Success(c, http.StatusOK, gin.H{"muted": h.manager.ToggleMute()})
	case "video":
		response.Success(c, http.StatusOK, gin.H{"videoOff": h.manager.ToggleVideo()})
	case "speaker":
		response.Success(c, http.StatusOK, gin.H{"speakerOn": h.manager.ToggleSpeaker()})
	default:
		response.FromError(c, errors.InvalidInputError("toggle must be mute, video or speaker"))
	}
}

// GetCurrent returns the call state snapshot
// GET /v1/calls/current
func (h *Handler) GetCurrent(c *gin.Context) {
	response.Success(c, http.StatusOK, h.manager.Snapshot())
}

// GetHistory returns the device's local call history
// GET /v1/calls/history
func (h *Handler) GetHistory(c *gin.Context) {
	items, err := h.directory.LocalHistory(c.Request.Context(), h.manager.UserID())
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"items": items})
}

// GetRemoteHistory returns the call history from the shared calls table,
// falling back to the local history when it is unreachable
// GET /v1/calls/history/remote
func (h *Handler) GetRemoteHistory(c *gin.Context) {
	items, err := h.directory.GetCallHistory(c.Request.Context(), h.manager.UserID())
	if err != nil {
		if items != nil && errors.IsCode(err, errors.ErrCodeTransport) {
			response.Degraded(c, gin.H{"items": items}, err)
			return
		}
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"items": items})
}

// Reconcile recovers calls lost across a restart
// POST /v1/calls/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	if err := h.manager.Reconcile(c.Request.Context()); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, h.manager.Snapshot())
}
