package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kbflow/internal/app"
	"kbflow/internal/transport/http/response"
)

type ChatHandler struct {
	orch *app.Orchestrator
}

type SendMessageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

func NewChatHandler(orch *app.Orchestrator) *ChatHandler {
	return &ChatHandler{orch: orch}
}

// SendMessage returns the reply even when the exchange failed, so clients can
// render the error turn that was recorded in the transcript.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	reply, err := h.orch.SendMessage(c.Request.Context(), c.Param("agent"), req.Message, req.SessionID)
	if err != nil {
		if reply != nil {
			status, code, _ := classify(err)
			response.Partial(c, status, code, "send message failed: "+err.Error(), reply)
			return
		}
		writeError(c, err, "send message failed")
		return
	}
	response.OK(c, reply)
}

func (h *ChatHandler) History(c *gin.Context) {
	conv, err := h.orch.LoadHistory(c.Request.Context(), c.Param("agent"), c.Query("session_id"))
	if err != nil {
		writeError(c, err, "load history failed")
		return
	}
	response.OK(c, conv)
}

func (h *ChatHandler) Clear(c *gin.Context) {
	result, err := h.orch.ClearHistory(c.Request.Context(), c.Param("agent"), c.Query("session_id"))
	if err != nil {
		writeError(c, err, "clear history failed")
		return
	}
	data := gin.H{"session_id": result.SessionID, "remote_cleared": result.RemoteCleared}
	if result.RemoteErr != nil {
		data["remote_error"] = result.RemoteErr.Error()
	}
	response.OK(c, data)
}

func (h *ChatHandler) Select(c *gin.Context) {
	response.OK(c, h.orch.SelectAgent(c.Param("agent")))
}

func (h *ChatHandler) Transcript(c *gin.Context) {
	response.OK(c, h.orch.Transcript(c.Param("agent")))
}
