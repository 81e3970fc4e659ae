package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"kbflow/internal/model"
	"kbflow/internal/repository"
	"kbflow/internal/transport/http/response"
)

type EventHandler struct {
	repo *repository.EventRepository
}

func NewEventHandler(repo *repository.EventRepository) *EventHandler {
	return &EventHandler{repo: repo}
}

func (h *EventHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	events, err := h.repo.List(c.Request.Context(), repository.EventFilter{
		VaultID: c.Query("vault_id"),
		AgentID: c.Query("agent_id"),
		Kind:    model.EventKind(c.Query("kind")),
		Limit:   limit,
	})
	if err != nil {
		writeError(c, err, "list events failed")
		return
	}
	response.OK(c, gin.H{"events": events})
}
