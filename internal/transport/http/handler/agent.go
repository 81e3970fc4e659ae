package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kbflow/internal/app"
	"kbflow/internal/model"
	"kbflow/internal/transport/http/response"
)

type AgentHandler struct {
	orch *app.Orchestrator
}

// AgentRequest tells an omitted top_k or temperature apart from an explicit zero.
type AgentRequest struct {
	Name             string                `json:"name"`
	RoleInstructions string                `json:"role_instructions"`
	VaultAccess      []string              `json:"vault_access"`
	RetrievalMethod  model.RetrievalMethod `json:"retrieval_method"`
	TopK             *int                  `json:"top_k"`
	LLMModel         string                `json:"llm_model"`
	Temperature      *float64              `json:"temperature"`
}

func (r AgentRequest) input() app.AgentInput {
	in := app.AgentInput{
		Name:             r.Name,
		RoleInstructions: r.RoleInstructions,
		VaultAccess:      r.VaultAccess,
		RetrievalMethod:  r.RetrievalMethod,
		TopK:             model.DefaultTopK,
		LLMModel:         r.LLMModel,
		Temperature:      model.DefaultTemperature,
	}
	if r.TopK != nil {
		in.TopK = *r.TopK
	}
	if r.Temperature != nil {
		in.Temperature = *r.Temperature
	}
	return in
}

func NewAgentHandler(orch *app.Orchestrator) *AgentHandler {
	return &AgentHandler{orch: orch}
}

func (h *AgentHandler) Create(c *gin.Context) {
	var req AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	agent, err := h.orch.CreateAgent(c.Request.Context(), req.input())
	if err != nil {
		writeError(c, err, "create agent failed")
		return
	}
	response.OK(c, agent)
}

func (h *AgentHandler) List(c *gin.Context) {
	agents, err := h.orch.ListAgents(c.Request.Context())
	if err != nil {
		writeError(c, err, "list agents failed")
		return
	}
	response.OK(c, gin.H{"agents": agents})
}

func (h *AgentHandler) Get(c *gin.Context) {
	agent, err := h.orch.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "get agent failed")
		return
	}
	response.OK(c, agent)
}

func (h *AgentHandler) Describe(c *gin.Context) {
	profile, err := h.orch.DescribeAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "describe agent failed")
		return
	}
	response.OK(c, profile)
}

func (h *AgentHandler) Update(c *gin.Context) {
	var req AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	agent, err := h.orch.UpdateAgent(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		writeError(c, err, "update agent failed")
		return
	}
	response.OK(c, agent)
}

func (h *AgentHandler) Delete(c *gin.Context) {
	if err := h.orch.DeleteAgent(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err, "delete agent failed")
		return
	}
	response.OK(c, gin.H{"deleted": true})
}
