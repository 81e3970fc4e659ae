package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"kbflow/internal/gateway"
	"kbflow/internal/model"
)

const minAgentNameLength = 3

// AgentInput carries the mutable fields of an agent; update replaces all of them.
type AgentInput struct {
	Name             string                `json:"name"`
	RoleInstructions string                `json:"role_instructions"`
	VaultAccess      []string              `json:"vault_access"`
	RetrievalMethod  model.RetrievalMethod `json:"retrieval_method"`
	TopK             int                   `json:"top_k"`
	LLMModel         string                `json:"llm_model"`
	Temperature      float64               `json:"temperature"`
}

// Normalize trims text fields, de-duplicates vault access and fills unset
// retrieval method and model with their defaults. TopK is taken as given.
func (in AgentInput) Normalize() AgentInput {
	out := in
	out.Name = strings.TrimSpace(in.Name)
	out.RoleInstructions = strings.TrimSpace(in.RoleInstructions)
	out.VaultAccess = nil
	seen := make(map[string]bool, len(in.VaultAccess))
	for _, id := range in.VaultAccess {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out.VaultAccess = append(out.VaultAccess, id)
	}
	if out.RetrievalMethod == "" {
		out.RetrievalMethod = model.RetrievalGlobal
	}
	if strings.TrimSpace(out.LLMModel) == "" {
		out.LLMModel = model.DefaultLLMModel
	}
	return out
}

// Validate applies the agent rules in order; the first failure wins.
func (in AgentInput) Validate() error {
	if utf8.RuneCountInString(strings.TrimSpace(in.Name)) < minAgentNameLength {
		return invalid(CodeNameTooShort, "agent name must be at least 3 characters")
	}
	if strings.TrimSpace(in.RoleInstructions) == "" {
		return invalid(CodeMissingInstructions, "role instructions are required")
	}
	if len(in.VaultAccess) == 0 {
		return invalid(CodeNoVaultSelected, "select at least one vault")
	}
	switch in.RetrievalMethod {
	case model.RetrievalGlobal, model.RetrievalLocal:
	default:
		return invalid(CodeInvalidRetrieval, string(in.RetrievalMethod))
	}
	if in.TopK < model.MinTopK || in.TopK > model.MaxTopK {
		return invalid(CodeInvalidTopK, fmt.Sprintf("top_k must be between %d and %d", model.MinTopK, model.MaxTopK))
	}
	if !model.IsSupportedModel(in.LLMModel) {
		return invalid(CodeUnsupportedModel, in.LLMModel)
	}
	if in.Temperature < 0 || in.Temperature > model.MaxTemperature {
		return invalid(CodeInvalidTemperature, "temperature must be between 0 and 2")
	}
	return nil
}

func (in AgentInput) request() agentRequest {
	return agentRequest{
		Name:             in.Name,
		RoleInstructions: in.RoleInstructions,
		FolderAccess:     in.VaultAccess,
		RetrievalMethod:  string(in.RetrievalMethod),
		TopK:             in.TopK,
		LLMModel:         in.LLMModel,
		Temperature:      in.Temperature,
	}
}

// AgentRegistry maps agent CRUD onto the service and caches what it has seen.
type AgentRegistry struct {
	gw      gateway.Caller
	logger  *zap.Logger
	journal journal

	mu     sync.RWMutex
	agents map[string]model.Agent
}

func NewAgentRegistry(gw gateway.Caller, publisher EventPublisher, logger *zap.Logger) *AgentRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("agents")
	return &AgentRegistry{
		gw:      gw,
		logger:  logger,
		journal: newJournal(publisher, logger),
		agents:  make(map[string]model.Agent),
	}
}

// Prepare normalizes and validates input without any network call.
func (r *AgentRegistry) Prepare(in AgentInput) (AgentInput, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return AgentInput{}, err
	}
	return in, nil
}

func (r *AgentRegistry) Create(ctx context.Context, in AgentInput) (*model.Agent, error) {
	in, err := r.Prepare(in)
	if err != nil {
		return nil, err
	}

	var out agentPayload
	if _, err := r.gw.Call(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/agents/create",
		Body:   in.request(),
		Class:  gateway.ClassRead,
	}, &out); err != nil {
		return nil, fmt.Errorf("create agent failed: %w", err)
	}
	if out.AgentID == "" {
		return nil, errors.New("create agent failed: response carried no agent id")
	}

	agent := r.merge(out, in)
	r.logger.Info("agent created", zap.String("agent_id", agent.ID), zap.String("name", agent.Name))
	r.journal.record(ctx, model.Event{Kind: model.EventAgentCreated, AgentID: agent.ID, Detail: agent.Name})
	return &agent, nil
}

func (r *AgentRegistry) Update(ctx context.Context, agentID string, in AgentInput) (*model.Agent, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, illegal(CodeNoAgentLoaded, "load an agent before updating it")
	}
	in, err := r.Prepare(in)
	if err != nil {
		return nil, err
	}

	var out agentPayload
	if _, err := r.gw.Call(ctx, gateway.Request{
		Method: http.MethodPut,
		Path:   "/agents/" + url.PathEscape(agentID),
		Body:   in.request(),
		Class:  gateway.ClassRead,
	}, &out); err != nil {
		return nil, r.remoteErr("update agent", agentID, err)
	}
	if out.AgentID == "" {
		out.AgentID = agentID
	}

	agent := r.merge(out, in)
	r.logger.Info("agent updated", zap.String("agent_id", agent.ID))
	r.journal.record(ctx, model.Event{Kind: model.EventAgentUpdated, AgentID: agent.ID, Detail: agent.Name})
	return &agent, nil
}

func (r *AgentRegistry) Delete(ctx context.Context, agentID string) error {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return invalid(CodeMissingAgent, "agent id is required")
	}
	if _, err := r.gw.Call(ctx, gateway.Request{
		Method: http.MethodDelete,
		Path:   "/agents/" + url.PathEscape(agentID),
		Class:  gateway.ClassRead,
	}, nil); err != nil {
		if gateway.IsNotFound(err) {
			r.evict(agentID)
		}
		return r.remoteErr("delete agent", agentID, err)
	}

	r.evict(agentID)
	r.logger.Info("agent deleted", zap.String("agent_id", agentID))
	r.journal.record(ctx, model.Event{Kind: model.EventAgentDeleted, AgentID: agentID})
	return nil
}

// Get always asks the service; the result refreshes the local cache.
func (r *AgentRegistry) Get(ctx context.Context, agentID string) (*model.Agent, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, invalid(CodeMissingAgent, "agent id is required")
	}

	var out agentPayload
	if _, err := r.gw.Call(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   "/agents/" + url.PathEscape(agentID),
		Class:  gateway.ClassRead,
	}, &out); err != nil {
		if gateway.IsNotFound(err) {
			r.evict(agentID)
		}
		return nil, r.remoteErr("get agent", agentID, err)
	}
	if out.AgentID == "" {
		out.AgentID = agentID
	}

	agent := out.toModel()
	r.mu.Lock()
	r.agents[agent.ID] = agent
	r.mu.Unlock()
	return &agent, nil
}

func (r *AgentRegistry) ListAll(ctx context.Context) ([]model.Agent, error) {
	var out []agentPayload
	if _, err := r.gw.Call(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   "/agents/list",
		Class:  gateway.ClassRead,
	}, &out); err != nil {
		return nil, fmt.Errorf("list agents failed: %w", err)
	}

	agents := make([]model.Agent, 0, len(out))
	fresh := make(map[string]model.Agent, len(out))
	for _, p := range out {
		agent := p.toModel()
		agents = append(agents, agent)
		fresh[agent.ID] = agent
	}
	r.mu.Lock()
	r.agents = fresh
	r.mu.Unlock()
	return agents, nil
}

// Cached returns the last seen configuration without a network call.
func (r *AgentRegistry) Cached(agentID string) (model.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	return agent, ok
}

// merge prefers the service's echo and falls back to what was sent.
func (r *AgentRegistry) merge(out agentPayload, in AgentInput) model.Agent {
	agent := out.toModel()
	if agent.Name == "" {
		agent.Name = in.Name
	}
	if agent.RoleInstructions == "" {
		agent.RoleInstructions = in.RoleInstructions
	}
	if len(agent.VaultAccess) == 0 {
		agent.VaultAccess = append([]string(nil), in.VaultAccess...)
	}
	if agent.RetrievalMethod == "" {
		agent.RetrievalMethod = in.RetrievalMethod
	}
	if agent.TopK == 0 {
		agent.TopK = in.TopK
	}
	if agent.LLMModel == "" {
		agent.LLMModel = in.LLMModel
	}
	if out.Temperature == 0 {
		agent.Temperature = in.Temperature
	}

	r.mu.Lock()
	r.agents[agent.ID] = agent
	r.mu.Unlock()
	return agent
}

func (r *AgentRegistry) evict(agentID string) {
	r.mu.Lock()
	delete(r.agents, agentID)
	r.mu.Unlock()
}

func (r *AgentRegistry) remoteErr(action, agentID string, err error) error {
	if gateway.IsNotFound(err) {
		return &NotFoundError{Kind: "agent", ID: agentID, Err: err}
	}
	return fmt.Errorf("%s failed: %w", action, err)
}
