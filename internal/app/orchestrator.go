package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kbflow/internal/gateway"
	"kbflow/internal/model"
)

const IndexingReminder = "Documents uploaded. Index the vault to make them queryable."

const shortIDLength = 8

type Options struct {
	// RequireReadyVault refuses chat unless at least one accessible vault is ready.
	RequireReadyVault bool
}

// Orchestrator is the single entry point for user actions. It enforces the rules
// that span registries and otherwise delegates.
type Orchestrator struct {
	gw     gateway.Caller
	vaults *VaultRegistry
	agents *AgentRegistry
	chat   *ChatController
	logger *zap.Logger
	opts   Options
}

func NewOrchestrator(gw gateway.Caller, vaults *VaultRegistry, agents *AgentRegistry, chat *ChatController, logger *zap.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		gw:     gw,
		vaults: vaults,
		agents: agents,
		chat:   chat,
		logger: logger.Named("orchestrator"),
		opts:   opts,
	}
}

type UploadResult struct {
	*UploadBatch
	NeedsIndexing bool   `json:"needs_indexing"`
	Reminder      string `json:"reminder,omitempty"`
}

type DocumentListing struct {
	VaultID    string           `json:"vault_id"`
	Documents  []model.Document `json:"documents"`
	TotalBytes int64            `json:"total_bytes"`
	TotalSize  string           `json:"total_size"`
}

type VaultRef struct {
	ID     string            `json:"vault_id"`
	Name   string            `json:"name"`
	Status model.VaultStatus `json:"status,omitempty"`
	Known  bool              `json:"known"`
}

type AgentProfile struct {
	Agent  model.Agent `json:"agent"`
	Vaults []VaultRef  `json:"vaults"`
}

type PingResult struct {
	Reachable  bool          `json:"reachable"`
	VaultCount int           `json:"vault_count"`
	Latency    time.Duration `json:"latency_ns"`
}

func (o *Orchestrator) CreateVault(ctx context.Context, name string) (*model.Vault, error) {
	return o.vaults.Create(ctx, name)
}

func (o *Orchestrator) ListVaults(ctx context.Context) ([]model.Vault, error) {
	return o.vaults.ListAll(ctx)
}

// UploadDocuments never starts indexing; it reports whether indexing is now due.
func (o *Orchestrator) UploadDocuments(ctx context.Context, vaultID string, files []UploadFile) (*UploadResult, error) {
	batch, err := o.vaults.Upload(ctx, vaultID, files)
	if err != nil {
		return nil, err
	}
	result := &UploadResult{UploadBatch: batch, NeedsIndexing: batch.SuccessCount > 0}
	if result.NeedsIndexing {
		result.Reminder = IndexingReminder
	}
	return result, nil
}

func (o *Orchestrator) ListDocuments(ctx context.Context, vaultID string) (*DocumentListing, error) {
	docs, err := o.vaults.ListDocuments(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, d := range docs {
		total += d.SizeBytes
	}
	return &DocumentListing{
		VaultID:    vaultID,
		Documents:  docs,
		TotalBytes: total,
		TotalSize:  units.HumanSize(float64(total)),
	}, nil
}

func (o *Orchestrator) StartIndexing(ctx context.Context, vaultID string, profile model.IndexProfile) (*model.IndexJob, error) {
	return o.vaults.StartIndexing(ctx, vaultID, profile)
}

func (o *Orchestrator) RefreshVault(ctx context.Context, vaultID string) (*model.Vault, error) {
	return o.vaults.RefreshStatus(ctx, vaultID)
}

func (o *Orchestrator) AdminReindex(ctx context.Context, profile model.IndexProfile) (*model.IndexJob, error) {
	return o.vaults.AdminReindex(ctx, profile)
}

func (o *Orchestrator) CreateAgent(ctx context.Context, in AgentInput) (*model.Agent, error) {
	in, err := o.agents.Prepare(in)
	if err != nil {
		return nil, err
	}
	if err := o.checkVaults(ctx, in.VaultAccess); err != nil {
		return nil, err
	}
	return o.agents.Create(ctx, in)
}

func (o *Orchestrator) UpdateAgent(ctx context.Context, agentID string, in AgentInput) (*model.Agent, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, illegal(CodeNoAgentLoaded, "load an agent before updating it")
	}
	in, err := o.agents.Prepare(in)
	if err != nil {
		return nil, err
	}
	if err := o.checkVaults(ctx, in.VaultAccess); err != nil {
		return nil, err
	}
	return o.agents.Update(ctx, agentID, in)
}

func (o *Orchestrator) DeleteAgent(ctx context.Context, agentID string) error {
	if err := o.agents.Delete(ctx, agentID); err != nil {
		return err
	}
	o.chat.Select(agentID)
	return nil
}

func (o *Orchestrator) GetAgent(ctx context.Context, agentID string) (*model.Agent, error) {
	return o.agents.Get(ctx, agentID)
}

func (o *Orchestrator) ListAgents(ctx context.Context) ([]model.Agent, error) {
	return o.agents.ListAll(ctx)
}

// DescribeAgent loads an agent and resolves the names of the vaults it can read.
func (o *Orchestrator) DescribeAgent(ctx context.Context, agentID string) (*AgentProfile, error) {
	var (
		agent  *model.Agent
		vaults []model.Vault
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		agent, err = o.agents.Get(gctx, agentID)
		return err
	})
	g.Go(func() error {
		var err error
		vaults, err = o.vaults.ListAll(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]model.Vault, len(vaults))
	for _, v := range vaults {
		byID[v.ID] = v
	}
	profile := &AgentProfile{Agent: *agent, Vaults: make([]VaultRef, 0, len(agent.VaultAccess))}
	for _, id := range agent.VaultAccess {
		ref := VaultRef{ID: id, Name: shortID(id)}
		if v, ok := byID[id]; ok {
			ref.Name, ref.Status, ref.Known = v.Name, v.Status, true
		}
		profile.Vaults = append(profile.Vaults, ref)
	}
	return profile, nil
}

// SendMessage resolves the agent, applies the vault gates and hands the exchange
// to the chat controller.
func (o *Orchestrator) SendMessage(ctx context.Context, agentID, text, sessionID string) (*Reply, error) {
	agentID, text, err := validateExchange(agentID, text)
	if err != nil {
		return nil, err
	}
	agent, err := o.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if len(agent.VaultAccess) == 0 {
		return nil, illegal(CodeAgentWithoutVaults, "agent "+agentID+" has no vault access")
	}
	if o.opts.RequireReadyVault {
		if err := o.requireReadyVault(ctx, agent.VaultAccess); err != nil {
			return nil, err
		}
	} else {
		o.warnUnready(agent)
	}
	return o.chat.SendMessage(ctx, agentID, text, sessionID)
}

func (o *Orchestrator) ClearHistory(ctx context.Context, agentID, sessionID string) (ClearResult, error) {
	return o.chat.ClearHistory(ctx, agentID, sessionID)
}

func (o *Orchestrator) LoadHistory(ctx context.Context, agentID, sessionID string) (Conversation, error) {
	return o.chat.LoadHistory(ctx, agentID, sessionID)
}

func (o *Orchestrator) SelectAgent(agentID string) Conversation {
	return o.chat.Select(strings.TrimSpace(agentID))
}

func (o *Orchestrator) Transcript(agentID string) Conversation {
	return o.chat.Transcript(strings.TrimSpace(agentID))
}

// Ping checks that the service answers within the ping timeout.
func (o *Orchestrator) Ping(ctx context.Context) (*PingResult, error) {
	start := time.Now()
	var out []vaultPayload
	if _, err := o.gw.Call(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   "/folders/list",
		Class:  gateway.ClassPing,
	}, &out); err != nil {
		return &PingResult{Latency: time.Since(start)}, fmt.Errorf("ping failed: %w", err)
	}
	return &PingResult{Reachable: true, VaultCount: len(out), Latency: time.Since(start)}, nil
}

func (o *Orchestrator) checkVaults(ctx context.Context, ids []string) error {
	missing, err := o.vaults.Missing(ctx, ids)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return invalid(CodeUnknownVault, strings.Join(missing, ", "))
	}
	return nil
}

func (o *Orchestrator) requireReadyVault(ctx context.Context, ids []string) error {
	if _, err := o.vaults.Missing(ctx, ids); err != nil {
		return err
	}
	for _, id := range ids {
		if v, ok := o.vaults.Get(id); ok && v.Status.Queryable() {
			return nil
		}
	}
	return illegal(CodeNoReadyVault, "none of the agent's vaults is ready")
}

func (o *Orchestrator) warnUnready(agent *model.Agent) {
	for _, id := range agent.VaultAccess {
		if v, ok := o.vaults.Get(id); ok && !v.Status.Queryable() {
			o.logger.Debug("chatting against a vault that is not ready",
				zap.String("agent_id", agent.ID),
				zap.String("vault_id", id),
				zap.String("status", string(v.Status)))
		}
	}
}

func shortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}
