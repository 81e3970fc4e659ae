package app

import (
	"encoding/json"
	"strings"
	"time"

	"kbflow/internal/model"
)

// Payloads exchanged with the knowledge-base service. The service names vaults
// "folders"; both spellings are accepted on the way in.

type vaultPayload struct {
	FolderID      string `json:"folder_id"`
	VaultID       string `json:"vault_id"`
	Name          string `json:"name"`
	DocumentCount int    `json:"document_count"`
	Status        string `json:"status"`
	LastIndexed   string `json:"last_indexed"`
	ErrorMessage  string `json:"error_message"`
	Error         string `json:"error"`
}

func (p vaultPayload) id() string {
	if p.VaultID != "" {
		return p.VaultID
	}
	return p.FolderID
}

func (p vaultPayload) errorReason() string {
	if p.ErrorMessage != "" {
		return p.ErrorMessage
	}
	return p.Error
}

type documentPayload struct {
	DocID      string `json:"doc_id"`
	Title      string `json:"title"`
	Size       int64  `json:"size"`
	Status     string `json:"status"`
	UploadedAt string `json:"uploaded_at"`
}

type uploadPayload struct {
	DocID  string `json:"doc_id"`
	Status string `json:"status"`
}

type indexPayload struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type agentRequest struct {
	Name             string   `json:"name"`
	RoleInstructions string   `json:"role_instructions"`
	FolderAccess     []string `json:"folder_access"`
	RetrievalMethod  string   `json:"retrieval_method"`
	TopK             int      `json:"top_k"`
	LLMModel         string   `json:"llm_model"`
	Temperature      float64  `json:"temperature"`
}

type agentPayload struct {
	AgentID          string   `json:"agent_id"`
	Name             string   `json:"name"`
	RoleInstructions string   `json:"role_instructions"`
	FolderAccess     []string `json:"folder_access"`
	VaultAccess      []string `json:"vault_access"`
	RetrievalMethod  string   `json:"retrieval_method"`
	TopK             int      `json:"top_k"`
	LLMModel         string   `json:"llm_model"`
	Temperature      float64  `json:"temperature"`
	CreatedAt        string   `json:"created_at"`
}

func (p agentPayload) toModel() model.Agent {
	access := p.VaultAccess
	if len(access) == 0 {
		access = p.FolderAccess
	}
	return model.Agent{
		ID:               p.AgentID,
		Name:             p.Name,
		RoleInstructions: p.RoleInstructions,
		VaultAccess:      append([]string(nil), access...),
		RetrievalMethod:  model.RetrievalMethod(p.RetrievalMethod),
		TopK:             p.TopK,
		LLMModel:         p.LLMModel,
		Temperature:      p.Temperature,
		CreatedAt:        parseTimestamp(p.CreatedAt),
	}
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Stream    bool   `json:"stream"`
}

type citationPayload struct {
	FolderName string `json:"folder_name"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
}

type chatPayload struct {
	Response  string            `json:"response"`
	Citations []citationPayload `json:"citations"`
	SessionID string            `json:"session_id"`
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// historyPayload accepts either {"messages": [...]} or a bare array.
type historyPayload struct {
	Messages []historyMessage
}

func (h *historyPayload) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(data, &h.Messages)
	}
	var wrapped struct {
		Messages []historyMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	h.Messages = wrapped.Messages
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp reads the service's ISO-8601 timestamps, which may omit the zone.
func parseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
