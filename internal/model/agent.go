package model

import "time"

type RetrievalMethod string

const (
	RetrievalGlobal RetrievalMethod = "global"
	RetrievalLocal  RetrievalMethod = "local"
)

const (
	DefaultLLMModel    = "gpt-5-mini-2025-08-07"
	DefaultTopK        = 10
	DefaultTemperature = 0.7
	MinTopK            = 1
	MaxTopK            = 50
	MaxTemperature     = 2.0
)

// SupportedModels is the fixed set of generation models the service accepts.
var SupportedModels = []string{
	"gpt-5-nano-2025-08-07",
	"gpt-5-mini-2025-08-07",
	"deepseek-v3-2-exp",
	"qwen3-max",
	"gemini-2.5-flash",
}

func IsSupportedModel(name string) bool {
	for _, m := range SupportedModels {
		if m == name {
			return true
		}
	}
	return false
}

type Agent struct {
	ID               string          `json:"agent_id"`
	Name             string          `json:"name"`
	RoleInstructions string          `json:"role_instructions"`
	VaultAccess      []string        `json:"vault_access"`
	RetrievalMethod  RetrievalMethod `json:"retrieval_method"`
	TopK             int             `json:"top_k"`
	LLMModel         string          `json:"llm_model"`
	Temperature      float64         `json:"temperature"`
	CreatedAt        *time.Time      `json:"created_at,omitempty"`
}
