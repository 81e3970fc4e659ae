package model

import "time"

type EventKind string

const (
	EventVaultCreated     EventKind = "vault.created"
	EventUploadBatch      EventKind = "vault.upload_batch"
	EventIndexingStarted  EventKind = "vault.indexing_started"
	EventAdminReindex     EventKind = "vault.admin_reindex"
	EventVaultTransition  EventKind = "vault.transition"
	EventAgentCreated     EventKind = "agent.created"
	EventAgentUpdated     EventKind = "agent.updated"
	EventAgentDeleted     EventKind = "agent.deleted"
	EventChatExchange     EventKind = "chat.exchange"
	EventChatHistoryClear EventKind = "chat.history_cleared"
)

// Event is a journal entry describing one orchestration action.
type Event struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CorrelationID string    `gorm:"size:36;not null;index" json:"correlation_id"`
	Kind          EventKind `gorm:"size:48;not null;index" json:"kind"`
	VaultID       string    `gorm:"size:64;index" json:"vault_id,omitempty"`
	AgentID       string    `gorm:"size:64;index" json:"agent_id,omitempty"`
	FromStatus    string    `gorm:"size:16" json:"from_status,omitempty"`
	ToStatus      string    `gorm:"size:16" json:"to_status,omitempty"`
	Detail        string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
