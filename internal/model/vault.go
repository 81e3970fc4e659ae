package model

import "time"

type VaultStatus string

const (
	VaultNotIndexed VaultStatus = "not_indexed"
	VaultIndexing   VaultStatus = "indexing"
	VaultParsed     VaultStatus = "parsed"
	VaultReady      VaultStatus = "ready"
	VaultFailed     VaultStatus = "failed"
)

var vaultTransitions = map[VaultStatus][]VaultStatus{
	VaultNotIndexed: {VaultIndexing},
	VaultIndexing:   {VaultParsed, VaultReady, VaultFailed},
	VaultParsed:     {VaultReady, VaultFailed, VaultIndexing},
	VaultReady:      {VaultIndexing, VaultNotIndexed},
	VaultFailed:     {VaultIndexing, VaultNotIndexed},
}

// ParseVaultStatus maps a status string reported by the knowledge-base service.
func ParseVaultStatus(raw string) (VaultStatus, bool) {
	switch s := VaultStatus(raw); s {
	case VaultNotIndexed, VaultIndexing, VaultParsed, VaultReady, VaultFailed:
		return s, true
	}
	return "", false
}

// InProgress reports whether an indexing job is believed to be running.
func (s VaultStatus) InProgress() bool {
	return s == VaultIndexing || s == VaultParsed
}

// Queryable reports whether chat retrieval may use the vault.
func (s VaultStatus) Queryable() bool {
	return s == VaultReady
}

// CanTransition reports whether from -> to is a single legal step.
func CanTransition(from, to VaultStatus) bool {
	for _, next := range vaultTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionPath returns the steps needed to move from -> to. An observation that
// would skip the indexing state is routed through it. Returns nil when from == to.
// Callers handle in-progress -> not_indexed themselves.
func TransitionPath(from, to VaultStatus) []VaultStatus {
	if from == to {
		return nil
	}
	if CanTransition(from, to) {
		return []VaultStatus{to}
	}
	if CanTransition(from, VaultIndexing) && CanTransition(VaultIndexing, to) {
		return []VaultStatus{VaultIndexing, to}
	}
	return []VaultStatus{to}
}

type Vault struct {
	ID            string      `json:"vault_id"`
	Name          string      `json:"name"`
	DocumentCount int         `json:"document_count"`
	Status        VaultStatus `json:"status"`
	LastIndexed   *time.Time  `json:"last_indexed,omitempty"`
	ErrorReason   string      `json:"error_reason,omitempty"`
	JobID         string      `json:"job_id,omitempty"`
}

type IndexProfile string

const (
	IndexFast     IndexProfile = "fast"
	IndexStandard IndexProfile = "standard"

	DefaultIndexProfile = IndexFast
)

func (p IndexProfile) Valid() bool {
	return p == IndexFast || p == IndexStandard
}

// IndexJob is the acknowledgement of an accepted indexing request.
type IndexJob struct {
	VaultID string `json:"vault_id,omitempty"`
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Queued  bool   `json:"queued"`
}
