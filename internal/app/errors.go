package app

import (
	"errors"
	"fmt"
)

// Validation codes.
const (
	CodeEmptyName           = "empty_name"
	CodeDuplicateName       = "duplicate_name"
	CodeNameTooShort        = "name_too_short"
	CodeMissingInstructions = "missing_instructions"
	CodeNoVaultSelected     = "no_vault_selected"
	CodeUnknownVault        = "unknown_vault"
	CodeInvalidRetrieval    = "invalid_retrieval_method"
	CodeInvalidTopK         = "invalid_top_k"
	CodeUnsupportedModel    = "unsupported_model"
	CodeInvalidTemperature  = "invalid_temperature"
	CodeInvalidIndexProfile = "invalid_index_profile"
	CodeMissingAgent        = "missing_agent"
	CodeEmptyMessage        = "empty_message"
	CodeMissingVault        = "missing_vault"
	CodeNoFiles             = "no_files"
)

// State codes.
const (
	CodeNoAgentLoaded      = "no_agent_loaded"
	CodeIndexingInProgress = "indexing_in_progress"
	CodeAdminTokenMissing  = "admin_token_missing"
	CodeAgentWithoutVaults = "agent_without_vaults"
	CodeNoReadyVault       = "no_ready_vault"
)

// ValidationError reports malformed or missing input, caught before any network call.
type ValidationError struct {
	Code   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Code, e.Detail)
	}
	return "validation failed: " + e.Code
}

// NotFoundError reports an entity absent locally or remotely. Err carries the
// remote cause when the service reported the absence.
type NotFoundError struct {
	Kind string
	ID   string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// StateError reports an operation that is illegal in the current lifecycle state.
type StateError struct {
	Code   string
	Detail string
}

func (e *StateError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("illegal state: %s: %s", e.Code, e.Detail)
	}
	return "illegal state: " + e.Code
}

func invalid(code, detail string) error {
	return &ValidationError{Code: code, Detail: detail}
}

func illegal(code, detail string) error {
	return &StateError{Code: code, Detail: detail}
}

// ValidationCode returns the code of a ValidationError in err's chain.
func ValidationCode(err error) (string, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Code, true
	}
	return "", false
}

// StateCode returns the code of a StateError in err's chain.
func StateCode(err error) (string, bool) {
	var sErr *StateError
	if errors.As(err, &sErr) {
		return sErr.Code, true
	}
	return "", false
}

func IsNotFound(err error) bool {
	var nfErr *NotFoundError
	return errors.As(err, &nfErr)
}
