package model

import "time"

type DocumentStatus string

const (
	DocumentUploaded DocumentStatus = "uploaded"
	DocumentParsed   DocumentStatus = "parsed"
	DocumentIndexed  DocumentStatus = "indexed"
	DocumentFailed   DocumentStatus = "failed"
)

type Document struct {
	ID         string         `json:"doc_id"`
	VaultID    string         `json:"vault_id"`
	Title      string         `json:"title"`
	SizeBytes  int64          `json:"size_bytes"`
	Status     DocumentStatus `json:"status"`
	UploadedAt *time.Time     `json:"uploaded_at,omitempty"`
}

// ClampDocumentStatus keeps a document out of the indexed state while its vault is not ready.
func ClampDocumentStatus(status DocumentStatus, vault VaultStatus) DocumentStatus {
	if status == DocumentIndexed && vault != VaultReady {
		return DocumentParsed
	}
	if status == "" {
		return DocumentUploaded
	}
	return status
}
