package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kbflow/internal/gateway"
	"kbflow/internal/model"
)

const silentFailureReason = "indexing failed but the service reported no reason"

const emptyIndexReason = "indexing job ended without producing an index"

// UploadFile is one file handed to an upload batch.
type UploadFile struct {
	Name    string
	Size    int64
	Content io.Reader
}

type UploadOutcome struct {
	FileName   string               `json:"file_name"`
	DocumentID string               `json:"doc_id,omitempty"`
	Status     model.DocumentStatus `json:"status,omitempty"`
	Err        error                `json:"-"`
}

func (o UploadOutcome) OK() bool {
	return o.Err == nil
}

// UploadBatch is the per-file result of an upload; one bad file never fails the batch.
type UploadBatch struct {
	VaultID      string          `json:"vault_id"`
	Outcomes     []UploadOutcome `json:"outcomes"`
	SuccessCount int             `json:"success_count"`
	FailedCount  int             `json:"failed_count"`
}

type observation struct {
	status      model.VaultStatus
	known       bool
	count       int
	lastIndexed *time.Time
	reason      string
}

// VaultRegistry tracks vault identity, documents and indexing status. It is a
// read-many cache of the remote service, not a lock on it.
type VaultRegistry struct {
	gw      gateway.Caller
	logger  *zap.Logger
	journal journal

	mu        sync.RWMutex
	vaults    map[string]*model.Vault
	order     []string
	documents map[string][]model.Document
	inflight  map[string]bool
}

func NewVaultRegistry(gw gateway.Caller, publisher EventPublisher, logger *zap.Logger) *VaultRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("vaults")
	return &VaultRegistry{
		gw:        gw,
		logger:    logger,
		journal:   newJournal(publisher, logger),
		vaults:    make(map[string]*model.Vault),
		documents: make(map[string][]model.Document),
		inflight:  make(map[string]bool),
	}
}

func (r *VaultRegistry) Create(ctx context.Context, name string) (*model.Vault, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid(CodeEmptyName, "vault name is required")
	}

	r.mu.RLock()
	taken := r.nameTakenLocked(name)
	r.mu.RUnlock()
	if taken {
		return nil, invalid(CodeDuplicateName, name)
	}

	var out vaultPayload
	if _, err := r.gw.Call(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/folders/create",
		Body:   map[string]string{"name": name},
		Class:  gateway.ClassRead,
	}, &out); err != nil {
		return nil, fmt.Errorf("create vault failed: %w", err)
	}
	if out.id() == "" {
		return nil, errors.New("create vault failed: response carried no vault id")
	}

	vault := &model.Vault{
		ID:     out.id(),
		Name:   name,
		Status: model.VaultNotIndexed,
	}
	if out.Name != "" {
		vault.Name = out.Name
	}

	r.mu.Lock()
	r.putLocked(vault)
	snapshot := *vault
	r.mu.Unlock()

	r.logger.Info("vault created", zap.String("vault_id", vault.ID), zap.String("name", vault.Name))
	r.journal.record(ctx, model.Event{Kind: model.EventVaultCreated, VaultID: vault.ID, Detail: vault.Name})
	return &snapshot, nil
}

// ListAll fetches the remote vault list and syncs the local view. Vaults with an
// indexing job in flight keep their local status until RefreshStatus observes it.
func (r *VaultRegistry) ListAll(ctx context.Context) ([]model.Vault, error) {
	var out []vaultPayload
	if _, err := r.gw.Call(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   "/folders/list",
		Class:  gateway.ClassRead,
	}, &out); err != nil {
		return nil, fmt.Errorf("list vaults failed: %w", err)
	}

	var events []model.Event
	r.mu.Lock()
	seen := make(map[string]bool, len(out))
	order := make([]string, 0, len(out))
	for _, p := range out {
		id := p.id()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		order = append(order, id)

		obs := r.observe(p)
		if existing, ok := r.vaults[id]; ok {
			if p.Name != "" {
				existing.Name = p.Name
			}
			if existing.Status.InProgress() {
				obs.status, obs.known = existing.Status, true
			}
			events = append(events, r.applyLocked(existing, obs)...)
			continue
		}

		status := obs.status
		if !obs.known {
			status = model.VaultNotIndexed
		}
		vault := &model.Vault{
			ID:            id,
			Name:          p.Name,
			Status:        status,
			DocumentCount: max(obs.count, 0),
			LastIndexed:   obs.lastIndexed,
		}
		if status == model.VaultFailed {
			vault.ErrorReason = failureReason(obs.reason)
		}
		r.vaults[id] = vault
	}
	for id := range r.vaults {
		if !seen[id] {
			delete(r.vaults, id)
			delete(r.documents, id)
		}
	}
	r.order = order
	vaults := r.snapshotLocked()
	r.mu.Unlock()

	r.publish(ctx, events)
	return vaults, nil
}

// Snapshot returns the local view without touching the network.
func (r *VaultRegistry) Snapshot() []model.Vault {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *VaultRegistry) Get(vaultID string) (model.Vault, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vaults[vaultID]
	if !ok {
		return model.Vault{}, false
	}
	return *v, true
}

// Documents returns the locally known documents of a vault.
func (r *VaultRegistry) Documents(vaultID string) []model.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.Document(nil), r.documents[vaultID]...)
}

// Missing returns the ids not known to the registry, re-syncing from the remote
// once when any id is unknown locally.
func (r *VaultRegistry) Missing(ctx context.Context, ids []string) ([]string, error) {
	missing := r.missingLocal(ids)
	if len(missing) == 0 {
		return nil, nil
	}
	if _, err := r.ListAll(ctx); err != nil {
		return nil, err
	}
	return r.missingLocal(ids), nil
}

func (r *VaultRegistry) Upload(ctx context.Context, vaultID string, files []UploadFile) (*UploadBatch, error) {
	vaultID = strings.TrimSpace(vaultID)
	if vaultID == "" {
		return nil, invalid(CodeMissingVault, "select a vault first")
	}
	if len(files) == 0 {
		return nil, invalid(CodeNoFiles, "select files to upload")
	}
	if _, err := r.require(ctx, vaultID); err != nil {
		return nil, err
	}

	batch := &UploadBatch{VaultID: vaultID, Outcomes: make([]UploadOutcome, 0, len(files))}
	for _, file := range files {
		outcome := r.uploadOne(ctx, vaultID, file)
		if outcome.OK() {
			batch.SuccessCount++
		} else {
			batch.FailedCount++
		}
		batch.Outcomes = append(batch.Outcomes, outcome)
	}

	r.logger.Info("upload batch finished",
		zap.String("vault_id", vaultID),
		zap.Int("succeeded", batch.SuccessCount),
		zap.Int("failed", batch.FailedCount))
	r.journal.record(ctx, model.Event{
		Kind:    model.EventUploadBatch,
		VaultID: vaultID,
		Detail:  fmt.Sprintf("%d succeeded, %d failed", batch.SuccessCount, batch.FailedCount),
	})
	return batch, nil
}

func (r *VaultRegistry) uploadOne(ctx context.Context, vaultID string, file UploadFile) UploadOutcome {
	name := strings.TrimSpace(file.Name)
	outcome := UploadOutcome{FileName: name}
	if name == "" || file.Content == nil {
		outcome.Err = invalid(CodeNoFiles, "file name and content are required")
		return outcome
	}

	var out uploadPayload
	if _, err := r.gw.Call(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/folders/" + url.PathEscape(vaultID) + "/upload",
		File:   &gateway.FilePart{Field: "file", Name: name, Content: file.Content},
		Class:  gateway.ClassUpload,
	}, &out); err != nil {
		r.logger.Warn("upload failed", zap.String("vault_id", vaultID), zap.String("file", name), zap.Error(err))
		outcome.Err = err
		return outcome
	}

	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	vaultStatus := model.VaultNotIndexed
	if v, ok := r.vaults[vaultID]; ok {
		v.DocumentCount++
		vaultStatus = v.Status
	}
	doc := model.Document{
		ID:         out.DocID,
		VaultID:    vaultID,
		Title:      name,
		SizeBytes:  file.Size,
		Status:     model.ClampDocumentStatus(model.DocumentStatus(out.Status), vaultStatus),
		UploadedAt: &now,
	}
	r.documents[vaultID] = append(r.documents[vaultID], doc)

	outcome.DocumentID = doc.ID
	outcome.Status = doc.Status
	return outcome
}

func (r *VaultRegistry) ListDocuments(ctx context.Context, vaultID string) ([]model.Document, error) {
	if _, err := r.require(ctx, vaultID); err != nil {
		return nil, err
	}

	var out []documentPayload
	if _, err := r.gw.Call(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   "/folders/" + url.PathEscape(vaultID) + "/documents",
		Class:  gateway.ClassRead,
	}, &out); err != nil {
		return nil, r.remoteErr("list documents", vaultID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	vaultStatus := model.VaultNotIndexed
	if v, ok := r.vaults[vaultID]; ok {
		vaultStatus = v.Status
	}
	docs := make([]model.Document, 0, len(out))
	for _, p := range out {
		docs = append(docs, model.Document{
			ID:         p.DocID,
			VaultID:    vaultID,
			Title:      p.Title,
			SizeBytes:  p.Size,
			Status:     model.ClampDocumentStatus(model.DocumentStatus(p.Status), vaultStatus),
			UploadedAt: parseTimestamp(p.UploadedAt),
		})
	}
	r.documents[vaultID] = docs
	return append([]model.Document(nil), docs...), nil
}

// StartIndexing submits an indexing job. A vault whose job is in flight is rejected
// locally; duplicate submissions from other clients are the pipeline's concern.
func (r *VaultRegistry) StartIndexing(ctx context.Context, vaultID string, profile model.IndexProfile) (*model.IndexJob, error) {
	if !profile.Valid() {
		return nil, invalid(CodeInvalidIndexProfile, string(profile))
	}
	if _, err := r.require(ctx, vaultID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	vault, ok := r.vaults[vaultID]
	if !ok {
		r.mu.Unlock()
		return nil, &NotFoundError{Kind: "vault", ID: vaultID}
	}
	if vault.Status.InProgress() || r.inflight[vaultID] {
		r.mu.Unlock()
		return nil, illegal(CodeIndexingInProgress, "vault "+vaultID+" is already indexing")
	}
	r.inflight[vaultID] = true
	r.mu.Unlock()

	var out indexPayload
	status, err := r.gw.Call(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/folders/" + url.PathEscape(vaultID) + "/index",
		Body:   map[string]string{"method": string(profile)},
		Class:  gateway.ClassIndex,
	}, &out)

	r.mu.Lock()
	delete(r.inflight, vaultID)
	if err != nil {
		r.mu.Unlock()
		return nil, r.remoteErr("start indexing", vaultID, err)
	}
	var events []model.Event
	if vault, ok = r.vaults[vaultID]; ok {
		events = r.transitionLocked(vault, model.VaultIndexing)
		vault.JobID = out.JobID
		vault.ErrorReason = ""
	}
	r.mu.Unlock()

	job := &model.IndexJob{
		VaultID: vaultID,
		JobID:   out.JobID,
		Status:  out.Status,
		Message: out.Message,
		Queued:  status == http.StatusAccepted,
	}
	if job.Status == "" {
		job.Status = "processing"
		if job.Queued {
			job.Status = "queued"
		}
	}

	r.logger.Info("indexing started",
		zap.String("vault_id", vaultID),
		zap.String("job_id", job.JobID),
		zap.String("profile", string(profile)))
	r.publish(ctx, events)
	r.journal.record(ctx, model.Event{
		Kind:    model.EventIndexingStarted,
		VaultID: vaultID,
		Detail:  fmt.Sprintf("job %s (%s)", job.JobID, profile),
	})
	return job, nil
}

// RefreshStatus polls the service; it is the only path from indexing to a terminal state.
func (r *VaultRegistry) RefreshStatus(ctx context.Context, vaultID string) (*model.Vault, error) {
	if _, err := r.require(ctx, vaultID); err != nil {
		return nil, err
	}

	var out vaultPayload
	if _, err := r.gw.Call(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   "/folders/" + url.PathEscape(vaultID) + "/status",
		Class:  gateway.ClassRead,
	}, &out); err != nil {
		if gateway.IsNotFound(err) {
			r.forget(vaultID)
		}
		return nil, r.remoteErr("refresh vault status", vaultID, err)
	}

	r.mu.Lock()
	vault, ok := r.vaults[vaultID]
	if !ok {
		r.mu.Unlock()
		return nil, &NotFoundError{Kind: "vault", ID: vaultID}
	}
	if out.Name != "" {
		vault.Name = out.Name
	}
	events := r.applyLocked(vault, r.observe(out))
	snapshot := *vault
	r.mu.Unlock()

	r.publish(ctx, events)
	return &snapshot, nil
}

// AdminReindex triggers the service-wide reindex. The operator token is configured
// out of band and never accepted as user input.
func (r *VaultRegistry) AdminReindex(ctx context.Context, profile model.IndexProfile) (*model.IndexJob, error) {
	if !profile.Valid() {
		return nil, invalid(CodeInvalidIndexProfile, string(profile))
	}
	if !r.gw.AdminConfigured() {
		return nil, illegal(CodeAdminTokenMissing, "no admin token configured")
	}

	var out indexPayload
	status, err := r.gw.Call(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/admin/reindex",
		Body:   map[string]string{"method": string(profile)},
		Class:  gateway.ClassIndex,
		Admin:  true,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("admin reindex failed: %w", err)
	}

	r.journal.record(ctx, model.Event{Kind: model.EventAdminReindex, Detail: "job " + out.JobID})
	return &model.IndexJob{
		JobID:   out.JobID,
		Status:  out.Status,
		Message: out.Message,
		Queued:  status == http.StatusAccepted,
	}, nil
}

func (r *VaultRegistry) observe(p vaultPayload) observation {
	status, known := model.ParseVaultStatus(p.Status)
	if !known && p.Status != "" {
		r.logger.Warn("unknown vault status reported", zap.String("vault_id", p.id()), zap.String("status", p.Status))
	}
	return observation{
		status:      status,
		known:       known,
		count:       p.DocumentCount,
		lastIndexed: parseTimestamp(p.LastIndexed),
		reason:      strings.TrimSpace(p.errorReason()),
	}
}

func (r *VaultRegistry) applyLocked(vault *model.Vault, obs observation) []model.Event {
	var events []model.Event
	if obs.known {
		target, reason := obs.status, obs.reason
		// The job ran but the service reverted to not_indexed: nothing was produced.
		if vault.Status.InProgress() && target == model.VaultNotIndexed {
			target = model.VaultFailed
			if reason == "" {
				reason = emptyIndexReason
			}
		}
		events = r.transitionLocked(vault, target)
		if vault.Status == model.VaultFailed {
			vault.ErrorReason = failureReason(reason)
		} else {
			vault.ErrorReason = ""
		}
	}

	if obs.count > vault.DocumentCount {
		vault.DocumentCount = obs.count
	} else if obs.count < vault.DocumentCount {
		r.logger.Debug("remote document count below local view; keeping local",
			zap.String("vault_id", vault.ID),
			zap.Int("remote", obs.count),
			zap.Int("local", vault.DocumentCount))
	}
	if obs.lastIndexed != nil {
		vault.LastIndexed = obs.lastIndexed
	}
	return events
}

func (r *VaultRegistry) transitionLocked(vault *model.Vault, target model.VaultStatus) []model.Event {
	var events []model.Event
	for _, step := range model.TransitionPath(vault.Status, target) {
		events = append(events, model.Event{
			Kind:       model.EventVaultTransition,
			VaultID:    vault.ID,
			FromStatus: string(vault.Status),
			ToStatus:   string(step),
		})
		r.logger.Info("vault status changed",
			zap.String("vault_id", vault.ID),
			zap.String("from", string(vault.Status)),
			zap.String("to", string(step)))
		vault.Status = step
	}
	if len(events) > 0 && vault.Status != model.VaultReady {
		docs := r.documents[vault.ID]
		for i := range docs {
			docs[i].Status = model.ClampDocumentStatus(docs[i].Status, vault.Status)
		}
	}
	return events
}

func (r *VaultRegistry) require(ctx context.Context, vaultID string) (model.Vault, error) {
	if v, ok := r.Get(vaultID); ok {
		return v, nil
	}
	missing, err := r.Missing(ctx, []string{vaultID})
	if err != nil {
		return model.Vault{}, fmt.Errorf("resolve vault failed: %w", err)
	}
	if len(missing) > 0 {
		return model.Vault{}, &NotFoundError{Kind: "vault", ID: vaultID}
	}
	v, _ := r.Get(vaultID)
	return v, nil
}

func (r *VaultRegistry) remoteErr(action, vaultID string, err error) error {
	if gateway.IsNotFound(err) {
		return &NotFoundError{Kind: "vault", ID: vaultID, Err: err}
	}
	return fmt.Errorf("%s failed: %w", action, err)
}

func (r *VaultRegistry) missingLocal(ids []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, id := range ids {
		if _, ok := r.vaults[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func (r *VaultRegistry) forget(vaultID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.vaults, vaultID)
	delete(r.documents, vaultID)
	for i, id := range r.order {
		if id == vaultID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *VaultRegistry) putLocked(vault *model.Vault) {
	if _, exists := r.vaults[vault.ID]; !exists {
		r.order = append(r.order, vault.ID)
	}
	r.vaults[vault.ID] = vault
}

func (r *VaultRegistry) nameTakenLocked(name string) bool {
	for _, v := range r.vaults {
		if v.Name == name {
			return true
		}
	}
	return false
}

func (r *VaultRegistry) snapshotLocked() []model.Vault {
	out := make([]model.Vault, 0, len(r.order))
	for _, id := range r.order {
		if v, ok := r.vaults[id]; ok {
			out = append(out, *v)
		}
	}
	return out
}

func (r *VaultRegistry) publish(ctx context.Context, events []model.Event) {
	for _, e := range events {
		r.journal.record(ctx, e)
	}
}

func failureReason(reason string) string {
	if reason == "" {
		return silentFailureReason
	}
	return reason
}
