package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"kbflow/internal/app"
	"kbflow/internal/model"
	"kbflow/internal/transport/http/response"
)

type VaultHandler struct {
	orch *app.Orchestrator
}

type CreateVaultRequest struct {
	Name string `json:"name" binding:"max=128"`
}

type IndexRequest struct {
	Profile string `json:"profile"`
}

func NewVaultHandler(orch *app.Orchestrator) *VaultHandler {
	return &VaultHandler{orch: orch}
}

func (h *VaultHandler) Create(c *gin.Context) {
	var req CreateVaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	vault, err := h.orch.CreateVault(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, err, "create vault failed")
		return
	}
	response.OK(c, vault)
}

func (h *VaultHandler) List(c *gin.Context) {
	vaults, err := h.orch.ListVaults(c.Request.Context())
	if err != nil {
		writeError(c, err, "list vaults failed")
		return
	}
	response.OK(c, gin.H{"vaults": vaults})
}

// Upload accepts one or more multipart "files" parts and reports each one.
func (h *VaultHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart form")
		return
	}
	headers := form.File["files"]
	headers = append(headers, form.File["file"]...)

	files := make([]app.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to read "+fh.Filename)
			return
		}
		defer f.Close()
		files = append(files, uploadFile(fh, f))
	}

	result, err := h.orch.UploadDocuments(c.Request.Context(), c.Param("id"), files)
	if err != nil {
		writeError(c, err, "upload failed")
		return
	}
	response.OK(c, gin.H{
		"vault_id":       result.VaultID,
		"success_count":  result.SuccessCount,
		"failed_count":   result.FailedCount,
		"outcomes":       outcomeViews(result.Outcomes),
		"needs_indexing": result.NeedsIndexing,
		"reminder":       result.Reminder,
	})
}

func (h *VaultHandler) Documents(c *gin.Context) {
	listing, err := h.orch.ListDocuments(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "list documents failed")
		return
	}
	response.OK(c, listing)
}

func (h *VaultHandler) Index(c *gin.Context) {
	req, ok := bindIndexRequest(c)
	if !ok {
		return
	}
	job, err := h.orch.StartIndexing(c.Request.Context(), c.Param("id"), profileOrDefault(req.Profile))
	if err != nil {
		writeError(c, err, "start indexing failed")
		return
	}
	response.OK(c, job)
}

func (h *VaultHandler) Status(c *gin.Context) {
	vault, err := h.orch.RefreshVault(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "refresh vault failed")
		return
	}
	response.OK(c, vault)
}

func (h *VaultHandler) AdminReindex(c *gin.Context) {
	req, ok := bindIndexRequest(c)
	if !ok {
		return
	}
	job, err := h.orch.AdminReindex(c.Request.Context(), profileOrDefault(req.Profile))
	if err != nil {
		writeError(c, err, "admin reindex failed")
		return
	}
	response.OK(c, job)
}

type outcomeView struct {
	FileName   string `json:"file_name"`
	DocumentID string `json:"doc_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
}

func outcomeViews(outcomes []app.UploadOutcome) []outcomeView {
	views := make([]outcomeView, 0, len(outcomes))
	for _, o := range outcomes {
		v := outcomeView{FileName: o.FileName, DocumentID: o.DocumentID, Status: string(o.Status)}
		if o.Err != nil {
			v.Error = o.Err.Error()
		}
		views = append(views, v)
	}
	return views
}

func uploadFile(fh *multipart.FileHeader, f multipart.File) app.UploadFile {
	return app.UploadFile{Name: fh.Filename, Size: fh.Size, Content: f}
}

// bindIndexRequest accepts an empty body as "default profile"; anything else
// that fails to bind is rejected before the service is touched.
func bindIndexRequest(c *gin.Context) (IndexRequest, bool) {
	var req IndexRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return IndexRequest{}, false
	}
	return req, true
}

func profileOrDefault(raw string) model.IndexProfile {
	if raw == "" {
		return model.DefaultIndexProfile
	}
	return model.IndexProfile(raw)
}
