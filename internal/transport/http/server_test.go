package http

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kbflow/internal/app"
	"kbflow/internal/bootstrap"
	"kbflow/internal/config"
	"kbflow/internal/gateway"
	"kbflow/internal/pkg/jwtutil"
	"kbflow/internal/transport/http/response"
)

const testSecret = "test-secret"

// remoteStub answers the handful of knowledge-base routes the router tests touch.
type remoteStub struct {
	mu            sync.Mutex
	reindexd      int
	reindexMethod string
}

func (s *remoteStub) handler() nethttp.Handler {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/folders/list", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, []gin.H{{"folder_id": "f-1", "name": "Legal Docs", "status": "ready", "document_count": 2}})
	})
	r.POST("/folders/create", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{"folder_id": "f-2", "name": "New"})
	})
	r.POST("/folders/:id/upload", func(c *gin.Context) {
		fh, err := c.FormFile("file")
		if err != nil || strings.HasPrefix(fh.Filename, "bad") {
			c.JSON(nethttp.StatusUnprocessableEntity, gin.H{"detail": "unsupported file"})
			return
		}
		c.JSON(nethttp.StatusOK, gin.H{"doc_id": "d-1", "status": "uploaded"})
	})
	r.POST("/agents/create", func(c *gin.Context) {
		var body gin.H
		_ = c.ShouldBindJSON(&body)
		body["agent_id"] = "a-2"
		c.JSON(nethttp.StatusCreated, body)
	})
	r.GET("/agents/:id", func(c *gin.Context) {
		if c.Param("id") != "a-1" {
			c.JSON(nethttp.StatusNotFound, gin.H{"detail": "agent not found"})
			return
		}
		c.JSON(nethttp.StatusOK, gin.H{"agent_id": "a-1", "name": "Reviewer", "folder_access": []string{"f-1"}})
	})
	r.POST("/chat/:agent/message", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{"response": "hi", "citations": []gin.H{}, "session_id": "s-1"})
	})
	r.POST("/admin/reindex", func(c *gin.Context) {
		var body struct {
			Method string `json:"method"`
		}
		_ = c.ShouldBindJSON(&body)
		s.mu.Lock()
		s.reindexd++
		s.reindexMethod = body.Method
		s.mu.Unlock()
		c.JSON(nethttp.StatusAccepted, gin.H{"job_id": "job-1", "status": "queued"})
	})
	return r
}

func newTestRouter(t *testing.T) (*gin.Engine, *remoteStub) {
	t.Helper()
	stub := &remoteStub{}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		App:  config.AppConfig{Name: "kbflow", Env: "test", GinMode: gin.TestMode},
		Auth: config.AuthConfig{JWTSecret: testSecret, JWTExpireMinute: 5},
	}
	logger := zap.NewNop()
	gw := gateway.NewClient(gateway.Config{BaseURL: srv.URL, AdminToken: "op"}, logger)
	orch := app.NewOrchestrator(gw,
		app.NewVaultRegistry(gw, nil, logger),
		app.NewAgentRegistry(gw, nil, logger),
		app.NewChatController(gw, nil, logger),
		logger, app.Options{})

	return NewRouter(&bootstrap.App{
		Config:       cfg,
		Logger:       logger,
		Gateway:      gw,
		Orchestrator: orch,
		StartedAt:    time.Now(),
	}), stub
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Reason  string          `json:"reason"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, router *gin.Engine, req *nethttp.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func jsonRequest(method, path, body string) *nethttp.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	rec, _ := do(t, router, httptest.NewRequest(nethttp.MethodGet, "/healthz", nil))
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"remote":{"ok":true`)
}

func TestCreateVaultValidationMapsToBadRequest(t *testing.T) {
	router, _ := newTestRouter(t)
	rec, env := do(t, router, jsonRequest(nethttp.MethodPost, "/api/v1/vaults", `{"name":"  "}`))
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	assert.Equal(t, app.CodeEmptyName, env.Reason)
}

func TestUploadReportsPerFileOutcome(t *testing.T) {
	router, _ := newTestRouter(t)
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, name := range []string{"good.pdf", "bad.pdf"} {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, _ = fw.Write([]byte("content"))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(nethttp.MethodPost, "/api/v1/vaults/f-1/documents", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec, env := do(t, router, req)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	var data struct {
		SuccessCount  int  `json:"success_count"`
		FailedCount   int  `json:"failed_count"`
		NeedsIndexing bool `json:"needs_indexing"`
		Outcomes      []struct {
			Error string `json:"error"`
		} `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 1, data.SuccessCount)
	assert.Equal(t, 1, data.FailedCount)
	assert.True(t, data.NeedsIndexing)
	require.Len(t, data.Outcomes, 2)
	assert.Contains(t, data.Outcomes[1].Error, "unsupported file")
}

func TestUnknownAgentIsNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	rec, env := do(t, router, httptest.NewRequest(nethttp.MethodGet, "/api/v1/agents/a-404", nil))
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)
	assert.Equal(t, "agent", env.Reason)
}

func TestSendMessage(t *testing.T) {
	router, _ := newTestRouter(t)
	rec, env := do(t, router, jsonRequest(nethttp.MethodPost, "/api/v1/chat/a-1/messages", `{"message":"hello"}`))
	require.Equal(t, nethttp.StatusOK, rec.Code)
	var reply app.Reply
	require.NoError(t, json.Unmarshal(env.Data, &reply))
	assert.Equal(t, "s-1", reply.SessionID)
	assert.Empty(t, reply.Citations)

	rec, env = do(t, router, jsonRequest(nethttp.MethodPost, "/api/v1/chat/a-1/messages", `{"message":" "}`))
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	assert.Equal(t, app.CodeEmptyMessage, env.Reason)
}

func TestAdminReindexRequiresToken(t *testing.T) {
	router, stub := newTestRouter(t)
	rec, _ := do(t, router, jsonRequest(nethttp.MethodPost, "/api/v1/admin/reindex", `{"profile":"fast"}`))
	assert.Equal(t, nethttp.StatusUnauthorized, rec.Code)

	token, err := jwtutil.GenerateToken(testSecret, time.Minute, "ops")
	require.NoError(t, err)
	req := jsonRequest(nethttp.MethodPost, "/api/v1/admin/reindex", `{"profile":"fast"}`)
	req.Header.Set("Authorization", "Bearer "+token)
	rec, _ = do(t, router, req)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Equal(t, 1, stub.reindexd)
}

func adminRequest(t *testing.T, body string) *nethttp.Request {
	t.Helper()
	token, err := jwtutil.GenerateToken(testSecret, time.Minute, "ops")
	require.NoError(t, err)
	req := httptest.NewRequest(nethttp.MethodPost, "/api/v1/admin/reindex", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestAdminReindexRejectsMalformedBody(t *testing.T) {
	router, stub := newTestRouter(t)
	rec, env := do(t, router, adminRequest(t, `{"profile": 7, garbage`))
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	assert.Equal(t, response.CodeBadRequest, env.Code)
	assert.Equal(t, 0, stub.reindexd)
}

func TestAdminReindexEmptyBodyUsesDefaultProfile(t *testing.T) {
	router, stub := newTestRouter(t)
	rec, _ := do(t, router, adminRequest(t, ""))
	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Equal(t, 1, stub.reindexd)
	assert.Equal(t, "fast", stub.reindexMethod)
}

func TestStartIndexingRejectsMalformedBody(t *testing.T) {
	router, _ := newTestRouter(t)
	rec, _ := do(t, router, jsonRequest(nethttp.MethodPost, "/api/v1/vaults/f-1/index", `{"profile":`))
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
}

func TestCreateAgentTopK(t *testing.T) {
	router, _ := newTestRouter(t)
	base := `"name":"Reviewer","role_instructions":"Review contracts.","vault_access":["f-1"]`

	rec, env := do(t, router, jsonRequest(nethttp.MethodPost, "/api/v1/agents", `{`+base+`,"top_k":0}`))
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	assert.Equal(t, app.CodeInvalidTopK, env.Reason)

	rec, env = do(t, router, jsonRequest(nethttp.MethodPost, "/api/v1/agents", `{`+base+`}`))
	require.Equal(t, nethttp.StatusOK, rec.Code)
	var agent struct {
		TopK        int     `json:"top_k"`
		Temperature float64 `json:"temperature"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &agent))
	assert.Equal(t, 10, agent.TopK)
	assert.InDelta(t, 0.7, agent.Temperature, 1e-9)
}
