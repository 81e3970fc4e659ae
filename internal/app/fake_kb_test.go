package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"kbflow/internal/gateway"
	"kbflow/internal/model"
)

const testAdminToken = "op-token"

type fakeFolder struct {
	id          string
	name        string
	status      string
	docs        []documentPayload
	reportCount *int
	lastIndexed string
	errMsg      string
}

// fakeKB is an in-memory knowledge-base service that counts every hit by route.
type fakeKB struct {
	mu          sync.Mutex
	hits        map[string]int
	folders     map[string]*fakeFolder
	order       []string
	agents      map[string]agentPayload
	agentOrder  []string
	sessions    map[string][]historyMessage
	nextID      int
	failUploads map[string]bool
	chatStatus  int
	chatDetail  string
	clearStatus int
	citations   []citationPayload
	answer      string
	// chatEntered is signalled and chatGate awaited before a chat reply is built.
	chatEntered chan struct{}
	chatGate    chan struct{}
}

func newFakeKB() *fakeKB {
	return &fakeKB{
		hits:        make(map[string]int),
		folders:     make(map[string]*fakeFolder),
		agents:      make(map[string]agentPayload),
		sessions:    make(map[string][]historyMessage),
		failUploads: make(map[string]bool),
	}
}

func (kb *fakeKB) id(prefix string) string {
	kb.nextID++
	return fmt.Sprintf("%s-%d", prefix, kb.nextID)
}

func (kb *fakeKB) Hits(route string) int {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.hits[route]
}

func (kb *fakeKB) TotalHits() int {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	total := 0
	for _, n := range kb.hits {
		total += n
	}
	return total
}

func (kb *fakeKB) SetFolder(id string, fn func(f *fakeFolder)) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	fn(kb.folders[id])
}

func (kb *fakeKB) Do(fn func(kb *fakeKB)) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	fn(kb)
}

func (kb *fakeKB) folderView(f *fakeFolder) vaultPayload {
	count := len(f.docs)
	if f.reportCount != nil {
		count = *f.reportCount
	}
	return vaultPayload{
		FolderID:      f.id,
		Name:          f.name,
		DocumentCount: count,
		Status:        f.status,
		LastIndexed:   f.lastIndexed,
		ErrorMessage:  f.errMsg,
	}
}

func (kb *fakeKB) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		kb.mu.Lock()
		kb.hits[c.Request.Method+" "+c.FullPath()]++
		kb.mu.Unlock()
		c.Next()
	})

	r.POST("/folders/create", func(c *gin.Context) {
		var req struct {
			Name string `json:"name"`
		}
		_ = c.ShouldBindJSON(&req)
		kb.mu.Lock()
		defer kb.mu.Unlock()
		f := &fakeFolder{id: kb.id("f"), name: req.Name, status: "not_indexed"}
		kb.folders[f.id] = f
		kb.order = append(kb.order, f.id)
		c.JSON(http.StatusOK, gin.H{"folder_id": f.id, "name": f.name})
	})
	r.GET("/folders/list", func(c *gin.Context) {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		out := make([]vaultPayload, 0, len(kb.order))
		for _, id := range kb.order {
			out = append(out, kb.folderView(kb.folders[id]))
		}
		c.JSON(http.StatusOK, out)
	})
	r.POST("/folders/:id/upload", func(c *gin.Context) {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "file field missing"})
			return
		}
		kb.mu.Lock()
		defer kb.mu.Unlock()
		f, ok := kb.folders[c.Param("id")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "folder not found"})
			return
		}
		if kb.failUploads[fh.Filename] {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "parser crashed"})
			return
		}
		doc := documentPayload{DocID: kb.id("d"), Title: fh.Filename, Size: fh.Size, Status: "uploaded"}
		f.docs = append(f.docs, doc)
		c.JSON(http.StatusOK, gin.H{"doc_id": doc.DocID, "status": doc.Status})
	})
	r.GET("/folders/:id/documents", func(c *gin.Context) {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		f, ok := kb.folders[c.Param("id")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "folder not found"})
			return
		}
		c.JSON(http.StatusOK, f.docs)
	})
	r.POST("/folders/:id/index", func(c *gin.Context) {
		var req struct {
			Method string `json:"method"`
		}
		_ = c.ShouldBindJSON(&req)
		kb.mu.Lock()
		defer kb.mu.Unlock()
		f, ok := kb.folders[c.Param("id")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "folder not found"})
			return
		}
		f.status = "indexing"
		c.JSON(http.StatusAccepted, gin.H{"job_id": kb.id("job"), "status": "queued", "message": "indexing " + req.Method})
	})
	r.GET("/folders/:id/status", func(c *gin.Context) {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		f, ok := kb.folders[c.Param("id")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "folder not found"})
			return
		}
		c.JSON(http.StatusOK, kb.folderView(f))
	})
	r.POST("/admin/reindex", func(c *gin.Context) {
		if c.GetHeader(gateway.AdminTokenHeader) != testAdminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "bad admin token"})
			return
		}
		kb.mu.Lock()
		defer kb.mu.Unlock()
		c.JSON(http.StatusAccepted, gin.H{"job_id": kb.id("job"), "status": "queued"})
	})

	r.POST("/agents/create", func(c *gin.Context) {
		var req agentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
			return
		}
		kb.mu.Lock()
		defer kb.mu.Unlock()
		agent := agentFromRequest(kb.id("a"), req)
		kb.agents[agent.AgentID] = agent
		kb.agentOrder = append(kb.agentOrder, agent.AgentID)
		c.JSON(http.StatusCreated, agent)
	})
	r.GET("/agents/list", func(c *gin.Context) {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		out := make([]agentPayload, 0, len(kb.agentOrder))
		for _, id := range kb.agentOrder {
			if a, ok := kb.agents[id]; ok {
				out = append(out, a)
			}
		}
		c.JSON(http.StatusOK, out)
	})
	r.GET("/agents/:id", func(c *gin.Context) {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		a, ok := kb.agents[c.Param("id")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "agent not found"})
			return
		}
		c.JSON(http.StatusOK, a)
	})
	r.PUT("/agents/:id", func(c *gin.Context) {
		var req agentRequest
		_ = c.ShouldBindJSON(&req)
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if _, ok := kb.agents[c.Param("id")]; !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "agent not found"})
			return
		}
		agent := agentFromRequest(c.Param("id"), req)
		kb.agents[agent.AgentID] = agent
		c.JSON(http.StatusOK, agent)
	})
	r.DELETE("/agents/:id", func(c *gin.Context) {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if _, ok := kb.agents[c.Param("id")]; !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "agent not found"})
			return
		}
		delete(kb.agents, c.Param("id"))
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	})

	r.POST("/chat/:agent/message", func(c *gin.Context) {
		var req chatRequest
		_ = c.ShouldBindJSON(&req)
		kb.mu.Lock()
		entered, gate := kb.chatEntered, kb.chatGate
		kb.mu.Unlock()
		if entered != nil {
			entered <- struct{}{}
		}
		if gate != nil {
			<-gate
		}
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if kb.chatStatus != 0 {
			c.JSON(kb.chatStatus, gin.H{"detail": kb.chatDetail})
			return
		}
		sid := req.SessionID
		if sid == "" {
			sid = kb.id("s")
		}
		answer := kb.answer
		if answer == "" {
			answer = "answer to " + req.Message
		}
		key := c.Param("agent") + "/" + sid
		kb.sessions[key] = append(kb.sessions[key],
			historyMessage{Role: "user", Content: req.Message},
			historyMessage{Role: "assistant", Content: answer})
		citations := kb.citations
		if citations == nil {
			citations = []citationPayload{}
		}
		c.JSON(http.StatusOK, gin.H{"response": answer, "citations": citations, "session_id": sid})
	})
	r.DELETE("/chat/:agent/clear", func(c *gin.Context) {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if kb.clearStatus != 0 {
			c.JSON(kb.clearStatus, gin.H{"detail": "clear failed"})
			return
		}
		delete(kb.sessions, c.Param("agent")+"/"+c.Query("session_id"))
		c.JSON(http.StatusOK, gin.H{"cleared": true})
	})
	r.GET("/chat/:agent/history", func(c *gin.Context) {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		messages := kb.sessions[c.Param("agent")+"/"+c.Query("session_id")]
		if messages == nil {
			messages = []historyMessage{}
		}
		c.JSON(http.StatusOK, gin.H{"messages": messages})
	})
	return r
}

func agentFromRequest(id string, req agentRequest) agentPayload {
	return agentPayload{
		AgentID:          id,
		Name:             req.Name,
		RoleInstructions: req.RoleInstructions,
		FolderAccess:     req.FolderAccess,
		RetrievalMethod:  req.RetrievalMethod,
		TopK:             req.TopK,
		LLMModel:         req.LLMModel,
		Temperature:      req.Temperature,
		CreatedAt:        "2025-01-02T03:04:05",
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Transitions(vaultID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.Kind == model.EventVaultTransition && e.VaultID == vaultID {
			out = append(out, e.FromStatus+"->"+e.ToStatus)
		}
	}
	return out
}

func (p *recordingPublisher) Kinds() []model.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventKind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

type harness struct {
	kb     *fakeKB
	gw     *gateway.Client
	events *recordingPublisher
	vaults *VaultRegistry
	agents *AgentRegistry
	chat   *ChatController
	orch   *Orchestrator
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	adminToken string
	opts       Options
	chatOpts   []ChatOption
}

func withoutAdminToken() harnessOption {
	return func(c *harnessConfig) { c.adminToken = "" }
}

func withOptions(opts Options) harnessOption {
	return func(c *harnessConfig) { c.opts = opts }
}

func withChatOptions(opts ...ChatOption) harnessOption {
	return func(c *harnessConfig) { c.chatOpts = append(c.chatOpts, opts...) }
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{adminToken: testAdminToken}
	for _, opt := range options {
		opt(&cfg)
	}

	kb := newFakeKB()
	srv := httptest.NewServer(kb.router())
	t.Cleanup(srv.Close)

	gw := gateway.NewClient(gateway.Config{BaseURL: srv.URL, AdminToken: cfg.adminToken}, nil)
	events := &recordingPublisher{}
	vaults := NewVaultRegistry(gw, events, nil)
	agents := NewAgentRegistry(gw, events, nil)
	chat := NewChatController(gw, events, nil, cfg.chatOpts...)
	return &harness{
		kb:     kb,
		gw:     gw,
		events: events,
		vaults: vaults,
		agents: agents,
		chat:   chat,
		orch:   NewOrchestrator(gw, vaults, agents, chat, nil, cfg.opts),
	}
}

func file(name, content string) UploadFile {
	return UploadFile{Name: name, Size: int64(len(content)), Content: io.NopCloser(strings.NewReader(content))}
}

func validAgent(vaultIDs ...string) AgentInput {
	return AgentInput{
		Name:             "Contract Reviewer",
		RoleInstructions: "Answer questions about the contracts.",
		VaultAccess:      vaultIDs,
		RetrievalMethod:  model.RetrievalGlobal,
		TopK:             model.DefaultTopK,
		LLMModel:         model.DefaultLLMModel,
		Temperature:      model.DefaultTemperature,
	}
}
