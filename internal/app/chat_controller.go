package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kbflow/internal/gateway"
	"kbflow/internal/model"
)

const (
	DefaultSnippetLimit = 200
	snippetEllipsis     = "..."
	emptyAnswer         = "The service returned an empty response."
)

var errUnknownTurn = errors.New("turn not found")

// HistoryCache caches the service's flat history per agent and session.
type HistoryCache interface {
	GetHistory(ctx context.Context, agentID, sessionID string) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, agentID, sessionID string, messages []model.Message) error
	DeleteHistory(ctx context.Context, agentID, sessionID string) error
	MarkDirty(ctx context.Context, agentID, sessionID string) error
	IsDirty(ctx context.Context, agentID, sessionID string) (bool, error)
}

// Conversation is a snapshot of one agent's session.
type Conversation struct {
	AgentID   string       `json:"agent_id"`
	SessionID string       `json:"session_id,omitempty"`
	Turns     []model.Turn `json:"turns"`
}

// Reply is the outcome of one exchange. Failed distinguishes an error answer
// from a successful answer that simply carries no citations.
type Reply struct {
	AgentID   string           `json:"agent_id"`
	SessionID string           `json:"session_id,omitempty"`
	Turn      model.Turn       `json:"turn"`
	Citations []model.Citation `json:"citations"`
	Failed    bool             `json:"failed"`
}

type ClearResult struct {
	SessionID     string `json:"session_id,omitempty"`
	RemoteCleared bool   `json:"remote_cleared"`
	RemoteErr     error  `json:"-"`
}

type conversation struct {
	exchange sync.Mutex

	mu        sync.Mutex
	agentID   string
	sessionID string
	turns     []model.Turn
}

// ChatController owns per-agent transcripts and reconciles them with server history.
type ChatController struct {
	gw           gateway.Caller
	cache        HistoryCache
	logger       *zap.Logger
	journal      journal
	snippetLimit int

	mu            sync.Mutex
	conversations map[string]*conversation
}

type ChatOption func(*ChatController)

func WithHistoryCache(cache HistoryCache) ChatOption {
	return func(c *ChatController) { c.cache = cache }
}

func WithSnippetLimit(limit int) ChatOption {
	return func(c *ChatController) {
		if limit > 0 {
			c.snippetLimit = limit
		}
	}
}

func NewChatController(gw gateway.Caller, publisher EventPublisher, logger *zap.Logger, opts ...ChatOption) *ChatController {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("chat")
	c := &ChatController{
		gw:            gw,
		logger:        logger,
		journal:       newJournal(publisher, logger),
		snippetLimit:  DefaultSnippetLimit,
		conversations: make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ChatController) conversation(agentID string) *conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations[agentID]
	if !ok {
		conv = &conversation{agentID: agentID}
		c.conversations[agentID] = conv
	}
	return conv
}

// Select switches to agentID and starts it from a fresh, session-less transcript.
// An exchange in flight for the agent finishes before the reset.
func (c *ChatController) Select(agentID string) Conversation {
	conv := c.conversation(agentID)
	conv.exchange.Lock()
	defer conv.exchange.Unlock()
	conv.mu.Lock()
	defer conv.mu.Unlock()
	conv.sessionID = ""
	conv.turns = nil
	return conv.snapshotLocked()
}

func (c *ChatController) Transcript(agentID string) Conversation {
	conv := c.conversation(agentID)
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.snapshotLocked()
}

// AppendPending is phase one of an exchange: the user message is recorded with an
// empty assistant slot.
func (c *ChatController) AppendPending(agentID, text string) (model.Turn, error) {
	agentID, text, err := validateExchange(agentID, text)
	if err != nil {
		return model.Turn{}, err
	}
	return c.conversation(agentID).appendPending(text), nil
}

// Resolve is phase two on success: the pending slot receives the answer.
func (c *ChatController) Resolve(agentID, turnID, answer string, citations []model.Citation) (model.Turn, error) {
	return c.conversation(agentID).settle(turnID, model.Message{
		Role:      model.RoleAssistant,
		Content:   answer,
		Citations: citations,
	}, false)
}

// Fail is phase two on error: the pending slot holds an error message so the
// transcript keeps its user/assistant alternation.
func (c *ChatController) Fail(agentID, turnID, message string) (model.Turn, error) {
	return c.conversation(agentID).settle(turnID, model.Message{
		Role:    model.RoleAssistant,
		Content: message,
	}, true)
}

// SendMessage runs one exchange. On a remote failure both a Reply (with the
// synthesized error turn) and the error are returned.
func (c *ChatController) SendMessage(ctx context.Context, agentID, text, sessionID string) (*Reply, error) {
	agentID, text, err := validateExchange(agentID, text)
	if err != nil {
		return nil, err
	}

	conv := c.conversation(agentID)
	conv.exchange.Lock()
	defer conv.exchange.Unlock()

	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		conv.setSession(sessionID)
	}
	turn := conv.appendPending(text)
	currentSession := conv.session()

	var out chatPayload
	_, callErr := c.gw.Call(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/chat/" + url.PathEscape(agentID) + "/message",
		Body:   chatRequest{Message: text, SessionID: currentSession, Stream: false},
		Class:  gateway.ClassChat,
	}, &out)
	if callErr != nil {
		settled, settleErr := conv.settle(turn.ID, model.Message{
			Role:    model.RoleAssistant,
			Content: errorAnswer(callErr),
		}, true)
		if settleErr != nil {
			return nil, errors.Join(fmt.Errorf("send message failed: %w", callErr), settleErr)
		}
		c.logger.Warn("chat exchange failed", zap.String("agent_id", agentID), zap.Error(callErr))
		reply := &Reply{
			AgentID:   agentID,
			SessionID: currentSession,
			Turn:      settled,
			Citations: []model.Citation{},
			Failed:    true,
		}
		if gateway.IsNotFound(callErr) {
			return reply, &NotFoundError{Kind: "agent", ID: agentID, Err: callErr}
		}
		return reply, fmt.Errorf("send message failed: %w", callErr)
	}

	answer := strings.TrimSpace(out.Response)
	if answer == "" {
		answer = emptyAnswer
	}
	citations := NormalizeCitations(out.Citations, c.snippetLimit)
	settled, err := conv.settle(turn.ID, model.Message{
		Role:      model.RoleAssistant,
		Content:   answer,
		Citations: citations,
	}, false)
	if err != nil {
		// the transcript was reset underneath the exchange; keep it fresh
		return nil, fmt.Errorf("record reply failed: %w", err)
	}
	if out.SessionID != "" {
		conv.setSession(out.SessionID)
	}
	newSession := conv.session()

	c.invalidate(ctx, agentID, newSession)
	c.journal.record(ctx, model.Event{
		Kind:    model.EventChatExchange,
		AgentID: agentID,
		Detail:  fmt.Sprintf("session %s, %d citations", newSession, len(citations)),
	})
	return &Reply{
		AgentID:   agentID,
		SessionID: newSession,
		Turn:      settled,
		Citations: citations,
	}, nil
}

// ClearHistory wipes local state unconditionally; the remote clear is best effort.
func (c *ChatController) ClearHistory(ctx context.Context, agentID, sessionID string) (ClearResult, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return ClearResult{}, invalid(CodeMissingAgent, "select an agent first")
	}

	conv := c.conversation(agentID)
	conv.exchange.Lock()
	defer conv.exchange.Unlock()

	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		sid = conv.session()
	}
	result := ClearResult{SessionID: sid}
	if sid != "" {
		_, err := c.gw.Call(ctx, gateway.Request{
			Method: http.MethodDelete,
			Path:   "/chat/" + url.PathEscape(agentID) + "/clear",
			Query:  url.Values{"session_id": {sid}},
			Class:  gateway.ClassRead,
		}, nil)
		if err != nil {
			c.logger.Warn("remote history clear failed; local history wiped anyway",
				zap.String("agent_id", agentID),
				zap.String("session_id", sid),
				zap.Error(err))
			result.RemoteErr = err
		} else {
			result.RemoteCleared = true
		}
		c.invalidate(ctx, agentID, sid)
	}

	conv.mu.Lock()
	conv.sessionID = ""
	conv.turns = nil
	conv.mu.Unlock()

	c.journal.record(ctx, model.Event{Kind: model.EventChatHistoryClear, AgentID: agentID, Detail: sid})
	return result, nil
}

// LoadHistory rebuilds the transcript from the service's flat history. Without a
// session there is nothing to reconcile and the transcript is empty.
func (c *ChatController) LoadHistory(ctx context.Context, agentID, sessionID string) (Conversation, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return Conversation{}, invalid(CodeMissingAgent, "select an agent first")
	}

	conv := c.conversation(agentID)
	conv.exchange.Lock()
	defer conv.exchange.Unlock()

	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		sid = conv.session()
	}
	if sid == "" {
		conv.mu.Lock()
		defer conv.mu.Unlock()
		conv.turns = nil
		return conv.snapshotLocked(), nil
	}

	messages, err := c.fetchHistory(ctx, agentID, sid)
	if err != nil {
		return Conversation{}, err
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	conv.sessionID = sid
	conv.turns = PairHistory(messages)
	return conv.snapshotLocked(), nil
}

func (c *ChatController) fetchHistory(ctx context.Context, agentID, sessionID string) ([]model.Message, error) {
	if c.cache != nil {
		dirty, err := c.cache.IsDirty(ctx, agentID, sessionID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := c.cache.GetHistory(ctx, agentID, sessionID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	var out historyPayload
	if _, err := c.gw.Call(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   "/chat/" + url.PathEscape(agentID) + "/history",
		Query:  url.Values{"session_id": {sessionID}},
		Class:  gateway.ClassRead,
	}, &out); err != nil {
		if gateway.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load history failed: %w", err)
	}

	messages := make([]model.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, model.Message{Role: model.Role(m.Role), Content: m.Content})
	}
	if c.cache != nil {
		if dirty, err := c.cache.IsDirty(ctx, agentID, sessionID); err == nil && !dirty {
			_ = c.cache.SetHistory(ctx, agentID, sessionID, messages)
		}
	}
	return messages, nil
}

func (c *ChatController) invalidate(ctx context.Context, agentID, sessionID string) {
	if c.cache == nil || sessionID == "" {
		return
	}
	_ = c.cache.MarkDirty(ctx, agentID, sessionID)
	_ = c.cache.DeleteHistory(ctx, agentID, sessionID)
}

// PairHistory re-pairs a flat message list into turns by position. A trailing
// message without a reply is dropped.
func PairHistory(messages []model.Message) []model.Turn {
	turns := make([]model.Turn, 0, len(messages)/2)
	for i := 0; i+1 < len(messages); i += 2 {
		assistant := messages[i+1]
		turns = append(turns, model.Turn{
			ID:        uuid.NewString(),
			User:      messages[i],
			Assistant: &assistant,
		})
	}
	return turns
}

// NormalizeCitations truncates long snippets and always returns a non-nil slice.
func NormalizeCitations(in []citationPayload, limit int) []model.Citation {
	if limit <= 0 {
		limit = DefaultSnippetLimit
	}
	out := make([]model.Citation, 0, len(in))
	for _, p := range in {
		out = append(out, model.Citation{
			FolderName:    p.FolderName,
			DocumentTitle: p.Title,
			Snippet:       truncateSnippet(p.Snippet, limit),
		})
	}
	return out
}

func truncateSnippet(snippet string, limit int) string {
	if utf8.RuneCountInString(snippet) <= limit {
		return snippet
	}
	return string([]rune(snippet)[:limit]) + snippetEllipsis
}

func errorAnswer(err error) string {
	if gwErr, ok := gateway.AsError(err); ok && gwErr.Kind == gateway.KindStatus {
		return "Error: " + gwErr.Detail
	}
	return "Error: " + err.Error()
}

func validateExchange(agentID, text string) (string, string, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return "", "", invalid(CodeMissingAgent, "select an agent first")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", invalid(CodeEmptyMessage, "enter a message")
	}
	return agentID, text, nil
}

func (v *conversation) appendPending(text string) model.Turn {
	v.mu.Lock()
	defer v.mu.Unlock()
	turn := model.Turn{
		ID:      uuid.NewString(),
		User:    model.Message{Role: model.RoleUser, Content: text},
		Pending: true,
	}
	v.turns = append(v.turns, turn)
	return turn
}

func (v *conversation) settle(turnID string, answer model.Message, failed bool) (model.Turn, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.turns {
		if v.turns[i].ID != turnID {
			continue
		}
		if !v.turns[i].Pending {
			return v.turns[i], fmt.Errorf("turn %s already resolved", turnID)
		}
		v.turns[i].Assistant = &answer
		v.turns[i].Pending = false
		v.turns[i].Failed = failed
		return v.turns[i], nil
	}
	return model.Turn{}, errUnknownTurn
}

func (v *conversation) session() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sessionID
}

func (v *conversation) setSession(sessionID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sessionID = sessionID
}

func (v *conversation) snapshotLocked() Conversation {
	turns := make([]model.Turn, len(v.turns))
	copy(turns, v.turns)
	return Conversation{AgentID: v.agentID, SessionID: v.sessionID, Turns: turns}
}
