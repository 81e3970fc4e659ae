// Package gateway is the HTTP client for the remote knowledge-base service.
// It owns timeout policy and error normalization and never retries a call.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Class selects the timeout applied to a call.
type Class string

const (
	ClassPing   Class = "ping"
	ClassRead   Class = "read"
	ClassUpload Class = "upload"
	ClassIndex  Class = "index"
	ClassChat   Class = "chat"
)

const AdminTokenHeader = "X-Admin-Token"

type Timeouts struct {
	Ping   time.Duration
	Read   time.Duration
	Upload time.Duration
	Index  time.Duration
	Chat   time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Ping:   5 * time.Second,
		Read:   10 * time.Second,
		Upload: 60 * time.Second,
		Index:  30 * time.Second,
		Chat:   120 * time.Second,
	}
}

func (t Timeouts) For(class Class) time.Duration {
	defaults := DefaultTimeouts()
	pick := func(v, fallback time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return fallback
	}
	switch class {
	case ClassPing:
		return pick(t.Ping, defaults.Ping)
	case ClassUpload:
		return pick(t.Upload, defaults.Upload)
	case ClassIndex:
		return pick(t.Index, defaults.Index)
	case ClassChat:
		return pick(t.Chat, defaults.Chat)
	default:
		return pick(t.Read, defaults.Read)
	}
}

type Config struct {
	BaseURL    string
	AdminToken string
	Timeouts   Timeouts
}

// FilePart is a single multipart file attached to a request.
type FilePart struct {
	Field   string
	Name    string
	Content io.Reader
}

type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	File   *FilePart
	Class  Class
	Admin  bool
}

// Caller is implemented by Client; registries depend on it so tests can swap transports.
type Caller interface {
	Call(ctx context.Context, req Request, out any) (int, error)
	AdminConfigured() bool
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	adminToken string
	timeouts   Timeouts
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		adminToken: cfg.AdminToken,
		timeouts:   cfg.Timeouts,
		logger:     logger,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) AdminConfigured() bool {
	return strings.TrimSpace(c.adminToken) != ""
}

// Call issues one request and decodes a 2xx JSON body into out (when non-nil).
// It returns the HTTP status code of any response that was received.
func (c *Client) Call(ctx context.Context, req Request, out any) (int, error) {
	timeout := c.timeouts.For(req.Class)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := c.buildRequest(callCtx, req)
	if err != nil {
		return 0, fmt.Errorf("build %s %s request failed: %w", req.Method, req.Path, err)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		gwErr := c.transportError(callCtx, req, err)
		c.logger.Warn("remote call failed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("kind", string(gwErr.Kind)),
			zap.Duration("timeout", timeout),
			zap.Error(err))
		return 0, gwErr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, c.transportError(callCtx, req, err)
	}

	c.logger.Debug("remote call",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &Error{
			Kind:       KindStatus,
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: resp.StatusCode,
			Detail:     parseDetail(raw),
		}
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, &Error{
				Kind:       KindDecode,
				Method:     req.Method,
				Path:       req.Path,
				StatusCode: resp.StatusCode,
				Err:        err,
			}
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.File != nil:
		buf, ct, err := encodeMultipart(req.File)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	case req.Body != nil:
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body failed: %w", err)
		}
		body, contentType = bytes.NewReader(payload), "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Admin {
		httpReq.Header.Set(AdminTokenHeader, c.adminToken)
	}
	return httpReq, nil
}

func encodeMultipart(part *FilePart) (*bytes.Buffer, string, error) {
	field := part.Field
	if field == "" {
		field = "file"
	}
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	fw, err := writer.CreateFormFile(field, part.Name)
	if err != nil {
		return nil, "", fmt.Errorf("create form file failed: %w", err)
	}
	if _, err := io.Copy(fw, part.Content); err != nil {
		return nil, "", fmt.Errorf("read %s failed: %w", part.Name, err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer failed: %w", err)
	}
	return buf, writer.FormDataContentType(), nil
}

func (c *Client) transportError(ctx context.Context, req Request, err error) *Error {
	kind := KindConnection
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Method: req.Method, Path: req.Path, Err: err}
}
