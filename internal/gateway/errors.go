package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

type Kind string

const (
	KindConnection Kind = "connection"
	KindTimeout    Kind = "timeout"
	KindStatus     Kind = "status"
	KindDecode     Kind = "decode"
)

const maxDetailBytes = 500

// Error is the normalized failure of a remote call.
type Error struct {
	Kind       Kind
	Method     string
	Path       string
	StatusCode int
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("%s %s: remote returned HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
	case KindTimeout:
		return fmt.Sprintf("%s %s: request timed out: %v", e.Method, e.Path, e.Err)
	case KindDecode:
		return fmt.Sprintf("%s %s: malformed response: %v", e.Method, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s %s: connection failed: %v", e.Method, e.Path, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a gateway error from an error chain.
func AsError(err error) (*Error, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// IsNotFound reports whether the remote answered 404.
func IsNotFound(err error) bool {
	gwErr, ok := AsError(err)
	return ok && gwErr.Kind == KindStatus && gwErr.StatusCode == http.StatusNotFound
}

// parseDetail extracts a human-readable message from an error body, preferring the
// structured detail/message/error fields and falling back to raw text.
func parseDetail(raw []byte) string {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			value, ok := body[key]
			if !ok {
				continue
			}
			var text string
			if err := json.Unmarshal(value, &text); err == nil {
				if text = strings.TrimSpace(text); text != "" {
					return text
				}
				continue
			}
			return truncate(string(value))
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "unknown error"
	}
	return truncate(text)
}

// truncate cuts text to at most maxDetailBytes without splitting a rune.
func truncate(text string) string {
	if len(text) <= maxDetailBytes {
		return text
	}
	cut := maxDetailBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
