// Package envelope implements the uniform success/error result every
// operation returns (spec.md §6.2). No raw backend error ever escapes past
// this boundary.
package envelope

import "github.com/thingsmcp/bridge/internal/errcode"

// Meta carries the optional observability fields described in spec.md §6.2.
type Meta struct {
	Mode        string  `json:"mode,omitempty"`
	MethodUsed  string  `json:"method_used,omitempty"`
	Reliability float64 `json:"reliability,omitempty"`
	Truncated   bool    `json:"truncated,omitempty"`
	NextCursor  string  `json:"next_cursor,omitempty"`
}

// Envelope is the return shape of every tool-facing operation.
type Envelope struct {
	Success   bool     `json:"success"`
	Data      any      `json:"data,omitempty"`
	Message   string   `json:"message,omitempty"`
	Error     string   `json:"error,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	Meta      *Meta    `json:"meta,omitempty"`
}

// Ok builds a successful Envelope.
func Ok(data any) Envelope {
	return Envelope{Success: true, Data: data}
}

// OkWithMeta builds a successful Envelope carrying shaper/scheduler metadata.
func OkWithMeta(data any, meta Meta) Envelope {
	return Envelope{Success: true, Data: data, Meta: &meta}
}

// Warn attaches warnings to an otherwise-successful Envelope (e.g.
// "scheduling_failed", spec.md §4.8).
func (e Envelope) Warn(w ...string) Envelope {
	e.Warnings = append(e.Warnings, w...)
	return e
}

// WithMeta attaches or replaces the Envelope's Meta.
func (e Envelope) WithMeta(m Meta) Envelope {
	e.Meta = &m
	return e
}

// Fail builds a failure Envelope from a taxonomy code and a short,
// human-readable message. It never includes raw backend detail.
func Fail(code errcode.Code, message string) Envelope {
	return Envelope{Success: false, ErrorCode: string(code), Error: message}
}

// FromError classifies err via errcode.Of and builds a failure Envelope.
// Unclassified errors surface as Internal with a stable message, exactly as
// spec.md §7 requires — the original error detail belongs in server logs,
// not in the Envelope.
func FromError(err error) Envelope {
	if err == nil {
		return Ok(nil)
	}
	code := errcode.Of(err)
	msg := err.Error()
	if code == errcode.Internal {
		msg = "internal error"
	}
	return Fail(code, msg)
}
