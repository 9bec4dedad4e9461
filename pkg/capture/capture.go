// Package capture defines the collaborator that turns a target URL into
// structured data, plus an HTTP client for a remote extraction service.
package capture

import (
	"context"

	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/value"
)

// Status is the outcome reported by a Capturer.
type Status string

const (
	StatusOK      Status = "ok"
	StatusBlocked Status = "blocked" // access denied or anti-automation response
)

// Artifact is a binary capture such as a screenshot.
type Artifact struct {
	Kind        string
	ContentType string
	Bytes       []byte
}

// Result is what a capture produced. For a blocked capture only Status,
// FinalURL and Notes are meaningful.
type Result struct {
	Status              Status
	FinalURL            string
	RawExtracted        value.Value
	NormalizedExtracted value.Value
	Artifacts           []Artifact
	Notes               string
}

// Blocked reports whether the capture was refused by the remote site.
func (r *Result) Blocked() bool {
	return r.Status == StatusBlocked
}

// Capturer fetches and extracts one target. Errors are treated as transient
// unless wrapped with core.NoRetry; core.RetryAfter requests a specific delay.
type Capturer interface {
	Capture(ctx context.Context, target *core.Target) (*Result, error)
}

// Func adapts a function to the Capturer interface.
type Func func(ctx context.Context, target *core.Target) (*Result, error)

// Capture calls f.
func (f Func) Capture(ctx context.Context, target *core.Target) (*Result, error) {
	return f(ctx, target)
}
