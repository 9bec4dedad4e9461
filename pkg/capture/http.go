package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/jobctx"
	"github.com/kairos-watch/capture/pkg/security"
	"github.com/kairos-watch/capture/pkg/value"
)

// DefaultTimeout bounds one call to the extraction service.
const DefaultTimeout = 2 * time.Minute

// Headers identifying the job on requests made during a worker capture.
const (
	HeaderJobID   = "X-Capture-Job-Id"
	HeaderAttempt = "X-Capture-Attempt"
)

// maxResponseBytes covers the payload plus base64-encoded artifacts.
const maxResponseBytes = security.MaxPayloadSize + 3*security.MaxArtifactSize

// HTTPCapturer asks a remote extraction service to capture a target.
//
// The service receives a POST with the target and answers with
//
//	{"status":"ok|blocked","finalUrl":"...","rawExtracted":{...},
//	 "normalizedExtracted":{...},"artifacts":[{"kind":"screenshot",
//	 "contentType":"image/png","data":"<base64>"}],"notes":"..."}
//
// A 403 or 451 answer is read as a block. 429 and 5xx answers are transient;
// other 4xx answers are not retried.
type HTTPCapturer struct {
	endpoint string
	client   *http.Client
}

// HTTPOption configures an HTTPCapturer.
type HTTPOption func(*HTTPCapturer)

// WithClient replaces the default HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTPCapturer) {
		if c != nil {
			h.client = c
		}
	}
}

// WithTimeout sets the per-capture timeout of the default client.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPCapturer) {
		if d > 0 {
			h.client.Timeout = d
		}
	}
}

// NewHTTPCapturer creates a capturer calling endpoint.
func NewHTTPCapturer(endpoint string, opts ...HTTPOption) *HTTPCapturer {
	h := &HTTPCapturer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type captureRequest struct {
	TargetID    string `json:"targetId"`
	Marketplace string `json:"marketplace"`
	TargetType  string `json:"targetType"`
	URL         string `json:"url"`
}

type captureResponse struct {
	Status              Status      `json:"status"`
	FinalURL            string      `json:"finalUrl"`
	RawExtracted        value.Value `json:"rawExtracted"`
	NormalizedExtracted value.Value `json:"normalizedExtracted"`
	Artifacts           []struct {
		Kind        string `json:"kind"`
		ContentType string `json:"contentType"`
		Data        []byte `json:"data"`
	} `json:"artifacts"`
	Notes string `json:"notes"`
}

// Capture implements Capturer.
func (h *HTTPCapturer) Capture(ctx context.Context, target *core.Target) (*Result, error) {
	body, err := json.Marshal(captureRequest{
		TargetID:    target.ID,
		Marketplace: target.Marketplace,
		TargetType:  string(target.TargetType),
		URL:         target.URL,
	})
	if err != nil {
		return nil, core.NoRetry(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, core.NoRetry(fmt.Errorf("build capture request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if job := jobctx.JobFromContext(ctx); job != nil {
		req.Header.Set(HeaderJobID, job.ID)
		req.Header.Set(HeaderAttempt, strconv.Itoa(job.AttemptCount))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", target.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read capture response: %w", err)
	}
	if len(data) > maxResponseBytes {
		return nil, core.NoRetry(fmt.Errorf("capture response exceeds %d bytes", maxResponseBytes))
	}

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnavailableForLegalReasons:
		return &Result{
			Status:   StatusBlocked,
			FinalURL: target.URL,
			Notes:    fmt.Sprintf("extraction service answered %d: %s", resp.StatusCode, snippet(data)),
		}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		err := fmt.Errorf("capture %s: rate limited", target.URL)
		if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
			return nil, core.RetryAfter(d, err)
		}
		return nil, err
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("capture %s: status %d: %s", target.URL, resp.StatusCode, snippet(data))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, core.NoRetry(fmt.Errorf("capture %s: status %d: %s", target.URL, resp.StatusCode, snippet(data)))
	}

	var out captureResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode capture response: %w", err)
	}
	if out.Status == "" {
		out.Status = StatusOK
	}
	if out.Status != StatusOK && out.Status != StatusBlocked {
		return nil, fmt.Errorf("capture %s: unknown status %q", target.URL, out.Status)
	}
	if out.FinalURL == "" {
		out.FinalURL = target.URL
	}

	result := &Result{
		Status:              out.Status,
		FinalURL:            out.FinalURL,
		RawExtracted:        out.RawExtracted,
		NormalizedExtracted: out.NormalizedExtracted,
		Notes:               out.Notes,
	}
	for _, a := range out.Artifacts {
		result.Artifacts = append(result.Artifacts, Artifact{
			Kind:        a.Kind,
			ContentType: a.ContentType,
			Bytes:       a.Data,
		})
	}
	return result, nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(h string) (time.Duration, bool) {
	secs, err := strconv.Atoi(h)
	if err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func snippet(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
