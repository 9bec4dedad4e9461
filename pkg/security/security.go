package security

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kairos-watch/capture/pkg/core"
)

// Security limits and configuration
const (
	// MaxWorkerIDLength is the maximum length for worker identities
	MaxWorkerIDLength = 255

	// MaxKeySegmentLength is the maximum length of one blob key segment
	MaxKeySegmentLength = 128

	// MaxPayloadSize is the maximum size in bytes of a captured response body (4MB)
	MaxPayloadSize = 4 << 20

	// MaxArtifactSize is the maximum size in bytes of one artifact (32MB)
	MaxArtifactSize = 32 << 20

	// MaxConcurrency is the hard limit for capture loops in one process
	MaxConcurrency = 64

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096
)

var (
	validWorkerID   = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.:@/]*$`)
	validKeySegment = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)
)

// ValidateWorkerID validates a worker identity used as a lock owner.
func ValidateWorkerID(id string) error {
	if id == "" || len(id) > MaxWorkerIDLength || !validWorkerID.MatchString(id) {
		return core.ErrInvalidWorkerID
	}
	return nil
}

// ValidateKeySegment validates one path segment of a blob storage key.
func ValidateKeySegment(segment string) error {
	if len(segment) > MaxKeySegmentLength || !validKeySegment.MatchString(segment) {
		return fmt.Errorf("%w: %q", core.ErrInvalidKey, segment)
	}
	return nil
}

// ValidateTarget checks the fields a capture needs before a target is stored.
func ValidateTarget(t *core.Target) error {
	if t == nil {
		return core.ErrInvalidTarget
	}
	if err := ValidateKeySegment(t.Marketplace); err != nil {
		return fmt.Errorf("%w: marketplace: %v", core.ErrInvalidTarget, err)
	}
	switch t.TargetType {
	case core.TargetListing, core.TargetSearch, core.TargetRanking:
	default:
		return fmt.Errorf("%w: unknown target type %q", core.ErrInvalidTarget, t.TargetType)
	}
	u, err := url.Parse(t.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be absolute http(s)", core.ErrInvalidTarget)
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampAttempts keeps a per-job attempt budget within the retry ladder.
func ClampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > core.DefaultMaxAttempts {
		return core.DefaultMaxAttempts
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
