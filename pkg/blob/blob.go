// Package blob stores capture artifacts such as screenshots and raw HTML in
// an object store addressed by a structured key.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/security"
)

// ErrNotFound is returned by Get when no object exists under a key.
var ErrNotFound = errors.New("blob: object not found")

// Store persists artifact bytes.
type Store interface {
	// Put writes data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) error
	// Get reads the object stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// KeyParts are the components of an artifact key.
type KeyParts struct {
	Env         string
	Marketplace string
	TargetType  string
	TargetID    string
	RunID       string
	Kind        string
	CapturedAt  time.Time
}

// ArtifactKey builds the object key for an artifact:
//
//	{env}/{marketplace}/{targetType}/{targetId}/{yyyy}/{mm}/{dd}/{runId}/{kind}
//
// The date is taken from CapturedAt in UTC. Every other segment must be a
// plain path component.
func ArtifactKey(p KeyParts) (string, error) {
	segments := []string{p.Env, p.Marketplace, p.TargetType, p.TargetID}
	for _, s := range append(segments, p.RunID, p.Kind) {
		if err := security.ValidateKeySegment(s); err != nil {
			return "", err
		}
	}
	at := p.CapturedAt.UTC()
	return strings.Join([]string{
		p.Env,
		p.Marketplace,
		p.TargetType,
		p.TargetID,
		fmt.Sprintf("%04d", at.Year()),
		fmt.Sprintf("%02d", int(at.Month())),
		fmt.Sprintf("%02d", at.Day()),
		p.RunID,
		p.Kind,
	}, "/"), nil
}

// ContentHash returns the hex SHA-256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// checkSize enforces the per-artifact size limit.
func checkSize(key string, data []byte) error {
	if len(data) > security.MaxArtifactSize {
		return fmt.Errorf("%s: %d bytes: %w", key, len(data), core.ErrArtifactTooLarge)
	}
	return nil
}
