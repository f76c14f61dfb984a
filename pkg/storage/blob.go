package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrObjectNotFound is returned by Get when the location no longer exists.
var ErrObjectNotFound = errors.New("storage: object not found")

// BlobStore persists rendered artifacts. Locations returned by Put are opaque to
// callers and only meaningful to the store that produced them.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, location string) ([]byte, error)
	Delete(ctx context.Context, location string) error
}

// Sweeper is implemented by stores that can expire old artifacts themselves.
type Sweeper interface {
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ArtifactKey builds an append-only object key. Every render writes a new key so an
// existing artifact is never overwritten in place.
func ArtifactKey(organizationID, reportID, name, extension string, at time.Time) string {
	base := SanitizeFilename(name)
	return path.Join("reports", SanitizeFilename(organizationID), reportID,
		fmt.Sprintf("%s-%d.%s", base, at.UTC().UnixNano(), extension))
}

// SanitizeFilename lowercases name and keeps only filesystem safe characters.
func SanitizeFilename(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastDash := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case r == '-' || r == '_' || r == ' ' || r == '.':
			if !lastDash && b.Len() > 0 {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "report"
	}
	return out
}

func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("object key required")
	}
	if strings.HasPrefix(key, "/") || path.Clean(key) != key || key == ".." || strings.HasPrefix(key, "../") {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}
