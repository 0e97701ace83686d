// Package blob stores raw document bytes by opaque locator, behind a single
// interface over a local-disk backend and a GCS backend. Which backend is
// active is decided once at startup; callers never branch on the variant.
package blob

import (
	"context"
	"errors"
	"path"
)

var (
	// ErrNotFound indicates the locator has no stored object.
	ErrNotFound = errors.New("blob not found")
)

// Store is the capability set shared by both backends. Put returns the
// locator to use for later Get/Delete/Exists calls; failures from the
// GCS backend may be transient and are safe to retry.
type Store interface {
	Put(ctx context.Context, key string, content []byte) (string, error)
	Get(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
	Exists(ctx context.Context, locator string) (bool, error)
}

// DocumentKey builds the canonical per-owner, per-hash object key, so
// identical content uploaded twice by one owner lands on the same object.
func DocumentKey(ownerID, contentHash string) string {
	return path.Join("owners", ownerID, contentHash)
}

// ExportKey builds the object key for a comparison export artifact.
func ExportKey(comparisonID string) string {
	return path.Join("exports", comparisonID+".txt")
}
