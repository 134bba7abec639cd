// Package blob stores uploaded run files addressed by slash-separated paths.
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"fedplane/internal/apperr"
)

// Store persists opaque file contents.
type Store interface {
	// Write stores the content of r at p, replacing any previous content.
	Write(ctx context.Context, p string, r io.Reader) error
	// Read opens the content stored at p. Missing paths wrap apperr.ErrNotFound.
	Read(ctx context.Context, p string) (io.ReadCloser, error)
	// Exists reports whether p holds content.
	Exists(ctx context.Context, p string) (bool, error)
	// List returns every stored path starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes p. Deleting a missing path is not an error.
	Delete(ctx context.Context, p string) error
}

// CleanPath normalizes p and rejects paths escaping the store root.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty blob path: %w", apperr.ErrValidation)
	}
	if strings.ContainsRune(p, '\\') || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("blob path %q: %w", p, apperr.ErrValidation)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("blob path %q escapes root: %w", p, apperr.ErrValidation)
	}
	return cleaned, nil
}
