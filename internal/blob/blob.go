// Package blob stores uploaded artifacts.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned when no object exists at a path.
var ErrNotFound = errors.New("blob not found")

// Object describes a stored blob.
type Object struct {
	Path string
	Size int64
}

// Store is a durable object store.
type Store interface {
	Put(ctx context.Context, p string, data []byte) (Object, error)
	Get(ctx context.Context, p string) ([]byte, error)
	Delete(ctx context.Context, p string) error
}

// Key builds the storage path of an upload.
func Key(engagementID, jobID, filename string) string {
	return path.Join(safeSegment(engagementID), safeSegment(jobID), safeSegment(filename))
}

func safeSegment(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_").Replace(s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// cleanKey rejects absolute and escaping paths.
func cleanKey(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("invalid blob path %q", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid blob path %q", p)
	}
	return clean, nil
}
