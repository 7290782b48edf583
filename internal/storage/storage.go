// Package storage defines the Storage interface and common types for all blob
// storage backends in the template gateway.
//
// New backends are added by implementing the Storage interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init(),
// so adding a backend requires no changes to the factory or main package beyond
// the blank import.
//
// Document bytes live under two path namespaces: uploads/ holds original
// documents keyed by docid, conversions/ holds converted artifacts.
package storage

import (
	"context"
	"io"
)

// Namespace prefixes for gateway blob paths.
const (
	UploadsPrefix     = "uploads"
	ConversionsPrefix = "conversions"
)

// Storage defines the interface for all storage backends.
// Uploads overwrite any existing object at the same path.
type Storage interface {
	// Upload stores an object and returns the storage result with path and size
	Upload(ctx context.Context, path string, reader io.Reader) (*UploadResult, error)

	// Download retrieves an object and returns a reader
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes an object from storage
	Delete(ctx context.Context, path string) error

	// Exists checks if an object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	// Path is the storage path where the object was stored
	Path string

	// Size is the object size in bytes
	Size int64
}

// DownloadBytes is a convenience wrapper reading the whole object into memory.
// The document artifacts this gateway handles are small (template binaries,
// manifests), so whole-object reads are the norm.
func DownloadBytes(ctx context.Context, s Storage, path string) ([]byte, error) {
	rc, err := s.Download(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
