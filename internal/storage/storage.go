// Package storage provides the shared file areas used by the render pipeline.
// It defines the Storage interface (port) for hexagonal architecture and
// implementations for local disk and S3 publishing.
//
// Two areas exist at runtime: the uploads area, written by the media resolver
// and the upload handler, and the output area, written only by render workers.
// Both are LocalStorage instances rooted at different directories.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for a named-file area.
// Names are plain file names; they never contain path separators.
type Storage interface {
	// Save writes data to a new file called name and returns its path.
	// A partially written file is removed before an error is returned.
	Save(ctx context.Context, name string, data io.Reader) (path string, err error)

	// Open returns a reader for the named file.
	// The caller is responsible for closing the returned ReadCloser.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Remove deletes the named files. Missing files are ignored and
	// removal continues past individual failures.
	Remove(ctx context.Context, names ...string) error

	// Path returns the absolute location of name inside the area.
	Path(name string) string

	// Exists reports whether name is present as a regular file.
	Exists(name string) bool

	// Publish uploads data to object storage and returns its public URL.
	// Returns ErrS3NotConfigured if object storage is not configured.
	Publish(ctx context.Context, key string, data io.Reader) (url string, err error)
}
