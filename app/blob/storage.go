// Package blob stores media files under hierarchical paths, either on the
// local filesystem or in a MinIO/S3 bucket.
package blob

import (
	"context"
	"io"
	"io/fs"
	"time"
)

// ErrNotExist is returned when a path or prefix holds nothing.
var ErrNotExist = fs.ErrNotExist

// Info describes a stored blob.
type Info struct {
	Size    int64
	ModTime time.Time
}

// Storage is the blob layer. Paths always use forward slashes and never
// start with one.
type Storage interface {
	// Put writes r to path, replacing any existing blob.
	Put(ctx context.Context, path string, r io.Reader, size int64) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Stat(ctx context.Context, path string) (Info, error)
	// Delete removes a blob. A missing blob is not an error.
	Delete(ctx context.Context, path string) error
	// DeletePrefix removes every blob under prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// Move renames a blob or a whole subtree. It returns ErrNotExist when
	// nothing is stored under from.
	Move(ctx context.Context, from, to string) error
	// List returns the paths stored under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
