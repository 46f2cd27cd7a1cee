package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
)

// BackendError wraps any failure to resolve or access a storage target. The
// abstraction performs no retries; callers decide whether to retry, skip or
// abort.
type BackendError struct {
	Op  string
	URI string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.URI, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func backendErr(op string, uri URI, err error) error {
	return &BackendError{Op: op, URI: uri.String(), Err: err}
}

// IsBackendError reports whether err is (or wraps) a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// FileHandle tracks a local materialisation of a URI. MustDispose is true for
// temp files fetched from a remote backend and false for caller-owned local
// paths that a file:// download simply pointed at.
type FileHandle struct {
	Path        string
	MustDispose bool
}

// FolderUploadOptions tunes the bulk folder upload queue.
type FolderUploadOptions struct {
	// Recursive selects whether the local tree walk descends into
	// subdirectories. Default true.
	Recursive bool

	// QueueSize is the bounded queue capacity between the walking producer
	// and the uploading consumers. Zero means DefaultUploadQueueSize.
	QueueSize int

	// Consumers is the number of concurrent upload workers. Zero means
	// GOMAXPROCS.
	Consumers int
}

// Backend implements the storage capability set for one URI scheme.
// Implementations hold no shared mutable state; every method stands alone.
//
// Listing methods return lazy, finite, single-pass sequences: entries are
// produced as the backend pages through results, errors are yielded in-band
// as the second value, and the sequence is not restartable.
type Backend interface {
	// Download materialises the target locally and reports whether the
	// returned path is a temp file the caller must eventually dispose of.
	Download(ctx context.Context, uri URI, tmpDir string) (FileHandle, error)

	// UploadDirect uploads a local file to the exact destination URI.
	UploadDirect(ctx context.Context, localPath string, uri URI) error

	// UploadIntoDirectory uploads a local file into the directory identified
	// by uri. An empty name means the file's own basename.
	UploadIntoDirectory(ctx context.Context, localPath string, uri URI, name string) error

	// UploadStream uploads the reader's content to the exact destination URI.
	UploadStream(ctx context.Context, r io.Reader, uri URI) error

	// ListShallow lists direct children of uri. pattern, when non-empty, is a
	// regular expression matched against each entry's relative path.
	ListShallow(ctx context.Context, uri URI, pattern string) iter.Seq2[Entry, error]

	// ListRecursive lists all files below uri.
	ListRecursive(ctx context.Context, uri URI, pattern string) iter.Seq2[Entry, error]

	// Navigate appends rel to the URI's path component. It performs relative
	// composition only: a leading "/" on rel is stripped and ".." is not
	// interpreted. Callers rely on these plain append semantics; do not
	// normalise.
	Navigate(uri URI, rel string) URI

	// Exists reports whether a file exists at uri.
	Exists(ctx context.Context, uri URI) (bool, error)

	// GetBytes reads the whole target into memory.
	GetBytes(ctx context.Context, uri URI) ([]byte, error)

	// GetByteRange reads length bytes starting at offset.
	GetByteRange(ctx context.Context, uri URI, offset, length int64) ([]byte, error)

	// UploadFolder uploads a local directory tree below uri.
	UploadFolder(ctx context.Context, localDir string, uri URI, opts FolderUploadOptions) error

	// FileSize returns the size in bytes of the file at uri.
	FileSize(ctx context.Context, uri URI) (int64, error)
}
