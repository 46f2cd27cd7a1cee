package storage

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
)

// Handler is the scheme-dispatching façade over the registered backends. It
// owns the temporary directory used for remote downloads and the disposal
// registry that guarantees at-most-once deletion of downloaded temp files.
//
// Handler is safe for concurrent use.
type Handler struct {
	backends map[string]Backend
	tmpDir   string

	mu      sync.Mutex
	handles []FileHandle
}

// NewHandler builds a Handler with the standard backends (file, azure)
// registered. tmpDir is where remote downloads and temp files are created;
// it may be empty to use the OS default.
func NewHandler(tmpDir string) *Handler {
	return &Handler{
		backends: map[string]Backend{
			"file":  LocalBackend{},
			"azure": AzureBackend{},
		},
		tmpDir: tmpDir,
	}
}

// NewHandlerWithBackends builds a Handler over an explicit scheme registry.
// Used by tests to inject fakes.
func NewHandlerWithBackends(tmpDir string, backends map[string]Backend) *Handler {
	return &Handler{backends: backends, tmpDir: tmpDir}
}

func (h *Handler) backendFor(uri URI) (Backend, error) {
	b, ok := h.backends[uri.Scheme()]
	if !ok {
		return nil, backendErr("dispatch", uri, fmt.Errorf("no backend registered for scheme %q", uri.Scheme()))
	}
	return b, nil
}

// Download materialises uri locally and registers the returned handle for
// later disposal. The returned path is the caller's to read but not to
// delete; use DisposeIfRemote when done.
func (h *Handler) Download(ctx context.Context, uri URI) (string, error) {
	b, err := h.backendFor(uri)
	if err != nil {
		return "", err
	}
	handle, err := b.Download(ctx, uri, h.tmpDir)
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	h.handles = append(h.handles, handle)
	h.mu.Unlock()
	return handle.Path, nil
}

// DisposeIfRemote deletes path only when it matches a registered
// must-dispose handle. Paths are compared in canonical (absolute, cleaned)
// form so relative and absolute aliases of the same file are recognised.
// Deletion removes the registry entry, so a path can never be deleted twice.
func (h *Handler) DisposeIfRemote(path string) error {
	resolved, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.handles[:0]
	var firstErr error
	for _, handle := range h.handles {
		hp, err := filepath.Abs(filepath.Clean(handle.Path))
		if err != nil {
			hp = handle.Path
		}
		if handle.MustDispose && hp == resolved {
			if _, err := os.Stat(handle.Path); err == nil {
				if err := os.Remove(handle.Path); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			continue // registry entry dropped either way
		}
		kept = append(kept, handle)
	}
	h.handles = kept
	return firstErr
}

// CreateTempFile creates a file in the handler's temp directory, optionally
// seeded with content, and registers it for disposal. suffix becomes the
// filename suffix (e.g. ".toml").
func (h *Handler) CreateTempFile(suffix string, content []byte) (string, error) {
	if h.tmpDir != "" {
		if err := os.MkdirAll(h.tmpDir, 0o755); err != nil {
			return "", fmt.Errorf("create temp dir: %w", err)
		}
	}
	f, err := os.CreateTemp(h.tmpDir, "bagrunner-*"+suffix)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if len(content) > 0 {
		if _, err := f.Write(content); err != nil {
			f.Close()
			return "", fmt.Errorf("write temp file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	h.mu.Lock()
	h.handles = append(h.handles, FileHandle{Path: f.Name(), MustDispose: true})
	h.mu.Unlock()
	return f.Name(), nil
}

// MkdirTemp creates a scratch directory under the handler's temp directory
// (OS default when unset). The caller removes it when done.
func (h *Handler) MkdirTemp(pattern string) (string, error) {
	if h.tmpDir != "" {
		if err := os.MkdirAll(h.tmpDir, 0o755); err != nil {
			return "", fmt.Errorf("create temp dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(h.tmpDir, pattern)
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

func (h *Handler) UploadDirect(ctx context.Context, localPath string, uri URI) error {
	b, err := h.backendFor(uri)
	if err != nil {
		return err
	}
	return b.UploadDirect(ctx, localPath, uri)
}

func (h *Handler) UploadIntoDirectory(ctx context.Context, localPath string, uri URI, name string) error {
	b, err := h.backendFor(uri)
	if err != nil {
		return err
	}
	return b.UploadIntoDirectory(ctx, localPath, uri, name)
}

func (h *Handler) UploadStream(ctx context.Context, r io.Reader, uri URI) error {
	b, err := h.backendFor(uri)
	if err != nil {
		return err
	}
	return b.UploadStream(ctx, r, uri)
}

// UploadStreamIntoDirectory uploads the reader's content as name inside the
// directory identified by uri.
func (h *Handler) UploadStreamIntoDirectory(ctx context.Context, r io.Reader, uri URI, name string) error {
	b, err := h.backendFor(uri)
	if err != nil {
		return err
	}
	return b.UploadStream(ctx, r, b.Navigate(uri, name))
}

func (h *Handler) ListShallow(ctx context.Context, uri URI, pattern string) iter.Seq2[Entry, error] {
	b, err := h.backendFor(uri)
	if err != nil {
		return errSeq(err)
	}
	return b.ListShallow(ctx, uri, pattern)
}

func (h *Handler) ListRecursive(ctx context.Context, uri URI, pattern string) iter.Seq2[Entry, error] {
	b, err := h.backendFor(uri)
	if err != nil {
		return errSeq(err)
	}
	return b.ListRecursive(ctx, uri, pattern)
}

// Navigate appends rel to uri's path component. Relative composition only:
// a leading "/" is stripped and ".." passes through uninterpreted, so a
// caller cannot escape the current root by accident. This is a documented
// limitation of the abstraction, not something to normalise away.
func (h *Handler) Navigate(uri URI, rel string) (URI, error) {
	b, err := h.backendFor(uri)
	if err != nil {
		return URI{}, err
	}
	return b.Navigate(uri, rel), nil
}

func (h *Handler) Exists(ctx context.Context, uri URI) (bool, error) {
	b, err := h.backendFor(uri)
	if err != nil {
		return false, err
	}
	return b.Exists(ctx, uri)
}

func (h *Handler) GetBytes(ctx context.Context, uri URI) ([]byte, error) {
	b, err := h.backendFor(uri)
	if err != nil {
		return nil, err
	}
	return b.GetBytes(ctx, uri)
}

func (h *Handler) GetByteRange(ctx context.Context, uri URI, offset, length int64) ([]byte, error) {
	b, err := h.backendFor(uri)
	if err != nil {
		return nil, err
	}
	return b.GetByteRange(ctx, uri, offset, length)
}

func (h *Handler) UploadFolder(ctx context.Context, localDir string, uri URI, opts FolderUploadOptions) error {
	b, err := h.backendFor(uri)
	if err != nil {
		return err
	}
	return b.UploadFolder(ctx, localDir, uri, opts)
}

func (h *Handler) FileSize(ctx context.Context, uri URI) (int64, error) {
	b, err := h.backendFor(uri)
	if err != nil {
		return 0, err
	}
	return b.FileSize(ctx, uri)
}

func errSeq(err error) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		yield(Entry{}, err)
	}
}
