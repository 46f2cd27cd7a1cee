package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// LocalBackend implements Backend for the file:// scheme. The part after
// "file://" is taken verbatim as a filesystem path, so file:///a/b addresses
// the absolute path /a/b and file://data/x.laz a relative one.
type LocalBackend struct{}

func (LocalBackend) localPath(uri URI) string {
	return uri.Rest()
}

func localURI(p string) URI {
	return URI{scheme: "file", rest: filepath.ToSlash(p)}
}

// Download does not copy: local files are already materialised, so the
// returned handle points at the original path and is never disposed.
func (b LocalBackend) Download(_ context.Context, uri URI, _ string) (FileHandle, error) {
	p := b.localPath(uri)
	if _, err := os.Stat(p); err != nil {
		return FileHandle{}, backendErr("download", uri, err)
	}
	return FileHandle{Path: p, MustDispose: false}, nil
}

func (b LocalBackend) UploadDirect(_ context.Context, localPath string, uri URI) error {
	if err := copyFile(localPath, b.localPath(uri)); err != nil {
		return backendErr("upload", uri, err)
	}
	return nil
}

func (b LocalBackend) UploadIntoDirectory(_ context.Context, localPath string, uri URI, name string) error {
	if name == "" {
		name = filepath.Base(localPath)
	}
	dir := b.localPath(uri)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return backendErr("upload", uri, err)
	}
	if err := copyFile(localPath, filepath.Join(dir, name)); err != nil {
		return backendErr("upload", uri, err)
	}
	return nil
}

func (b LocalBackend) UploadStream(_ context.Context, r io.Reader, uri URI) error {
	dst := b.localPath(uri)
	f, err := os.Create(dst)
	if err != nil {
		return backendErr("upload", uri, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return backendErr("upload", uri, err)
	}
	if err := f.Close(); err != nil {
		return backendErr("upload", uri, err)
	}
	return nil
}

func (b LocalBackend) ListShallow(_ context.Context, uri URI, pattern string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		re, err := compilePattern(pattern)
		if err != nil {
			yield(Entry{}, backendErr("list", uri, err))
			return
		}
		root := b.localPath(uri)
		entries, err := os.ReadDir(root)
		if err != nil {
			yield(Entry{}, backendErr("list", uri, err))
			return
		}
		for _, d := range entries {
			if re != nil && !re.MatchString(d.Name()) {
				continue
			}
			e, err := b.dirEntry(root, d.Name(), d)
			if err != nil {
				if !yield(Entry{}, backendErr("list", uri, err)) {
					return
				}
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (b LocalBackend) ListRecursive(_ context.Context, uri URI, pattern string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		re, err := compilePattern(pattern)
		if err != nil {
			yield(Entry{}, backendErr("list", uri, err))
			return
		}
		root := b.localPath(uri)
		walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if re != nil && !re.MatchString(rel) {
				return nil
			}
			e, err := b.dirEntry(root, rel, d)
			if err != nil {
				return err
			}
			if !yield(e, nil) {
				return errStopWalk
			}
			return nil
		})
		if walkErr != nil && !errors.Is(walkErr, errStopWalk) {
			yield(Entry{}, backendErr("list", uri, walkErr))
		}
	}
}

var errStopWalk = errors.New("stop walk")

func (b LocalBackend) dirEntry(root, rel string, d fs.DirEntry) (Entry, error) {
	full := filepath.Join(root, filepath.FromSlash(rel))
	e := Entry{
		Name:   d.Name(),
		URI:    localURI(full),
		Path:   rel,
		IsFile: !d.IsDir(),
	}
	if info, err := d.Info(); err == nil && e.IsFile {
		size := info.Size()
		mod := info.ModTime()
		e.Size = &size
		e.LastModified = &mod
	}
	return e, nil
}

// Navigate appends rel to the path. A leading "/" on rel is stripped so the
// result stays below the current URI; ".." is deliberately not interpreted.
func (b LocalBackend) Navigate(uri URI, rel string) URI {
	rel = strings.TrimPrefix(rel, "/")
	base := strings.TrimSuffix(uri.Rest(), "/")
	return URI{scheme: uri.Scheme(), rest: base + "/" + rel}
}

func (b LocalBackend) Exists(_ context.Context, uri URI) (bool, error) {
	_, err := os.Stat(b.localPath(uri))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, backendErr("exists", uri, err)
}

func (b LocalBackend) GetBytes(_ context.Context, uri URI) ([]byte, error) {
	data, err := os.ReadFile(b.localPath(uri))
	if err != nil {
		return nil, backendErr("read", uri, err)
	}
	return data, nil
}

func (b LocalBackend) GetByteRange(_ context.Context, uri URI, offset, length int64) ([]byte, error) {
	f, err := os.Open(b.localPath(uri))
	if err != nil {
		return nil, backendErr("read", uri, err)
	}
	defer f.Close()
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, backendErr("read", uri, err)
	}
	return buf[:n], nil
}

func (b LocalBackend) UploadFolder(ctx context.Context, localDir string, uri URI, opts FolderUploadOptions) error {
	dst := b.localPath(uri)
	err := uploadTree(ctx, localDir, opts, func(_ context.Context, localPath, relPath string) error {
		target := filepath.Join(dst, filepath.FromSlash(relPath))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return copyFile(localPath, target)
	})
	if err != nil {
		return backendErr("upload-folder", uri, err)
	}
	return nil
}

func (b LocalBackend) FileSize(_ context.Context, uri URI) (int64, error) {
	info, err := os.Stat(b.localPath(uri))
	if err != nil {
		return 0, backendErr("size", uri, err)
	}
	return info.Size(), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}

var _ Backend = LocalBackend{}
