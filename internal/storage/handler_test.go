package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNavigateRelativeAppend(t *testing.T) {
	h := NewHandler(t.TempDir())

	got, err := h.Navigate(MustParse("file:///a/b"), "c/d.txt")
	if err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
	if got.String() != "file:///a/b/c/d.txt" {
		t.Errorf("expected file:///a/b/c/d.txt, got %s", got)
	}
}

func TestNavigateStripsLeadingSlash(t *testing.T) {
	h := NewHandler(t.TempDir())

	// A leading "/" must not escape to the filesystem root.
	got, err := h.Navigate(MustParse("file:///a/b"), "/c/d.txt")
	if err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
	if got.String() == "file:///c/d.txt" {
		t.Fatal("leading slash escaped the current root")
	}
	if got.String() != "file:///a/b/c/d.txt" {
		t.Errorf("expected file:///a/b/c/d.txt, got %s", got)
	}
}

func TestNavigateAzureKeepsToken(t *testing.T) {
	h := NewHandler(t.TempDir())

	uri := MustParse("azure://https://acct.blob.core.windows.net/tiles/run1?sig=abc")
	got, err := h.Navigate(uri, "cell_0_0.las")
	if err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
	want := "azure://https://acct.blob.core.windows.net/tiles/run1/cell_0_0.las?sig=abc"
	if got.String() != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestDispatchUnknownScheme(t *testing.T) {
	h := NewHandler(t.TempDir())

	_, err := h.Exists(context.Background(), MustParse("ftp://somewhere/file"))
	if err == nil {
		t.Fatal("expected error for unregistered scheme")
	}
	if !IsBackendError(err) {
		t.Errorf("expected BackendError, got %T", err)
	}
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := NewHandler(t.TempDir())

	src := filepath.Join(t.TempDir(), "payload.bin")
	content := []byte("grid cell payload \x00\x01\x02")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	dstDir := t.TempDir()
	dst := MustParse("file://" + filepath.ToSlash(filepath.Join(dstDir, "out.bin")))
	if err := h.UploadDirect(ctx, src, dst); err != nil {
		t.Fatalf("UploadDirect failed: %v", err)
	}

	got, err := h.GetBytes(ctx, dst)
	if err != nil {
		t.Fatalf("GetBytes failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("round trip mismatch: got %q want %q", got, content)
	}

	size, err := h.FileSize(ctx, dst)
	if err != nil {
		t.Fatalf("FileSize failed: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), size)
	}
}

func TestGetByteRange(t *testing.T) {
	ctx := context.Background()
	h := NewHandler(t.TempDir())

	p := filepath.Join(t.TempDir(), "range.bin")
	if err := os.WriteFile(p, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	uri := MustParse("file://" + filepath.ToSlash(p))

	got, err := h.GetByteRange(ctx, uri, 2, 4)
	if err != nil {
		t.Fatalf("GetByteRange failed: %v", err)
	}
	if string(got) != "2345" {
		t.Errorf("expected 2345, got %q", got)
	}
}

func TestDownloadLocalIsNotDisposed(t *testing.T) {
	ctx := context.Background()
	h := NewHandler(t.TempDir())

	p := filepath.Join(t.TempDir(), "keep.txt")
	if err := os.WriteFile(p, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}

	local, err := h.Download(ctx, MustParse("file://"+filepath.ToSlash(p)))
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if local != p && local != filepath.ToSlash(p) {
		t.Errorf("expected download of a local file to return the original path, got %s", local)
	}

	if err := h.DisposeIfRemote(local); err != nil {
		t.Fatalf("DisposeIfRemote failed: %v", err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Error("local file must survive DisposeIfRemote")
	}
}

func TestDisposeIfRemoteDeletesOnce(t *testing.T) {
	h := NewHandler(t.TempDir())

	tmp, err := h.CreateTempFile(".txt", []byte("temp content"))
	if err != nil {
		t.Fatalf("CreateTempFile failed: %v", err)
	}

	if err := h.DisposeIfRemote(tmp); err != nil {
		t.Fatalf("first dispose failed: %v", err)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Fatal("temp file should be gone after dispose")
	}

	// Second dispose is a no-op: the registry entry was removed.
	if err := h.DisposeIfRemote(tmp); err != nil {
		t.Fatalf("second dispose must not fail: %v", err)
	}
}

func TestDisposeIfRemoteMatchesAliases(t *testing.T) {
	h := NewHandler(t.TempDir())

	tmp, err := h.CreateTempFile(".txt", nil)
	if err != nil {
		t.Fatalf("CreateTempFile failed: %v", err)
	}

	// Refer to the same file through a non-canonical path.
	alias := filepath.Join(filepath.Dir(tmp), ".", filepath.Base(tmp))
	if err := h.DisposeIfRemote(alias); err != nil {
		t.Fatalf("DisposeIfRemote via alias failed: %v", err)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Error("aliased path should have matched the registered handle")
	}
}

func TestMkdirTempUsesHandlerTempDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "scratch")
	h := NewHandler(base)

	dir, err := h.MkdirTemp("tiles-*")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	if filepath.Dir(dir) != base {
		t.Errorf("scratch dir %s not under %s", dir, base)
	}

	// Unset temp dir falls back to the OS default.
	dir2, err := NewHandler("").MkdirTemp("tiles-*")
	if err != nil {
		t.Fatalf("MkdirTemp with OS default failed: %v", err)
	}
	defer os.RemoveAll(dir2)
	if filepath.Dir(dir2) != filepath.Clean(os.TempDir()) {
		t.Errorf("scratch dir %s not under OS temp dir", dir2)
	}
}

func TestUploadIntoDirectoryUsesBasename(t *testing.T) {
	ctx := context.Background()
	h := NewHandler(t.TempDir())

	src := filepath.Join(t.TempDir(), "tile_0_0.las")
	if err := os.WriteFile(src, []byte("points"), 0o644); err != nil {
		t.Fatal(err)
	}
	dstDir := t.TempDir()

	if err := h.UploadIntoDirectory(ctx, src, MustParse("file://"+filepath.ToSlash(dstDir)), ""); err != nil {
		t.Fatalf("UploadIntoDirectory failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "tile_0_0.las")); err != nil {
		t.Errorf("expected file under destination dir: %v", err)
	}

	if err := h.UploadIntoDirectory(ctx, src, MustParse("file://"+filepath.ToSlash(dstDir)), "renamed.las"); err != nil {
		t.Fatalf("UploadIntoDirectory with name failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "renamed.las")); err != nil {
		t.Errorf("expected renamed file under destination dir: %v", err)
	}
}
