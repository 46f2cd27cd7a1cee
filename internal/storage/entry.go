package storage

import (
	"path"
	"strings"
	"time"
)

// Entry is a uniform listing result across backends.
//
// Shallow listings may yield directory entries (prefixes on blob storage,
// directories on the local filesystem). Recursive listings enumerate files
// only.
type Entry struct {
	// Name is the basename of the file or directory.
	Name string

	// URI is the fully qualified URI, scheme included. For blob storage it
	// carries the access token so the entry can be passed straight back to
	// Download.
	URI URI

	// Path is the path relative to the listed URI's base.
	Path string

	// IsFile is false for directory/prefix entries.
	IsFile bool

	// Size is the size in bytes, or nil when unknown (directories).
	Size *int64

	// LastModified is the modification time, or nil when the backend does
	// not report one.
	LastModified *time.Time
}

// IsDirectory reports whether the entry is a directory or prefix.
func (e Entry) IsDirectory() bool { return !e.IsFile }

// Extension returns the file extension without the leading dot, or "" for
// directories and extension-less names.
func (e Entry) Extension() string {
	if !e.IsFile {
		return ""
	}
	return strings.TrimPrefix(path.Ext(e.Name), ".")
}

// HasExtension reports whether the entry is a file with one of the given
// extensions (case-insensitive, without dots).
func (e Entry) HasExtension(exts ...string) bool {
	got := strings.ToLower(e.Extension())
	for _, ext := range exts {
		if got == strings.ToLower(ext) {
			return true
		}
	}
	return false
}
