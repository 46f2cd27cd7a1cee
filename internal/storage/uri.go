// Package storage provides uniform, scheme-dispatched I/O over heterogeneous
// backends (local filesystem, Azure blob storage). All pipeline stages use it
// for download, upload, listing and existence checks so that the same stage
// can run against a local directory or a remote container unchanged.
package storage

import (
	"fmt"
	"strings"
)

// URI identifies an addressable file or directory on some backend. The scheme
// prefix selects the backend; everything after "scheme://" is opaque to the
// dispatcher and interpreted by the backend itself (for azure URIs it is a
// full SAS URL including the access token in the query string).
//
// URI is an immutable value type. New URIs are produced by Parse or by
// Handler.Navigate.
type URI struct {
	scheme string
	rest   string
}

// Parse splits a raw URI string into its scheme and backend-specific
// remainder. It does not validate the remainder.
func Parse(raw string) (URI, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" {
		return URI{}, fmt.Errorf("uri %q has no scheme", raw)
	}
	return URI{scheme: strings.ToLower(scheme), rest: rest}, nil
}

// MustParse is Parse for statically-known URIs; it panics on error.
// Intended for tests and constants.
func MustParse(raw string) URI {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// Scheme returns the lowercased scheme component.
func (u URI) Scheme() string { return u.scheme }

// Rest returns everything after "scheme://".
func (u URI) Rest() string { return u.rest }

// String reassembles the full URI.
func (u URI) String() string { return u.scheme + "://" + u.rest }

// IsZero reports whether u is the zero URI.
func (u URI) IsZero() bool { return u.scheme == "" && u.rest == "" }
