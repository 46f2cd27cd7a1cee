// Package manifest turns partitioned work units into a persisted, resumable,
// worker-indexed work list. Assignment is static and deterministic: the
// coordinator writes the manifest once, every worker loads the whole artifact
// and filters to its own worker id. Destination existence is the sole source
// of truth for "done" across runs; there is no separate completion ledger.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/borrob/3dbag-runner/internal/storage"
)

// Item is one unit of work bound to a worker and a destination.
type Item struct {
	Worker      int             `json:"worker"`
	Payload     json.RawMessage `json:"payload"`
	Destination string          `json:"destination"`
}

// DestinationURI parses the item's destination.
func (it Item) DestinationURI() (storage.URI, error) {
	return storage.Parse(it.Destination)
}

// Manifest is the ordered work list. Written once by a coordinator,
// read-only thereafter.
type Manifest struct {
	RunID   string    `json:"run_id"`
	Created time.Time `json:"created"`
	Workers int       `json:"workers"`
	Items   []Item    `json:"items"`
}

// DestinationChecker answers existence checks during manifest building.
// *storage.Handler satisfies it.
type DestinationChecker interface {
	Exists(ctx context.Context, uri storage.URI) (bool, error)
}

// Build enumerates units, drops every unit whose destination already exists
// (idempotent resumability: a rerun after partial failure only reprocesses
// missing outputs), and assigns each retained unit to worker i mod N in
// retained order. The modulo is explicit so assignment can evolve
// independently of unit ordering.
func Build[T any](ctx context.Context, units iter.Seq[T], workers int, destFor func(T) (storage.URI, error), checker DestinationChecker) (*Manifest, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workers)
	}

	m := &Manifest{
		RunID:   uuid.NewString(),
		Created: time.Now().UTC(),
		Workers: workers,
	}

	for unit := range units {
		dest, err := destFor(unit)
		if err != nil {
			return nil, fmt.Errorf("destination for unit: %w", err)
		}
		exists, err := checker.Exists(ctx, dest)
		if err != nil {
			return nil, fmt.Errorf("existence check %s: %w", dest, err)
		}
		if exists {
			continue // already produced by an earlier run
		}
		payload, err := json.Marshal(unit)
		if err != nil {
			return nil, fmt.Errorf("marshal unit payload: %w", err)
		}
		m.Items = append(m.Items, Item{
			Worker:      len(m.Items) % workers,
			Payload:     payload,
			Destination: dest.String(),
		})
	}
	return m, nil
}

// ItemsFor returns the slice of items assigned to the given worker, in
// manifest order.
func (m *Manifest) ItemsFor(worker int) []Item {
	var out []Item
	for _, it := range m.Items {
		if it.Worker == worker {
			out = append(out, it)
		}
	}
	return out
}

// Encode writes the manifest as a single deterministic JSON artifact.
func (m *Manifest) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return nil
}

// Decode reads a manifest previously written by Encode.
func Decode(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// Units adapts a slice to the iter.Seq consumed by Build.
func Units[T any](items []T) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, it := range items {
			if !yield(it) {
				return
			}
		}
	}
}
