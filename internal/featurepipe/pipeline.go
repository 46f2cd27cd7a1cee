// Package featurepipe runs a bounded producer/consumer pipeline: several
// producers each read one input fully and emit records, one consumer writes
// them to a sink in fixed-size batches. The channel capacity is tied to the
// batch size, so memory stays bounded no matter how many inputs there are or
// how fast the producers run ahead of the sink.
package featurepipe

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/sourcegraph/conc/pool"
)

// Sink receives records in batches. WriteBatch is only ever called from one
// goroutine, so implementations need no locking.
type Sink[R any] interface {
	WriteBatch(ctx context.Context, batch []R) error
}

// Extract reads one input and returns its records. Producers call it
// concurrently, one input per call.
type Extract[I, R any] func(ctx context.Context, input I) ([]R, error)

// Options tunes a pipeline run.
type Options struct {
	// BatchSize is the flush threshold. Zero means DefaultBatchSize.
	BatchSize int

	// Producers is the number of concurrent extractors. Zero means
	// DefaultProducers.
	Producers int
}

const (
	DefaultBatchSize = 5000
	DefaultProducers = 4
)

// Run extracts records from every input and writes them to sink in batches
// of opts.BatchSize, flushing the final partial batch at the end. A failing
// extractor or sink aborts the whole run; the sink may then hold a prefix of
// the records, which is safe because reruns skip work whose output already
// exists.
func Run[I, R any](ctx context.Context, inputs []I, extract Extract[I, R], sink Sink[R], opts Options) error {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Producers <= 0 {
		opts.Producers = DefaultProducers
	}

	// Twice the batch size lets producers fill the next batch while the
	// consumer flushes the current one.
	records := make(chan R, 2*opts.BatchSize)

	produceCtx, stopProducers := context.WithCancel(ctx)
	defer stopProducers()

	producers := pool.New().WithContext(produceCtx).WithMaxGoroutines(opts.Producers).WithCancelOnError().WithFirstError()
	for _, input := range inputs {
		producers.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err // cancelled before this input started
			}
			recs, err := extract(ctx, input)
			if err != nil {
				return fmt.Errorf("extract %v: %w", input, err)
			}
			for _, r := range recs {
				select {
				case records <- r:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	consumerErr := make(chan error, 1)
	go func() {
		consumerErr <- consume(ctx, records, sink, opts.BatchSize, stopProducers)
	}()

	produceErr := producers.Wait()
	close(records)
	sinkErr := <-consumerErr

	// A sink failure cancels the producers, so a bare cancellation from the
	// producer side must not mask the sink's error.
	if produceErr != nil && !errors.Is(produceErr, context.Canceled) {
		return produceErr
	}
	if sinkErr != nil {
		return sinkErr
	}
	return produceErr
}

// consume drains the channel, flushing every time a full batch accumulates
// and once more for the remainder after the channel closes.
func consume[R any](ctx context.Context, records <-chan R, sink Sink[R], batchSize int, stopProducers func()) error {
	batch := make([]R, 0, batchSize)
	flushed := 0
	for r := range records {
		batch = append(batch, r)
		if len(batch) == batchSize {
			if err := sink.WriteBatch(ctx, batch); err != nil {
				// Stop producing, then keep draining so producers never
				// block on a dead consumer.
				stopProducers()
				for range records {
				}
				return fmt.Errorf("write batch: %w", err)
			}
			flushed += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := sink.WriteBatch(ctx, batch); err != nil {
			return fmt.Errorf("write final batch: %w", err)
		}
		flushed += len(batch)
	}
	log.Printf("[pipeline] flushed %d records", flushed)
	return nil
}
