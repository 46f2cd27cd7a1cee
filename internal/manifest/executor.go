package manifest

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc/pool"
)

// TaskError is a per-item failure inside a worker's pool. It is logged and
// isolated; sibling items keep running. The next full pipeline run, with its
// destination-existence filter, is the retry mechanism.
type TaskError struct {
	Destination string
	Err         error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("work item %s: %v", e.Destination, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// TaskFunc processes one work item end to end (download, transform, upload).
type TaskFunc func(ctx context.Context, item Item) error

// ExecuteOptions tunes a worker's execution of its manifest slice.
type ExecuteOptions struct {
	// Concurrency bounds the number of in-flight items. Items are I/O bound
	// (downloads and uploads dominate); zero means DefaultConcurrency.
	Concurrency int

	// Attempts is the total attempt budget per item for transient failures.
	// Zero means DefaultAttempts. Anything beyond this budget is left to the
	// next full run.
	Attempts int

	// RetryDelay is the constant delay between attempts. Zero means
	// DefaultRetryDelay.
	RetryDelay time.Duration
}

const (
	DefaultConcurrency = 16
	DefaultAttempts    = 2
	DefaultRetryDelay  = 5 * time.Second
)

// Result counts the outcome of one worker's slice.
type Result struct {
	Produced int
	Failed   int
}

// Execute runs the given items on a bounded pool. Ordering between items is
// neither guaranteed nor required: convergence comes from the destination
// existence check on the next run, not from execution order. A failing item
// is logged and does not abort its siblings; only context cancellation stops
// the run early.
func Execute(ctx context.Context, items []Item, fn TaskFunc, opts ExecuteOptions) Result {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}

	var produced, failed atomic.Int64

	p := pool.New().WithContext(ctx).WithMaxGoroutines(opts.Concurrency)
	for _, item := range items {
		p.Go(func(ctx context.Context) error {
			if ctx.Err() != nil {
				return ctx.Err() // cancelled before this item started
			}
			policy := backoff.WithContext(
				backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.RetryDelay), uint64(opts.Attempts-1)),
				ctx,
			)
			attempt := 0
			err := backoff.Retry(func() error {
				attempt++
				if err := fn(ctx, item); err != nil {
					log.Printf("[manifest] attempt %d/%d failed for %s: %v", attempt, opts.Attempts, item.Destination, err)
					return err
				}
				return nil
			}, policy)
			if err != nil {
				failed.Add(1)
				taskErr := &TaskError{Destination: item.Destination, Err: err}
				log.Printf("[manifest] giving up: %v", taskErr)
				return nil // isolated: siblings keep running
			}
			produced.Add(1)
			return nil
		})
	}
	// Pool tasks never return errors; Wait only surfaces context cancellation.
	if err := p.Wait(); err != nil {
		log.Printf("[manifest] execution interrupted: %v", err)
	}

	return Result{Produced: int(produced.Load()), Failed: int(failed.Load())}
}
