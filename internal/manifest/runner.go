package manifest

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"log"
	"os/exec"
	"strings"
	"time"
)

// Chunked yields successive chunks of at most size elements from seq. The
// last chunk may be shorter. Used to batch units before fanning them out.
func Chunked[T any](seq iter.Seq[T], size int) iter.Seq[[]T] {
	return func(yield func([]T) bool) {
		var chunk []T
		for v := range seq {
			chunk = append(chunk, v)
			if len(chunk) == size {
				if !yield(chunk) {
					return
				}
				chunk = nil
			}
		}
		if len(chunk) > 0 {
			yield(chunk)
		}
	}
}

// CommandRunner invokes an external collaborator binary (the reconstruction
// or tiling executable). The exit code and stderr are the only observable
// contract; the binary itself is opaque.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// RetryingRunner runs external commands with a timeout and a small fixed
// attempt budget, mirroring the worker-side retry policy for opaque,
// fallible external processes.
type RetryingRunner struct {
	Timeout  time.Duration
	Attempts int
}

// Run executes the command, capturing stderr for diagnostics. Each attempt
// gets its own timeout; the last error is returned when the budget is spent.
func (r RetryingRunner) Run(ctx context.Context, name string, args ...string) error {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		log.Printf("[exec] attempt %d/%d: %s %s", attempt, attempts, name, strings.Join(args, " "))

		runCtx := ctx
		var cancel context.CancelFunc
		if r.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		}

		var stderr bytes.Buffer
		cmd := exec.CommandContext(runCtx, name, args...)
		cmd.Stderr = &stderr
		err := cmd.Run()
		if cancel != nil {
			cancel()
		}

		if err == nil {
			log.Printf("[exec] finished: %s", name)
			return nil
		}
		lastErr = fmt.Errorf("%s: %w (stderr: %s)", name, err, strings.TrimSpace(stderr.String()))
		log.Printf("[exec] attempt %d failed: %v", attempt, lastErr)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

var _ CommandRunner = RetryingRunner{}
