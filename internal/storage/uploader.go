package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// DefaultUploadQueueSize bounds the walker-to-uploader queue when the caller
// does not override it.
const DefaultUploadQueueSize = 128

type uploadJob struct {
	localPath string
	// relPath is the slash-separated path relative to the walked root.
	relPath string
}

// uploadTree walks a local directory and feeds every regular file through a
// bounded queue to a fixed pool of consumer goroutines, each calling upload
// for one file at a time. The producer closes the queue when the walk is
// exhausted, so every consumer observes exactly one termination signal, and
// the call blocks until all consumers have finished. The first error (from
// the walk or any upload) cancels the run and is returned.
func uploadTree(ctx context.Context, root string, opts FolderUploadOptions, upload func(ctx context.Context, localPath, relPath string) error) error {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultUploadQueueSize
	}
	consumers := opts.Consumers
	if consumers <= 0 {
		consumers = runtime.GOMAXPROCS(0)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan uploadJob, queueSize)

	var (
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					continue // drain without uploading once cancelled
				}
				if err := upload(ctx, job.localPath, job.relPath); err != nil {
					fail(err)
				}
			}
		}()
	}

	producer := func() error {
		if opts.Recursive {
			return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
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
				select {
				case jobs <- uploadJob{localPath: p, relPath: filepath.ToSlash(rel)}:
				case <-ctx.Done():
					return ctx.Err()
				}
				return nil
			})
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			return err
		}
		for _, d := range entries {
			if d.IsDir() {
				continue
			}
			select {
			case jobs <- uploadJob{localPath: filepath.Join(root, d.Name()), relPath: d.Name()}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	if err := producer(); err != nil {
		fail(err)
	}
	close(jobs)
	wg.Wait()

	return firstErr
}
