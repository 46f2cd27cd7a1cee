package manifest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func testItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{
			Worker:      0,
			Payload:     []byte(fmt.Sprintf(`{"i":%d}`, i)),
			Destination: fmt.Sprintf("file:///out/%d.las", i),
		}
	}
	return items
}

func TestExecuteRunsAllItems(t *testing.T) {
	items := testItems(9)

	var mu sync.Mutex
	seen := map[string]bool{}
	res := Execute(context.Background(), items, func(_ context.Context, it Item) error {
		mu.Lock()
		seen[it.Destination] = true
		mu.Unlock()
		return nil
	}, ExecuteOptions{Concurrency: 3, RetryDelay: time.Millisecond})

	if res.Produced != 9 || res.Failed != 0 {
		t.Errorf("result: %+v", res)
	}
	if len(seen) != 9 {
		t.Errorf("expected 9 distinct items, got %d", len(seen))
	}
}

func TestExecuteIsolatesFailures(t *testing.T) {
	items := testItems(6)
	bad := items[2].Destination

	res := Execute(context.Background(), items, func(_ context.Context, it Item) error {
		if it.Destination == bad {
			return errors.New("corrupt input")
		}
		return nil
	}, ExecuteOptions{Concurrency: 2, Attempts: 2, RetryDelay: time.Millisecond})

	if res.Failed != 1 {
		t.Errorf("expected 1 failed item, got %d", res.Failed)
	}
	if res.Produced != 5 {
		t.Errorf("one bad item must not abort siblings: produced %d, want 5", res.Produced)
	}
}

func TestExecuteRetriesWithinBudget(t *testing.T) {
	items := testItems(1)

	var mu sync.Mutex
	attempts := 0
	res := Execute(context.Background(), items, func(_ context.Context, _ Item) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("transient network error")
		}
		return nil
	}, ExecuteOptions{Attempts: 2, RetryDelay: time.Millisecond})

	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if res.Produced != 1 || res.Failed != 0 {
		t.Errorf("result: %+v", res)
	}
}

func TestExecuteRespectsAttemptBudget(t *testing.T) {
	items := testItems(1)

	attempts := 0
	res := Execute(context.Background(), items, func(_ context.Context, _ Item) error {
		attempts++
		return errors.New("still broken")
	}, ExecuteOptions{Attempts: 3, RetryDelay: time.Millisecond})

	if attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", attempts)
	}
	if res.Failed != 1 {
		t.Errorf("result: %+v", res)
	}
}

func TestExecuteStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	items := testItems(50)

	var mu sync.Mutex
	started := 0
	Execute(ctx, items, func(_ context.Context, _ Item) error {
		mu.Lock()
		started++
		if started == 3 {
			cancel()
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return nil
	}, ExecuteOptions{Concurrency: 1, RetryDelay: time.Millisecond})

	mu.Lock()
	defer mu.Unlock()
	if started >= 50 {
		t.Errorf("cancellation should stop scheduling new items, started %d", started)
	}
}
