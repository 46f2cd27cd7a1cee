package featurepipe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink collects batches. A mutex guards it anyway so tests can read
// it while a run is in flight.
type recordingSink struct {
	mu      sync.Mutex
	batches [][]int
	failOn  int // fail the Nth WriteBatch call, 0 = never
	calls   int
}

func (s *recordingSink) WriteBatch(ctx context.Context, batch []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failOn != 0 && s.calls == s.failOn {
		return errors.New("sink exploded")
	}
	s.batches = append(s.batches, append([]int(nil), batch...))
	return nil
}

func (s *recordingSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, b := range s.batches {
		out = append(out, len(b))
	}
	return out
}

func (s *recordingSink) all() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

// perInput emits n records per input, numbered input*n .. input*n+n-1.
func perInput(n int) Extract[int, int] {
	return func(ctx context.Context, input int) ([]int, error) {
		out := make([]int, n)
		for i := range out {
			out[i] = input*n + i
		}
		return out, nil
	}
}

func TestRunBatchesAndFinalFlush(t *testing.T) {
	sink := &recordingSink{}
	// 5 inputs x 2 records with batch size 4: two full batches then a
	// partial flush of 2.
	err := Run(context.Background(), []int{0, 1, 2, 3, 4}, perInput(2), sink, Options{BatchSize: 4, Producers: 3})
	require.NoError(t, err)

	assert.Equal(t, []int{4, 4, 2}, sink.sizes())

	got := sink.all()
	sort.Ints(got)
	want := make([]int, 10)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got, "every record delivered exactly once")
}

func TestRunExactMultipleHasNoEmptyFinalFlush(t *testing.T) {
	sink := &recordingSink{}
	err := Run(context.Background(), []int{0, 1}, perInput(4), sink, Options{BatchSize: 4, Producers: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4}, sink.sizes())
}

func TestRunNoInputs(t *testing.T) {
	sink := &recordingSink{}
	err := Run(context.Background(), nil, perInput(2), sink, Options{BatchSize: 4})
	require.NoError(t, err)
	assert.Empty(t, sink.sizes())
}

func TestRunExtractErrorAbortsRun(t *testing.T) {
	sink := &recordingSink{}
	boom := errors.New("unreadable input")
	extract := func(ctx context.Context, input int) ([]int, error) {
		if input == 7 {
			return nil, boom
		}
		return []int{input}, nil
	}

	inputs := make([]int, 20)
	for i := range inputs {
		inputs[i] = i
	}
	err := Run(context.Background(), inputs, extract, sink, Options{BatchSize: 3, Producers: 4})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "extract 7")
}

func TestRunSinkErrorAbortsRun(t *testing.T) {
	sink := &recordingSink{failOn: 2}
	inputs := make([]int, 30)
	for i := range inputs {
		inputs[i] = i
	}

	err := Run(context.Background(), inputs, perInput(1), sink, Options{BatchSize: 5, Producers: 4})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write batch")
	assert.Equal(t, []int{5}, sink.sizes(), "only the batch before the failure landed")
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &recordingSink{}
	started := false
	extract := func(ctx context.Context, input int) ([]int, error) {
		started = true
		return []int{input}, nil
	}
	err := Run(ctx, []int{1, 2, 3}, extract, sink, Options{BatchSize: 2})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, started, "no extraction on a dead context")
}

// gatedSink blocks every WriteBatch until release is closed, pausing the
// consumer so backpressure propagates to the producers.
type gatedSink struct {
	recordingSink
	release chan struct{}
}

func (s *gatedSink) WriteBatch(ctx context.Context, batch []int) error {
	<-s.release
	return s.recordingSink.WriteBatch(ctx, batch)
}

func TestRunBackpressureBoundsQueue(t *testing.T) {
	const batchSize = 2
	release := make(chan struct{})
	sink := &gatedSink{release: release}

	inputs := make([]int, 40)
	for i := range inputs {
		inputs[i] = i
	}
	var extracted atomic.Int64
	extract := func(ctx context.Context, input int) ([]int, error) {
		extracted.Add(1)
		return []int{input}, nil
	}

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), inputs, extract, sink, Options{BatchSize: batchSize, Producers: 1})
	}()

	// With the sink paused the producer can get at most this far: one batch
	// held by the consumer, a full channel of 2x batch size, and one send in
	// flight. Give it ample time to overshoot if it were going to.
	const stallCeiling = batchSize + 2*batchSize + 1
	time.Sleep(200 * time.Millisecond)
	stalled := extracted.Load()
	assert.LessOrEqual(t, stalled, int64(stallCeiling), "queue admitted more records than its capacity allows")
	assert.Less(t, stalled, int64(len(inputs)), "producer drained all inputs despite a paused sink")

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, sink.all(), len(inputs), "every record delivered once the sink resumed")
}

func TestRunManyProducersConserveRecords(t *testing.T) {
	sink := &recordingSink{}
	inputs := make([]int, 50)
	for i := range inputs {
		inputs[i] = i
	}
	extract := func(ctx context.Context, input int) ([]int, error) {
		time.Sleep(time.Duration(input%3) * time.Millisecond)
		return []int{input * 2, input*2 + 1}, nil
	}

	err := Run(context.Background(), inputs, extract, sink, Options{BatchSize: 7, Producers: 8})
	require.NoError(t, err)

	got := sink.all()
	require.Len(t, got, 100)
	seen := map[int]bool{}
	for _, v := range got {
		if seen[v] {
			t.Fatalf("record %d delivered twice", v)
		}
		seen[v] = true
	}

	sizes := sink.sizes()
	for i, n := range sizes[:len(sizes)-1] {
		assert.Equal(t, 7, n, fmt.Sprintf("batch %d must be full", i))
	}
}
