package syncq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLedger records submissions and tracks how many are in flight at
// once. fail controls how many leading attempts error out.
type fakeLedger struct {
	mu          sync.Mutex
	submissions []int
	fail        int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	done chan struct{} // closed after doneAfter submissions
	left atomic.Int32
}

func newFakeLedger(failFirst, doneAfter int) *fakeLedger {
	f := &fakeLedger{fail: failFirst, done: make(chan struct{})}
	f.left.Store(int32(doneAfter))
	return f
}

func (f *fakeLedger) SubmitUpdate(ctx context.Context, address string, target int) (string, error) {
	cur := f.inFlight.Add(1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	// Hold the submission open briefly so overlap would be observable.
	time.Sleep(5 * time.Millisecond)
	f.inFlight.Add(-1)

	f.mu.Lock()
	shouldFail := f.fail > 0
	if shouldFail {
		f.fail--
	} else {
		f.submissions = append(f.submissions, target)
	}
	f.mu.Unlock()

	if f.left.Add(-1) == 0 {
		close(f.done)
	}
	if shouldFail {
		return "", errors.New("rpc unavailable")
	}
	return "0xtx", nil
}

func (f *fakeLedger) GetScore(ctx context.Context, address string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submissions) == 0 {
		return 0, nil
	}
	return f.submissions[len(f.submissions)-1], nil
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.PullTimeout = 20 * time.Millisecond
	cfg.SubmitTimeout = time.Second
	return cfg
}

func TestCommitUpdatesCacheAndHook(t *testing.T) {
	fl := newFakeLedger(0, 1)

	var hookAddr string
	var hookTarget int
	var hookMu sync.Mutex

	q, err := New(testLogger(), fl,
		WithConfig(fastConfig()),
		WithCommitHook(func(_ context.Context, addr string, target int, txID string) {
			hookMu.Lock()
			hookAddr, hookTarget = addr, target
			hookMu.Unlock()
			if txID == "" {
				t.Errorf("empty tx id in commit hook")
			}
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	if err := q.Enqueue("0xabc", 52); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-fl.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("submission never happened")
	}

	waitFor(t, func() bool {
		hookMu.Lock()
		defer hookMu.Unlock()
		return hookAddr == "0xabc" && hookTarget == 52
	})
	if v, ok := q.LastCommitted("0xabc"); !ok || v != 52 {
		t.Fatalf("last committed = (%d, %v), want (52, true)", v, ok)
	}
}

func TestRetryThenCommit(t *testing.T) {
	// Two failures, then success: 3 submissions total.
	fl := newFakeLedger(2, 3)

	q, err := New(testLogger(), fl, WithConfig(fastConfig()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	if err := q.Enqueue("0xabc", 54); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-fl.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("job was not retried to completion")
	}

	waitFor(t, func() bool {
		v, ok := q.LastCommitted("0xabc")
		return ok && v == 54
	})
}

func TestAbandonAfterMaxRetries(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 2
	// Always fails: initial attempt + 2 retries = 3 submissions.
	fl := newFakeLedger(1000, 3)

	q, err := New(testLogger(), fl, WithConfig(cfg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	if err := q.Enqueue("0xabc", 56); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-fl.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected 3 attempts before abandonment")
	}

	// Give a wrongly-scheduled fourth attempt a chance to fire.
	time.Sleep(100 * time.Millisecond)
	if _, ok := q.LastCommitted("0xabc"); ok {
		t.Fatalf("abandoned job reported committed")
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if len(fl.submissions) != 0 {
		t.Fatalf("abandoned job recorded a submission: %v", fl.submissions)
	}
}

func TestAtMostOneInFlight(t *testing.T) {
	const jobs = 8
	fl := newFakeLedger(0, jobs)

	q, err := New(testLogger(), fl, WithConfig(fastConfig()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Enqueue("0xaddr"+string(rune('a'+i)), 50+2*i)
		}(i)
	}
	wg.Wait()

	select {
	case <-fl.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("jobs did not drain")
	}

	if max := fl.maxInFlight.Load(); max > 1 {
		t.Fatalf("observed %d concurrent submissions; the global lock must serialize them", max)
	}
}

func TestEnqueueDedup(t *testing.T) {
	fl := newFakeLedger(0, 1)
	q, err := New(testLogger(), fl, WithConfig(fastConfig()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Consumer not running: both enqueues stay queued.
	if err := q.Enqueue("0xabc", 52); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue("0xabc", 52); err != nil {
		t.Fatalf("duplicate Enqueue: %v", err)
	}
	if got := q.Depth(); got != 1 {
		t.Fatalf("depth = %d, want 1 (same target deduped)", got)
	}

	// A different target is a new job.
	if err := q.Enqueue("0xabc", 54); err != nil {
		t.Fatalf("Enqueue new target: %v", err)
	}
	if got := q.Depth(); got != 2 {
		t.Fatalf("depth = %d, want 2", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	fl := newFakeLedger(0, 1)
	q, err := New(testLogger(), fl, WithConfig(fastConfig()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("consumer did not observe shutdown")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}
