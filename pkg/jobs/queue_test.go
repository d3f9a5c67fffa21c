package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestQueueProcessesJobs(t *testing.T) {
	var processed int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Job{ID: "job", Type: "t"}))
	}
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&processed) == 5 })
}

func TestQueueRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("boom")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1", Type: "t"}))
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&attempts) == 3 })
}

func TestQueueExhaustionHook(t *testing.T) {
	var mu sync.Mutex
	var exhausted []Job
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		return errors.New("always fails")
	}, QueueConfig{
		Workers:    1,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		OnExhausted: func(ctx context.Context, job Job, err error) {
			mu.Lock()
			exhausted = append(exhausted, job)
			mu.Unlock()
		},
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1", Type: "t"}))
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(exhausted) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "job-1", exhausted[0].ID)
	require.Equal(t, 3, exhausted[0].Attempt)
}

func TestQueueJobTimeout(t *testing.T) {
	var sawDeadline int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		select {
		case <-ctx.Done():
			atomic.StoreInt32(&sawDeadline, 1)
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}, QueueConfig{Workers: 1, MaxRetries: 1, RetryDelay: time.Millisecond, JobTimeout: 10 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "slow", Type: "t"}))
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&sawDeadline) == 1 })
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("test", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	require.Error(t, q.Enqueue(Job{ID: "early"}))
}
