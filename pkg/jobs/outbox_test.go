package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedQueue(t *testing.T, handler Handler, cfg QueueConfig) *Queue {
	queue := NewQueue("test", handler, cfg)
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)
	return queue
}

func TestOutboxDrainDispatchesAfterCommit(t *testing.T) {
	received := make(chan Job, 4)
	queue := startedQueue(t, func(_ context.Context, job Job) error {
		received <- job
		return nil
	}, QueueConfig{Workers: 1})

	outbox := NewOutbox()
	outbox.Append("email", "payload-1")
	outbox.Append("email", "payload-2")
	require.Equal(t, 2, outbox.Len())

	// nothing reaches the queue until the caller drains
	select {
	case <-received:
		t.Fatal("job dispatched before drain")
	case <-time.After(50 * time.Millisecond):
	}

	outbox.Drain(queue, nil)
	assert.Equal(t, 0, outbox.Len())

	for i := 0; i < 2; i++ {
		select {
		case job := <-received:
			assert.Equal(t, "email", job.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("expected drained job")
		}
	}
}

func TestOutboxDiscardDropsStagedJobs(t *testing.T) {
	outbox := NewOutbox()
	outbox.Append("email", "payload")
	outbox.Discard()
	assert.Equal(t, 0, outbox.Len())
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var attempts int32
	done := make(chan struct{})
	queue := startedQueue(t, func(_ context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 5, RetryDelay: 10 * time.Millisecond})

	require.NoError(t, queue.Enqueue(Job{ID: "job-1", Type: "email"}))

	select {
	case <-done:
		assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded after retries")
	}
}

func TestQueueEnqueueRequiresStart(t *testing.T) {
	queue := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	err := queue.Enqueue(Job{ID: "job-1"})
	require.Error(t, err)
}
