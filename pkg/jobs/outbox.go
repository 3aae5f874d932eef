package jobs

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outbox collects pending side effects appended during a transactional unit
// of work. Nothing is dispatched until Drain runs, which the caller invokes
// only after a successful commit; Discard drops everything on rollback.
// This preserves the after-commit-only delivery guarantee without relying
// on database-level hooks.
type Outbox struct {
	mu      sync.Mutex
	pending []Job
}

// NewOutbox returns an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// Append stages a job for post-commit dispatch.
func (o *Outbox) Append(jobType string, payload interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Payload: payload,
	})
}

// Len reports the number of staged jobs.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Drain hands every staged job to the queue and empties the outbox.
// Enqueue failures are logged and the affected job is dropped; the commit
// already happened, so there is nothing to roll back.
func (o *Outbox) Drain(queue *Queue, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o.mu.Lock()
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()

	for _, job := range pending {
		if err := queue.Enqueue(job); err != nil {
			logger.Error("failed to dispatch outbox job",
				zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Error(err))
		}
	}
}

// Discard drops staged jobs, used when the transaction rolled back.
func (o *Outbox) Discard() {
	o.mu.Lock()
	o.pending = nil
	o.mu.Unlock()
}
