package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// MemoryJobQueue is an in-process JobQueue for tests and single-binary
// deployments without a broker.
type MemoryJobQueue struct {
	mu     sync.Mutex
	jobs   chan memoryDelivery
	closed bool
}

type memoryDelivery struct {
	job         ExtractionJob
	redelivered bool
}

// NewMemoryJobQueue creates a buffered in-memory job queue.
func NewMemoryJobQueue() *MemoryJobQueue {
	return &MemoryJobQueue{jobs: make(chan memoryDelivery, 256)}
}

func (q *MemoryJobQueue) Publish(ctx context.Context, job ExtractionJob) error {
	if strings.TrimSpace(job.FileID) == "" {
		return errors.New("file id required")
	}
	return q.enqueue(ctx, memoryDelivery{job: job})
}

func (q *MemoryJobQueue) enqueue(ctx context.Context, d memoryDelivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("queue closed")
	}
	select {
	case q.jobs <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryJobQueue) Consume(ctx context.Context, handler func(context.Context, ExtractionJob) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-q.jobs:
			if !ok {
				return nil
			}
			if err := handler(ctx, d.job); err != nil {
				// Requeue on first failure only.
				if !d.redelivered {
					_ = q.enqueue(ctx, memoryDelivery{job: d.job, redelivered: true})
				}
				continue
			}
		}
	}
}

// Close stops accepting new jobs and drains consumers once the buffer
// empties.
func (q *MemoryJobQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}
