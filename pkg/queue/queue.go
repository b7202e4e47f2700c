package queue

import "context"

// ExtractionJob asks a worker to extract text from an uploaded file.
type ExtractionJob struct {
	FileID string `json:"file_id"`
}

// JobQueue dispatches file extraction jobs to background workers.
type JobQueue interface {
	Publish(ctx context.Context, job ExtractionJob) error
	// Consume delivers jobs to handler until ctx is cancelled. A nil
	// return from handler acknowledges the job; an error requeues it
	// once and then drops it.
	Consume(ctx context.Context, handler func(context.Context, ExtractionJob) error) error
}
