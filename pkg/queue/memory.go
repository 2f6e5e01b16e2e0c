package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/z-wentao/capflow/pkg/models"
)

// MemoryQueue is the channel-backed Queue used by tests and single-process
// development runs. Semantics match the bus: buffered, at-most-once.
type MemoryQueue struct {
	jobs    chan *models.JobRequest
	results chan *models.JobResult
	once    sync.Once
}

// NewMemoryQueue creates an in-memory queue with the given buffer size.
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &MemoryQueue{
		jobs:    make(chan *models.JobRequest, bufferSize),
		results: make(chan *models.JobResult, bufferSize),
	}
}

// PublishJob places a job on the jobs channel.
func (mq *MemoryQueue) PublishJob(ctx context.Context, job *models.JobRequest) error {
	if job.JobID == "" {
		return fmt.Errorf("publish job: missing job id")
	}
	select {
	case mq.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("jobs queue full")
	}
}

// PublishResult places a result on the results channel.
func (mq *MemoryQueue) PublishResult(ctx context.Context, result *models.JobResult) error {
	select {
	case mq.results <- result:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("results queue full")
	}
}

// ConsumeJobs returns the shared jobs stream.
func (mq *MemoryQueue) ConsumeJobs() (<-chan *models.JobRequest, error) {
	return mq.jobs, nil
}

// ConsumeResults returns the results stream.
func (mq *MemoryQueue) ConsumeResults() (<-chan *models.JobResult, error) {
	return mq.results, nil
}

// Close closes both channels.
func (mq *MemoryQueue) Close() error {
	mq.once.Do(func() {
		close(mq.jobs)
		close(mq.results)
	})
	return nil
}
