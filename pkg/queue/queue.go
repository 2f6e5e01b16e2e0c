// Package queue is the message-bus transport for pipeline jobs. Delivery is
// at-most-once and fire-and-forget: a worker that crashes after consuming a
// job produces no result, and the bus performs no redelivery. Cross-stage
// ordering is the coordinator's responsibility, never the queue's.
package queue

import (
	"context"

	"github.com/z-wentao/capflow/pkg/models"
)

// Default channel names on the bus.
const (
	DefaultJobsQueue    = "video_jobs"
	DefaultResultsQueue = "video_results"
)

// Queue abstracts the bus so tests can run against the in-memory
// implementation.
type Queue interface {
	// PublishJob serializes a job request onto the jobs channel and
	// returns immediately.
	PublishJob(ctx context.Context, job *models.JobRequest) error

	// PublishResult serializes a job result onto the results channel.
	PublishResult(ctx context.Context, result *models.JobResult) error

	// ConsumeJobs returns the shared delivery stream of the jobs channel.
	// Every pool worker reads from the same stream; a message reaches
	// exactly one of them.
	ConsumeJobs() (<-chan *models.JobRequest, error)

	// ConsumeResults returns the delivery stream of the results channel.
	ConsumeResults() (<-chan *models.JobResult, error)

	// Close tears down the bus connections.
	Close() error
}
