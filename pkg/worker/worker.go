package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/z-wentao/capflow/pkg/models"
	"github.com/z-wentao/capflow/pkg/queue"
)

// Handler processes one job of a registered kind. It must always return a
// well-formed result, completed or failed, never nil.
type Handler func(ctx context.Context, job *models.JobRequest) *models.JobResult

// Pool is the consumer half of the job queue: a fixed number of workers
// share one subscription, dispatch by job kind and republish each handler's
// result. A job is handled by exactly one worker; there is no work stealing
// and no priority scheduling.
type Pool struct {
	queue    queue.Queue
	size     int
	handlers map[models.JobKind]Handler

	jobTimeout time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewPool creates a pool of the given size (default 2).
func NewPool(q queue.Queue, size int) *Pool {
	if size <= 0 {
		size = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:      q,
		size:       size,
		handlers:   make(map[models.JobKind]Handler),
		jobTimeout: 30 * time.Minute,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Register installs the handler for a job kind. Must be called before Start.
func (p *Pool) Register(kind models.JobKind, h Handler) {
	p.handlers[kind] = h
}

// Start subscribes to the jobs channel and launches the workers.
func (p *Pool) Start() error {
	jobs, err := p.queue.ConsumeJobs()
	if err != nil {
		return fmt.Errorf("consume jobs: %w", err)
	}

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(i, jobs)
	}
	log.Printf("✓ worker pool started (%d workers)", p.size)
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	log.Println("stopping worker pool...")
	p.cancel()
	p.wg.Wait()
	log.Println("✓ worker pool stopped")
}

func (p *Pool) run(id int, jobs <-chan *models.JobRequest) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			p.process(id, job)
		}
	}
}

func (p *Pool) process(workerID int, job *models.JobRequest) {
	handler, ok := p.handlers[job.Kind]
	if !ok {
		// No requeue on the at-most-once bus; the message is gone.
		log.Printf("worker %d: no handler for job kind %q, dropping job %s", workerID, job.Kind, job.JobID)
		return
	}

	log.Printf("worker %d: processing %s job %s (session %s)", workerID, job.Kind, job.JobID, job.SessionID)
	started := time.Now()

	ctx, cancel := context.WithTimeout(p.ctx, p.jobTimeout)
	result := handler(ctx, job)
	cancel()

	log.Printf("worker %d: job %s finished with %s in %.1fs", workerID, job.JobID, result.Status, time.Since(started).Seconds())

	if err := p.queue.PublishResult(context.Background(), result); err != nil {
		// Fire-and-forget: the coordinator will simply never hear about
		// this job.
		log.Printf("worker %d: publish result for job %s failed: %v", workerID, job.JobID, err)
	}
}
