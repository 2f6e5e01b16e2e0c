package queue

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/z-wentao/capflow/pkg/models"
)

// ResultHub fans one results subscription out to (a) one-shot waiters keyed
// by job id and (b) an optional handler that sees every result — the
// coordinator attaches there. A waiter timing out has no effect on the
// worker still processing the job.
type ResultHub struct {
	mu      sync.Mutex
	waiters map[string]chan *models.JobResult
	handler func(*models.JobResult)

	stopped chan struct{}
	once    sync.Once
}

// NewResultHub creates a hub; handler may be nil.
func NewResultHub(handler func(*models.JobResult)) *ResultHub {
	return &ResultHub{
		waiters: make(map[string]chan *models.JobResult),
		handler: handler,
		stopped: make(chan struct{}),
	}
}

// Run consumes the results stream until it closes or Stop is called.
// Call in its own goroutine.
func (h *ResultHub) Run(results <-chan *models.JobResult) {
	for {
		select {
		case <-h.stopped:
			return
		case result, ok := <-results:
			if !ok {
				return
			}
			h.dispatch(result)
		}
	}
}

func (h *ResultHub) dispatch(result *models.JobResult) {
	h.mu.Lock()
	waiter, ok := h.waiters[result.JobID]
	if ok {
		delete(h.waiters, result.JobID)
	}
	h.mu.Unlock()

	if ok {
		select {
		case waiter <- result:
		default:
			// Waiter already timed out and left.
		}
	}

	if h.handler != nil {
		h.handler(result)
	}
}

// WaitForResult blocks until the result for jobID arrives or the timeout
// expires. Timing out only removes the waiter; the in-flight worker is not
// interrupted and may leave orphaned work behind.
func (h *ResultHub) WaitForResult(jobID string, timeout time.Duration) (*models.JobResult, error) {
	ch := make(chan *models.JobResult, 1)

	h.mu.Lock()
	if _, exists := h.waiters[jobID]; exists {
		h.mu.Unlock()
		return nil, fmt.Errorf("already waiting for job %s", jobID)
	}
	h.waiters[jobID] = ch
	h.mu.Unlock()

	select {
	case result := <-ch:
		return result, nil
	case <-time.After(timeout):
		h.mu.Lock()
		delete(h.waiters, jobID)
		h.mu.Unlock()
		log.Printf("wait for job %s timed out after %s", jobID, timeout)
		return nil, fmt.Errorf("timed out waiting for job %s", jobID)
	case <-h.stopped:
		return nil, fmt.Errorf("result hub stopped")
	}
}

// Stop terminates Run and releases all waiters.
func (h *ResultHub) Stop() {
	h.once.Do(func() { close(h.stopped) })
}
