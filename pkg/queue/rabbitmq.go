package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/z-wentao/capflow/pkg/models"
)

// RabbitMQQueue implements Queue over RabbitMQ with separate connections for
// publishing and consuming. Messages are auto-acked on delivery: a crashed
// worker loses the message, which is the declared at-most-once behavior.
type RabbitMQQueue struct {
	url          string
	jobsQueue    string
	resultsQueue string
	prefetch     int

	closed chan struct{}
	once   sync.Once

	publishConn    *amqp.Connection
	publishChannel *amqp.Channel
	publishMutex   sync.Mutex

	consumeConn    *amqp.Connection
	consumeChannel *amqp.Channel
	consumeMutex   sync.Mutex
}

// NewRabbitMQQueue connects to the bus and declares both durable queues.
func NewRabbitMQQueue(url, jobsQueue, resultsQueue string, prefetch int) (*RabbitMQQueue, error) {
	if jobsQueue == "" {
		jobsQueue = DefaultJobsQueue
	}
	if resultsQueue == "" {
		resultsQueue = DefaultResultsQueue
	}
	if prefetch <= 0 {
		prefetch = 2
	}

	rq := &RabbitMQQueue{
		url:          url,
		jobsQueue:    jobsQueue,
		resultsQueue: resultsQueue,
		prefetch:     prefetch,
		closed:       make(chan struct{}),
	}

	if err := rq.setupPublisher(); err != nil {
		return nil, fmt.Errorf("setup publisher: %w", err)
	}

	log.Printf("✓ RabbitMQ queue ready (jobs=%s results=%s)", jobsQueue, resultsQueue)
	return rq, nil
}

func (rq *RabbitMQQueue) setupPublisher() error {
	conn, err := amqp.Dial(rq.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	for _, name := range []string{rq.jobsQueue, rq.resultsQueue} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
	}

	rq.publishConn = conn
	rq.publishChannel = ch
	return nil
}

// setupConsumer opens the consuming connection lazily; only one of the two
// binaries consumes each channel.
func (rq *RabbitMQQueue) setupConsumer(queueName string) (<-chan amqp.Delivery, error) {
	rq.consumeMutex.Lock()
	defer rq.consumeMutex.Unlock()

	if rq.consumeConn == nil {
		conn, err := amqp.Dial(rq.url)
		if err != nil {
			return nil, fmt.Errorf("dial: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open channel: %w", err)
		}
		// Prefetch bounds how many deliveries sit with the worker pool.
		if err := ch.Qos(rq.prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("set qos: %w", err)
		}
		rq.consumeConn = conn
		rq.consumeChannel = ch
	}

	deliveries, err := rq.consumeChannel.Consume(
		queueName,
		"",    // consumer tag, generated
		true,  // autoAck: at-most-once
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queueName, err)
	}
	return deliveries, nil
}

// PublishJob serializes a job request onto the jobs channel.
func (rq *RabbitMQQueue) PublishJob(ctx context.Context, job *models.JobRequest) error {
	if job.JobID == "" {
		return fmt.Errorf("publish job: missing job id")
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return rq.publish(ctx, rq.jobsQueue, body)
}

// PublishResult serializes a job result onto the results channel.
func (rq *RabbitMQQueue) PublishResult(ctx context.Context, result *models.JobResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return rq.publish(ctx, rq.resultsQueue, body)
}

// publish sends on the default exchange. The channel is not concurrency-safe,
// hence the mutex.
func (rq *RabbitMQQueue) publish(ctx context.Context, routingKey string, body []byte) error {
	rq.publishMutex.Lock()
	defer rq.publishMutex.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := rq.publishChannel.PublishWithContext(
		ctx,
		"",
		routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", routingKey, err)
	}
	return nil
}

// ConsumeJobs subscribes to the jobs channel and returns a stream of decoded
// requests. Malformed messages are logged and dropped.
func (rq *RabbitMQQueue) ConsumeJobs() (<-chan *models.JobRequest, error) {
	deliveries, err := rq.setupConsumer(rq.jobsQueue)
	if err != nil {
		return nil, err
	}

	out := make(chan *models.JobRequest)
	go func() {
		defer close(out)
		for {
			select {
			case <-rq.closed:
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var job models.JobRequest
				if err := json.Unmarshal(d.Body, &job); err != nil {
					log.Printf("drop malformed job message: %v", err)
					continue
				}
				out <- &job
			}
		}
	}()
	return out, nil
}

// ConsumeResults subscribes to the results channel.
func (rq *RabbitMQQueue) ConsumeResults() (<-chan *models.JobResult, error) {
	deliveries, err := rq.setupConsumer(rq.resultsQueue)
	if err != nil {
		return nil, err
	}

	out := make(chan *models.JobResult)
	go func() {
		defer close(out)
		for {
			select {
			case <-rq.closed:
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var result models.JobResult
				if err := json.Unmarshal(d.Body, &result); err != nil {
					log.Printf("drop malformed result message: %v", err)
					continue
				}
				out <- &result
			}
		}
	}()
	return out, nil
}

// Close tears down both connections.
func (rq *RabbitMQQueue) Close() error {
	rq.once.Do(func() {
		close(rq.closed)

		rq.consumeMutex.Lock()
		if rq.consumeChannel != nil {
			rq.consumeChannel.Close()
		}
		if rq.consumeConn != nil {
			rq.consumeConn.Close()
		}
		rq.consumeMutex.Unlock()

		rq.publishMutex.Lock()
		if rq.publishChannel != nil {
			rq.publishChannel.Close()
		}
		if rq.publishConn != nil {
			rq.publishConn.Close()
		}
		rq.publishMutex.Unlock()

		log.Println("✓ RabbitMQ queue closed")
	})
	return nil
}
