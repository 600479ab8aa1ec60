package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/joseph-ayodele/redactor/internal/async"
)

type ConsumerConfig struct {
	Config
	Workers     int
	JobTimeout  time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// Consumer pulls jobs off the queue and runs them through a handler. Failed
// retryable jobs are re-published with the attempt counter bumped; the
// original delivery is acked either way.
type Consumer struct {
	cfg       ConsumerConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	handler   async.Handler
	republish func(ctx context.Context, job async.Job) error
	logger    *slog.Logger
}

func NewConsumer(cfg ConsumerConfig, handler async.Handler, republisher async.Queue, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Config = cfg.Config.withDefaults()
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	conn, err := connectWithRetry(cfg.URL, cfg.ConnectTries, cfg.ConnectDelay, logger)
	if err != nil {
		return nil, err
	}
	ch, err := declareQueue(conn, cfg.Queue)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Qos(cfg.Workers, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}
	return &Consumer{
		cfg:       cfg,
		conn:      conn,
		channel:   ch,
		handler:   handler,
		republish: republisher.Enqueue,
		logger:    logger,
	}, nil
}

// Start consumes until ctx is cancelled or the broker closes the channel.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.cfg.Queue,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c.logger.Info("worker started", "worker_id", workerID, "queue", c.cfg.Queue)
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						c.logger.Warn("rabbitmq channel closed", "worker_id", workerID)
						return
					}
					c.handle(ctx, workerID, msg)
				}
			}
		}(i + 1)
	}
	wg.Wait()
	c.logger.Info("consumer stopped", "queue", c.cfg.Queue)
	return nil
}

func (c *Consumer) handle(ctx context.Context, workerID int, msg amqp.Delivery) {
	var job async.Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		c.logger.Error("queue.consume.bad_message", "worker_id", workerID, "message_id", msg.MessageId, "error", err)
		_ = msg.Nack(false, false)
		return
	}
	if job.Attempt <= 0 {
		job.Attempt = 1
	}

	jobCtx, cancel := context.WithTimeout(ctx, c.cfg.JobTimeout)
	err := c.handler(jobCtx, job)
	cancel()

	switch next := c.decide(job, err); {
	case err == nil:
		c.logger.Info("processed batch successfully", "worker_id", workerID, "batch_id", job.BatchID, "attempt", job.Attempt)
	case next == nil:
		c.logger.Error("processing failed, giving up", "worker_id", workerID, "batch_id", job.BatchID, "attempt", job.Attempt, "error", err)
	default:
		delay := async.Backoff(c.cfg.Backoff, job.Attempt)
		c.logger.Warn("processing failed, will retry", "worker_id", workerID, "batch_id", job.BatchID, "attempt", job.Attempt, "retry_in_ms", delay.Milliseconds(), "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// Leave the delivery unacked so the broker redelivers it.
			_ = msg.Nack(false, true)
			return
		}
		if perr := c.republish(ctx, *next); perr != nil {
			c.logger.Error("queue.republish.failed", "batch_id", job.BatchID, "error", perr)
			_ = msg.Nack(false, true)
			return
		}
	}
	if err := msg.Ack(false); err != nil {
		c.logger.Warn("queue.ack.failed", "batch_id", job.BatchID, "error", err)
	}
}

// decide returns the follow-up job for a failed attempt, or nil when the job is
// done: it succeeded, failed permanently, or ran out of attempts.
func (c *Consumer) decide(job async.Job, err error) *async.Job {
	if err == nil || !async.Retryable(err) || job.Attempt >= c.cfg.MaxAttempts {
		return nil
	}
	next := job
	next.Attempt++
	return &next
}

// Close closes the channel and connection.
func (c *Consumer) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
