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

type Config struct {
	URL          string
	Queue        string
	ConnectTries int
	ConnectDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTries <= 0 {
		c.ConnectTries = 10
	}
	if c.ConnectDelay <= 0 {
		c.ConnectDelay = 5 * time.Second
	}
	return c
}

// Publisher implements async.Queue on a durable RabbitMQ queue.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	conn, err := connectWithRetry(cfg.URL, cfg.ConnectTries, cfg.ConnectDelay, logger)
	if err != nil {
		return nil, err
	}
	ch, err := declareQueue(conn, cfg.Queue)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Info("rabbitmq publisher ready", "queue", cfg.Queue)
	return &Publisher{conn: conn, channel: ch, queue: cfg.Queue, logger: logger}, nil
}

func (p *Publisher) Enqueue(ctx context.Context, job async.Job) error {
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return async.ErrQueueClosed
	}
	err = p.channel.PublishWithContext(ctx,
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     job.BatchID.String(),
			CorrelationId: job.TraceID,
			Timestamp:     job.SubmittedAt,
			Body:          body,
		},
	)
	if err != nil {
		p.logger.Error("queue.publish.failed", "batch_id", job.BatchID, "error", err)
		return fmt.Errorf("failed to publish job: %w", err)
	}
	p.logger.Info("queue.publish.ok", "batch_id", job.BatchID, "attempt", job.Attempt)
	return nil
}

// Shutdown closes the channel and connection.
func (p *Publisher) Shutdown(_ context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.logger.Warn("rabbitmq close failed", "error", err)
		}
	}
}
