package match

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/logger"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/natsutil"
)

const (
	// MaxAttempts before a request goes to the dead letter subject. Permanent
	// failures go there after the first attempt.
	MaxAttempts = 3
	// DLQSuffix is appended to the request subject for dead letters.
	DLQSuffix = ".dlq"
)

// Message is a match request on the wire. Producers send a plain
// domain.MatchRequest; Attempt is set on redelivery.
type Message struct {
	domain.MatchRequest
	Attempt int `json:"attempt,omitempty"`
}

// DeadLetter is published when a request exhausted its attempts.
type DeadLetter struct {
	Request  domain.MatchRequest `json:"request"`
	Error    string              `json:"error"`
	Attempts int                 `json:"attempts"`
}

type runner interface {
	Run(ctx context.Context, req domain.MatchRequest) (Outcome, error)
}

// Consumer feeds match requests from a NATS queue group to a pool of workers.
type Consumer struct {
	nc      *nats.Conn
	svc     runner
	subject string
	queue   string
	workers int
	log     *zap.Logger

	jobs chan Message
	stop chan struct{}
	once sync.Once
	sub  *nats.Subscription
	wg   sync.WaitGroup
}

// NewConsumer creates a Consumer with workers concurrent runs.
func NewConsumer(nc *nats.Conn, svc runner, subject, queue string, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		nc:      nc,
		svc:     svc,
		subject: subject,
		queue:   queue,
		workers: workers,
		log:     logger.OrNop(log),
	}
}

// Start subscribes and starts the workers. Runs use ctx as their parent.
func (c *Consumer) Start(ctx context.Context) error {
	c.jobs = make(chan Message, c.workers)
	c.stop = make(chan struct{})
	sub, err := natsutil.QueueSubscribe(c.nc, c.subject, c.queue, c.log, func(_ context.Context, m Message) {
		select {
		case c.jobs <- m:
		case <-c.stop:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("match: subscribe %s: %w", c.subject, err)
	}
	c.sub = sub
	for range c.workers {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case m := <-c.jobs:
					c.process(ctx, m)
				case <-c.stop:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	c.log.Info("match consumer started",
		zap.String("subject", c.subject),
		zap.String("queue", c.queue),
		zap.Int("workers", c.workers))
	return nil
}

// Stop unsubscribes and waits for in-flight runs. Queued requests that no
// worker picked up are dropped.
func (c *Consumer) Stop() {
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			c.log.Warn("match consumer unsubscribe", zap.Error(err))
		}
	}
	c.once.Do(func() {
		if c.stop != nil {
			close(c.stop)
		}
	})
	c.wg.Wait()
}

func (c *Consumer) process(ctx context.Context, m Message) {
	if ctx.Err() != nil {
		return
	}
	_, err := c.svc.Run(ctx, m.MatchRequest)
	if err == nil || ctx.Err() != nil {
		return
	}

	m.Attempt++
	log := c.log.With(zap.String(logger.FieldUser, m.User), zap.Int("attempt", m.Attempt))
	if !retryable(err) || m.Attempt >= MaxAttempts {
		c.deadLetter(ctx, log, m, err)
		return
	}
	if perr := natsutil.Publish(ctx, c.nc, c.subject, m); perr != nil {
		log.Error("match retry publish failed", zap.Error(perr))
	}
}

func (c *Consumer) deadLetter(ctx context.Context, log *zap.Logger, m Message, cause error) {
	dl := DeadLetter{Request: m.MatchRequest, Error: cause.Error(), Attempts: m.Attempt}
	if err := natsutil.Publish(ctx, c.nc, c.subject+DLQSuffix, dl); err != nil {
		log.Error("dead letter publish failed", zap.Error(err))
		return
	}
	log.Warn("match request dead-lettered", zap.Error(cause))
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrUnroutableCategory),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrEmptyContent):
		return false
	}
	return true
}
