// Package notify publishes pipeline progress events. Delivery is best
// effort: a failed publish is logged and never fails the caller.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/IsmailZhaf/cari-fit-backend/pkg/logger"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/natsutil"
)

// Type is the severity of an event.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeError   Type = "error"
)

// Event is one notification.
type Event struct {
	Type    Type      `json:"type"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	User    string    `json:"user,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

func stamp(e Event) Event {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return e
}

// NATSPublisher publishes events as JSON on one subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	log     *zap.Logger
}

// NewNATSPublisher creates a NATSPublisher.
func NewNATSPublisher(nc *nats.Conn, subject string, log *zap.Logger) *NATSPublisher {
	return &NATSPublisher{nc: nc, subject: subject, log: logger.OrNop(log)}
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) {
	e = stamp(e)
	if err := natsutil.Publish(ctx, p.nc, p.subject, e); err != nil {
		p.log.Warn("notification publish failed",
			zap.String("subject", p.subject),
			zap.String("title", e.Title),
			zap.Error(err))
	}
}

// redisPublisher is the part of a go-redis client RedisPublisher uses.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher publishes events as JSON on one Redis pub/sub channel.
type RedisPublisher struct {
	rdb     redisPublisher
	channel string
	log     *zap.Logger
}

// NewRedisPublisher creates a RedisPublisher.
func NewRedisPublisher(rdb redisPublisher, channel string, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel, log: logger.OrNop(log)}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) {
	e = stamp(e)
	data, err := json.Marshal(e)
	if err != nil {
		p.log.Warn("notification encode failed", zap.Error(err))
		return
	}
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		p.log.Warn("notification publish failed",
			zap.String("channel", p.channel),
			zap.String("title", e.Title),
			zap.Error(err))
	}
}
