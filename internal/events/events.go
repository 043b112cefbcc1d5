// Package events carries the domain events the core write paths return.
// Dispatch is a separate step at the edges; the state machine itself never
// touches a transport.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Type string

const (
	TypeLogin     Type = "login"
	TypeScan      Type = "scan"
	TypeFinalized Type = "finalized"
)

type Event struct {
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

func New(eventType Type, occurredAt time.Time, payload any) Event {
	return Event{Type: eventType, OccurredAt: occurredAt.UTC(), Payload: payload}
}

// Publisher is fire-and-forget: the core does not care whether anything is
// listening, so implementations never return an error to the caller.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// RedisPublisher pushes events onto a redis channel for the live dashboards.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisPublisher(client *redis.Client, channel string, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, log: log}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("event marshal failed", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.Warn("event publish failed", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// NopPublisher drops everything. Used when redis is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
