// Package redisfeed mirrors engine events into a redis stream so external
// dashboards can consume them. Fire-and-forget: a failed publish is logged
// and the engine keeps trading.
package redisfeed

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"arbcore/internal/events"
	"arbcore/pkg/config"
)

// maxStreamLen caps the mirrored stream; redis trims approximately.
const maxStreamLen = 10000

// Publisher forwards bus envelopes to a redis stream and keeps the latest
// envelope per topic in a hash for cheap state queries.
type Publisher struct {
	rdb    *redis.Client
	stream string
	log    *zap.Logger
}

// NewPublisher connects a publisher; returns nil when no addr is configured.
func NewPublisher(cfg config.RedisConfig, log *zap.Logger) *Publisher {
	if cfg.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	stream := cfg.Stream
	if stream == "" {
		stream = "arb:events"
	}
	return &Publisher{rdb: rdb, stream: stream, log: log}
}

// Run subscribes to the given topics and forwards until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context, bus *events.Bus, topics ...events.Topic) {
	for _, topic := range topics {
		ch, unsub := bus.Subscribe(topic, 64)
		go func() {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case env, ok := <-ch:
					if !ok {
						return
					}
					p.publish(ctx, env)
				}
			}
		}()
	}
}

// Publish mirrors one envelope; exported for direct use.
func (p *Publisher) Publish(ctx context.Context, env events.Envelope) error {
	return p.publishErr(ctx, env)
}

func (p *Publisher) publish(ctx context.Context, env events.Envelope) {
	if err := p.publishErr(ctx, env); err != nil && ctx.Err() == nil {
		p.log.Warn("redis publish failed",
			zap.String("topic", string(env.Topic)),
			zap.Error(err))
	}
}

func (p *Publisher) publishErr(ctx context.Context, env events.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{
			"topic":    string(env.Topic),
			"scope":    env.Scope,
			"kind":     env.Kind,
			"severity": string(env.Severity),
			"ts_ms":    env.Timestamp.UnixMilli(),
			"data":     string(raw),
		},
	}).Err(); err != nil {
		return err
	}
	return p.rdb.HSet(ctx, p.stream+":last", string(env.Topic), string(raw)).Err()
}

// Close releases the redis connection.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
