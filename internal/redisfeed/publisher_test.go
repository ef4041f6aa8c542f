package redisfeed

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"arbcore/internal/core"
	"arbcore/internal/events"
	"arbcore/pkg/config"
)

func TestPublisherMirrorsEnvelope(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	pub := NewPublisher(config.RedisConfig{Addr: mr.Addr(), Stream: "arb:events"}, zap.NewNop())
	require.NotNil(t, pub)
	defer pub.Close()

	env := events.NewEnvelope(events.TopicTradeCompleted, "arbitrage", "completed",
		core.SeverityLow, map[string]float64{"net_profit": 0.3})
	require.NoError(t, pub.Publish(context.Background(), env))

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	entries, err := rdb.XRange(context.Background(), "arb:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "trade.completed", entries[0].Values["topic"])
	require.Equal(t, "arbitrage", entries[0].Values["scope"])

	last, err := rdb.HGet(context.Background(), "arb:events:last", string(events.TopicTradeCompleted)).Result()
	require.NoError(t, err)
	require.Contains(t, last, `"trade.completed"`)
}

func TestNewPublisherDisabledWithoutAddr(t *testing.T) {
	require.Nil(t, NewPublisher(config.RedisConfig{}, zap.NewNop()))
}
