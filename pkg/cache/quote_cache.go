// Package cache provides a sharded in-memory quote cache for streaming
// feeds where writers and readers contend on hot symbols.
package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"arbcore/internal/core"
)

const numShards = 16

// ShardedQuoteCache holds the latest quote per symbol behind per-shard locks.
type ShardedQuoteCache struct {
	shards [numShards]*quoteShard
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]core.VenueQuote
}

// NewShardedQuoteCache creates an empty cache.
func NewShardedQuoteCache() *ShardedQuoteCache {
	c := &ShardedQuoteCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &quoteShard{
			items: make(map[string]core.VenueQuote),
		}
	}
	return c
}

func (c *ShardedQuoteCache) getShard(key string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores the latest quote for a symbol.
func (c *ShardedQuoteCache) Set(symbol string, q core.VenueQuote) {
	shard := c.getShard(symbol)
	shard.mu.Lock()
	shard.items[symbol] = q
	shard.mu.Unlock()
}

// Get retrieves the latest quote for a symbol.
func (c *ShardedQuoteCache) Get(symbol string) (core.VenueQuote, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	q, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return q, ok
}

// Delete removes a symbol from the cache.
func (c *ShardedQuoteCache) Delete(symbol string) {
	shard := c.getShard(symbol)
	shard.mu.Lock()
	delete(shard.items, symbol)
	shard.mu.Unlock()
}

// Len returns total items across all shards.
func (c *ShardedQuoteCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Cleanup removes quotes observed before now-maxAge and returns how many
// were evicted.
func (c *ShardedQuoteCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)

	for _, shard := range c.shards {
		shard.mu.Lock()
		for sym, q := range shard.items {
			if q.ObservedAt.Before(cutoff) {
				delete(shard.items, sym)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
