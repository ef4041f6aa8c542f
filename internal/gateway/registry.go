// Package gateway manages the set of venue gateways with per-venue failure
// tracking and a circuit breaker.
package gateway

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	exchange "arbcore/pkg/exchanges/common"
)

var (
	ErrVenueNotFound  = errors.New("venue not found")
	ErrVenueUnhealthy = errors.New("venue is unhealthy")
)

// entry holds a Gateway with metadata for lifecycle management.
type entry struct {
	gateway   exchange.Gateway
	lastUsed  time.Time
	healthyAt time.Time
	failures  int
}

// Config holds configuration for the Registry.
type Config struct {
	FailureThreshold int           // failures before the breaker opens
	CircuitTimeout   time.Duration // time before an open breaker is retried
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		CircuitTimeout:   time.Minute,
	}
}

// Registry holds the configured venues keyed by name. Venues whose failure
// count crosses the threshold are skipped until the circuit timeout passes.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	config  Config
	log     *zap.Logger
}

// NewRegistry creates an empty venue registry.
func NewRegistry(cfg Config, log *zap.Logger) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.CircuitTimeout <= 0 {
		cfg.CircuitTimeout = time.Minute
	}
	return &Registry{
		entries: make(map[string]*entry),
		config:  cfg,
		log:     log,
	}
}

// Register adds or replaces a venue gateway.
func (r *Registry) Register(gw exchange.Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.entries[gw.Name()] = &entry{
		gateway:   gw,
		lastUsed:  now,
		healthyAt: now,
	}
}

// Get returns a healthy gateway by venue name. An open circuit returns
// ErrVenueUnhealthy until the cooldown elapses.
func (r *Registry) Get(venue string) (exchange.Gateway, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[venue]
	if !ok {
		return nil, ErrVenueNotFound
	}
	if e.failures >= r.config.FailureThreshold {
		if time.Since(e.healthyAt) < r.config.CircuitTimeout {
			return nil, ErrVenueUnhealthy
		}
		// half-open: allow one probe
		e.failures = r.config.FailureThreshold - 1
		e.healthyAt = time.Now()
	}
	e.lastUsed = time.Now()
	return e.gateway, nil
}

// Healthy returns the names of all venues whose breaker is closed.
func (r *Registry) Healthy() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		if e.failures >= r.config.FailureThreshold &&
			time.Since(e.healthyAt) < r.config.CircuitTimeout {
			continue
		}
		names = append(names, name)
	}
	return names
}

// RecordFailure increments a venue's failure counter; crossing the
// threshold opens the breaker.
func (r *Registry) RecordFailure(venue string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[venue]
	if !ok {
		return
	}
	e.failures++
	if e.failures == r.config.FailureThreshold {
		e.healthyAt = time.Now()
		r.log.Warn("venue circuit opened",
			zap.String("venue", venue),
			zap.Int("failures", e.failures))
	}
}

// RecordSuccess resets the failure counter.
func (r *Registry) RecordSuccess(venue string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[venue]; ok {
		e.failures = 0
		e.healthyAt = time.Now()
	}
}

// Stats returns current registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{TotalVenues: len(r.entries)}
	for _, e := range r.entries {
		if e.failures >= r.config.FailureThreshold {
			s.UnhealthyCount++
		}
	}
	return s
}

// Stats contains venue registry statistics.
type Stats struct {
	TotalVenues    int `json:"total_venues"`
	UnhealthyCount int `json:"unhealthy_count"`
}

// Close closes every gateway that supports closing.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, e := range r.entries {
		if closer, ok := e.gateway.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		delete(r.entries, name)
	}
}
