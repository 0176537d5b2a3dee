// Package redis publishes price batches to a Redis pub/sub channel for the
// hub relay to pick up.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"notes-pricing/internal/metrics"
	"notes-pricing/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// DefaultChannel is the pub/sub channel batches travel on.
const DefaultChannel = "pub:prices"

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Connect creates a client and pings the server.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return client, nil
}

// BatchPublisher publishes batches through a circuit breaker. While the
// breaker is open Publish fails fast with ErrCircuitOpen.
type BatchPublisher struct {
	client  *goredis.Client
	channel string
	breaker *CircuitBreaker
}

// NewBatchPublisher wraps client. The breaker opens after 5 consecutive
// failures and probes again after 10s. m may be nil.
func NewBatchPublisher(client *goredis.Client, channel string, m *metrics.Metrics) *BatchPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	cb := NewCircuitBreaker(BreakerConfig{Threshold: 5, Cooldown: 10 * time.Second})
	cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
		if m == nil {
			return
		}
		m.RedisCircuitBreakerState.Set(float64(to))
		if to == StateOpen {
			m.RedisCircuitBreakerTrips.Inc()
		}
	}
	return &BatchPublisher{client: client, channel: channel, breaker: cb}
}

// Publish encodes batch as a JSON tick array and publishes it.
func (p *BatchPublisher) Publish(ctx context.Context, batch model.Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	return p.breaker.Do(ctx, func(ctx context.Context) error {
		return p.client.Publish(ctx, p.channel, data).Err()
	})
}

// Breaker exposes the circuit breaker for health reporting.
func (p *BatchPublisher) Breaker() *CircuitBreaker { return p.breaker }
