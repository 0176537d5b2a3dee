package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"notes-pricing/internal/metrics"
	"notes-pricing/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// PubSubRouter relays batches published on a Redis channel into the hub, so
// the scheduler can run in another process or feed several hub replicas.
type PubSubRouter struct {
	rdb     *goredis.Client
	channel string
	hub     *Hub
	m       *metrics.Metrics

	ready chan struct{}
}

// NewPubSubRouter creates a router for channel. m may be nil.
func NewPubSubRouter(rdb *goredis.Client, channel string, hub *Hub, m *metrics.Metrics) *PubSubRouter {
	return &PubSubRouter{
		rdb:     rdb,
		channel: channel,
		hub:     hub,
		m:       m,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the subscription is confirmed by Redis.
func (r *PubSubRouter) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes and relays messages until ctx is cancelled.
func (r *PubSubRouter) Run(ctx context.Context) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	close(r.ready)
	log.Printf("[relay] subscribed to %s", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.relay([]byte(msg.Payload))
		}
	}
}

func (r *PubSubRouter) relay(payload []byte) {
	var batch model.Batch
	if err := json.Unmarshal(payload, &batch); err != nil {
		log.Printf("[relay] decode error: %v", err)
		if r.m != nil {
			r.m.HubRelayDecodeErrors.Inc()
		}
		return
	}
	if _, err := r.hub.Broadcast(batch); err != nil {
		log.Printf("[relay] broadcast rejected batch: %v", err)
	}
}
