package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"notes-pricing/internal/metrics"
	"notes-pricing/internal/model"

	"github.com/google/uuid"
)

// Sender is one subscriber's outbound path. Send must not block; a full or
// closed path reports an error instead.
type Sender interface {
	Send(msg []byte) error
}

// Connection describes one live subscriber.
type Connection struct {
	ID          string
	ConnectedAt time.Time
}

type subscriber struct {
	Connection
	sender Sender
}

// Hub keeps the live subscriber set and fans each price batch out to it.
// A failed delivery to one subscriber never affects the others, and the
// hub never removes a subscriber on its own; transports call Disconnect.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*subscriber
	seq     atomic.Int64

	m   *metrics.Metrics
	now func() time.Time
}

// NewHub creates an empty hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[string]*subscriber),
		m:       m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Connect registers s under a fresh connection id and sends it the
// connection confirmation. The confirmation is queued before any batch
// can reach s.
func (h *Hub) Connect(s Sender) string {
	id := uuid.NewString()

	h.mu.Lock()
	h.clients[id] = &subscriber{
		Connection: Connection{ID: id, ConnectedAt: h.now()},
		sender:     s,
	}
	if err := s.Send(encodeConnected(id)); err != nil {
		log.Printf("[hub] confirmation to %s failed: %v", id, err)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if h.m != nil {
		h.m.HubConnectedClients.Set(float64(count))
	}
	log.Printf("[hub] client %s connected (%d total)", id, count)
	return id
}

// Disconnect removes id from the live set. Unknown ids are ignored.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	_, ok := h.clients[id]
	delete(h.clients, id)
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if h.m != nil {
		h.m.HubConnectedClients.Set(float64(count))
	}
	log.Printf("[hub] client %s disconnected (%d total)", id, count)
}

// Broadcast sends batch to every connection live at the time of the call and
// returns how many accepted it. The only error is an invalid batch.
func (h *Hub) Broadcast(batch model.Batch) (int, error) {
	if err := batch.Validate(); err != nil {
		return 0, err
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return 0, fmt.Errorf("encode batch: %w", err)
	}

	seq := h.seq.Add(1)
	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	msg := encodeBatch(seq, h.now(), data)

	delivered := 0
	for _, c := range targets {
		if err := c.sender.Send(msg); err != nil {
			log.Printf("[hub] delivery of seq %d to %s failed: %v", seq, c.ID, err)
			if h.m != nil {
				h.m.HubDeliveryFailures.Inc()
			}
			continue
		}
		delivered++
	}

	if h.m != nil {
		h.m.HubBatchesBroadcast.Inc()
		h.m.HubDeliveries.Add(float64(delivered))
	}
	return delivered, nil
}

// Publish adapts Broadcast to the scheduler's publisher interface.
func (h *Hub) Publish(_ context.Context, batch model.Batch) error {
	_, err := h.Broadcast(batch)
	return err
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Connections returns the live connections in no particular order.
func (h *Hub) Connections() []Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Connection, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c.Connection)
	}
	return out
}
