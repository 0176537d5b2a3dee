// Package session maintains the client's connection to the broadcast hub:
// it dials, forwards every price batch to the reconciler in arrival order,
// and retries on a fixed delay until stopped.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"notes-pricing/internal/gateway"
	"notes-pricing/internal/logger"
	"notes-pricing/internal/metrics"
	"notes-pricing/internal/model"
	"notes-pricing/internal/reconciler"
	"notes-pricing/internal/stream"
)

// ErrAlreadyStarted is returned by Start on a running session.
var ErrAlreadyStarted = errors.New("session: already started")

// DefaultRetryDelay is the fixed wait between connection attempts.
const DefaultRetryDelay = 5 * time.Second

// State is the session's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Conn is one established hub connection.
type Conn interface {
	// ReadMessage blocks until the next frame arrives or the connection fails.
	ReadMessage() ([]byte, error)
	Close() error
}

// Transport opens connections to the hub.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Clock abstracts time for retry waits and latency measurement.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Sink receives every delivered batch. The reconciler satisfies it.
type Sink interface {
	Ingest(batch model.Batch) (reconciler.IngestResult, error)
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now().UTC() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Config configures a Session. Transport and Sink are required.
type Config struct {
	Transport  Transport
	Sink       Sink
	Clock      Clock            // default wall clock
	RetryDelay time.Duration    // default 5s
	Metrics    *metrics.Metrics // optional
}

// Session is the client side of the price feed.
type Session struct {
	transport  Transport
	sink       Sink
	clock      Clock
	retryDelay time.Duration
	m          *metrics.Metrics

	latency      *LatencyTracker
	connectivity *stream.Value[bool]

	mu     sync.Mutex
	state  State
	connID string
	cancel context.CancelFunc
	done   chan struct{}

	// owned by the run goroutine
	lastSeq int64
}

// New creates a disconnected session.
func New(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Session{
		transport:    cfg.Transport,
		sink:         cfg.Sink,
		clock:        cfg.Clock,
		retryDelay:   cfg.RetryDelay,
		m:            cfg.Metrics,
		latency:      NewLatencyTracker(1000),
		connectivity: stream.NewValue(false),
	}
}

// Start begins connecting in the background.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.run(ctx)
	}(s.done)
	return nil
}

// Stop closes the connection, cancels any pending retry and waits for the
// session to wind down. A batch already being merged finishes first.
// Stop is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.setState(StateDisconnected)
	s.setConnected(false)
	slog.Info("session stopped")
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnectionID returns the id the hub assigned to the current connection,
// or "" before confirmation.
func (s *Session) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

// Connectivity publishes true on every successful connect and false on
// every failed attempt, lost connection and Stop.
func (s *Session) Connectivity() *stream.Value[bool] {
	return s.connectivity
}

// Latency returns the delivery latency tracker.
func (s *Session) Latency() *LatencyTracker {
	return s.latency
}

func (s *Session) run(ctx context.Context) {
	for {
		s.setState(StateConnecting)
		conn, err := s.transport.Dial(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			slog.Warn("hub connection failed", "error", err, "retry_in", s.retryDelay)
			s.setConnected(false)
		} else {
			s.setState(StateConnected)
			s.setConnected(true)
			slog.Info("connected to hub")

			err = s.readLoop(ctx, conn)
			if ctx.Err() != nil {
				return
			}
			slog.Warn("hub connection lost", "error", err, "retry_in", s.retryDelay)
			s.setConnected(false)
		}

		s.setState(StateReconnecting)
		if s.m != nil {
			s.m.SessionReconnects.Inc()
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.retryDelay):
		}
	}
}

// readLoop handles frames until the connection fails or ctx is cancelled.
func (s *Session) readLoop(ctx context.Context, conn Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	s.lastSeq = 0
	lctx := ctx
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.connID = ""
			s.mu.Unlock()
			return err
		}
		lctx = s.handle(lctx, raw)
	}
}

// handle processes one frame. The returned context carries the connection
// id once the hub has confirmed it.
func (s *Session) handle(ctx context.Context, raw []byte) context.Context {
	var env gateway.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn("undecodable frame", append(logger.LogWithConn(ctx), "error", err, "size", len(raw))...)
		return ctx
	}

	switch env.Type {
	case gateway.MsgConnected:
		var id string
		if err := json.Unmarshal(env.Data, &id); err != nil {
			slog.Warn("bad connection confirmation", "error", err)
			return ctx
		}
		s.mu.Lock()
		s.connID = id
		s.mu.Unlock()
		ctx = logger.WithConnID(ctx, id)
		slog.Info("connection confirmed", logger.LogWithConn(ctx)...)

	case gateway.MsgBulkPriceUpdate:
		var batch model.Batch
		if err := json.Unmarshal(env.Data, &batch); err != nil {
			slog.Warn("undecodable price batch", append(logger.LogWithConn(ctx), "error", err, "seq", env.Seq)...)
			return ctx
		}
		s.deliver(ctx, env.Seq, batch)

	default:
		slog.Debug("ignoring frame", append(logger.LogWithConn(ctx), "type", env.Type)...)
	}
	return ctx
}

// deliver forwards batch unmodified and waits for the merge to finish.
func (s *Session) deliver(ctx context.Context, seq int64, batch model.Batch) {
	now := s.clock.Now()
	for _, t := range batch {
		d := now.Sub(t.Timestamp)
		s.latency.Record(d)
		if s.m != nil {
			s.m.SessionDeliveryLatency.Observe(d.Seconds())
		}
	}
	if s.lastSeq != 0 && seq > s.lastSeq+1 {
		slog.Info("batches missed", append(logger.LogWithConn(ctx), "from_seq", s.lastSeq+1, "to_seq", seq-1)...)
	}
	s.lastSeq = seq
	if s.m != nil {
		s.m.SessionBatchesReceived.Inc()
	}

	res, err := s.sink.Ingest(batch)
	if err != nil {
		slog.Error("batch not merged", append(logger.LogWithConn(ctx), "error", err, "seq", seq, "ticks", len(batch))...)
		return
	}
	if res.Dropped > 0 {
		slog.Debug("ticks for unknown instruments dropped", append(logger.LogWithConn(ctx), "dropped", res.Dropped, "seq", seq)...)
		if s.m != nil {
			s.m.SessionTicksDropped.Add(float64(res.Dropped))
		}
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		slog.Debug("session state", "from", prev.String(), "to", st.String())
	}
}

func (s *Session) setConnected(up bool) {
	s.connectivity.Publish(up)
	if s.m == nil {
		return
	}
	if up {
		s.m.SessionConnected.Set(1)
	} else {
		s.m.SessionConnected.Set(0)
	}
}
