package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pricing pipeline.
type Metrics struct {
	// Scheduler
	PricingCycles         prometheus.Counter
	PricingCycleFailures  prometheus.Counter
	PricingTicksGenerated prometheus.Counter

	// Hub
	HubConnectedClients  prometheus.Gauge
	HubBatchesBroadcast  prometheus.Counter
	HubDeliveries        prometheus.Counter
	HubDeliveryFailures  prometheus.Counter
	HubRelayDecodeErrors prometheus.Counter

	// Subscriber session
	SessionConnected       prometheus.Gauge // 0=down, 1=up
	SessionReconnects      prometheus.Counter
	SessionBatchesReceived prometheus.Counter
	SessionTicksDropped    prometheus.Counter
	SessionDeliveryLatency prometheus.Histogram // tick generation to client receipt

	// Redis batch publisher circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry(); binaries pass
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PricingCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricing_cycles_total",
			Help: "Scheduler cycles started",
		}),
		PricingCycleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricing_cycle_failures_total",
			Help: "Scheduler cycles that failed to generate or publish",
		}),
		PricingTicksGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricing_ticks_generated_total",
			Help: "Ticks generated and handed to the publisher",
		}),

		HubConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_connected_clients",
			Help: "Live subscriber connections",
		}),
		HubBatchesBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_batches_broadcast_total",
			Help: "Batches broadcast to the live set",
		}),
		HubDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_deliveries_total",
			Help: "Per-connection batch deliveries that succeeded",
		}),
		HubDeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_delivery_failures_total",
			Help: "Per-connection batch deliveries that failed",
		}),
		HubRelayDecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_relay_decode_errors_total",
			Help: "Redis relay messages that could not be decoded",
		}),

		SessionConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_connected",
			Help: "Subscriber session connectivity (0=down, 1=up)",
		}),
		SessionReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_reconnects_total",
			Help: "Reconnection attempts scheduled by the subscriber session",
		}),
		SessionBatchesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_batches_received_total",
			Help: "Price batches received by the subscriber session",
		}),
		SessionTicksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_ticks_dropped_total",
			Help: "Ticks dropped by the reconciler for unknown instruments",
		}),
		SessionDeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "session_delivery_latency_seconds",
			Help:    "Latency from tick generation to client receipt",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.PricingCycles,
		m.PricingCycleFailures,
		m.PricingTicksGenerated,
		m.HubConnectedClients,
		m.HubBatchesBroadcast,
		m.HubDeliveries,
		m.HubDeliveryFailures,
		m.HubRelayDecodeErrors,
		m.SessionConnected,
		m.SessionReconnects,
		m.SessionBatchesReceived,
		m.SessionTicksDropped,
		m.SessionDeliveryLatency,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}

// HealthStatus tracks dependency health for the /healthz probe.
// A dependency only counts toward the overall status once it is enabled.
type HealthStatus struct {
	mu sync.RWMutex

	hubEnabled    bool
	redisEnabled  bool
	sqliteEnabled bool

	HubConnected   bool
	LastBatchTime  time.Time
	RedisConnected bool
	SQLiteOK       bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a health status with no dependencies enabled.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetHubConnected(v bool) {
	h.mu.Lock()
	h.hubEnabled = true
	h.HubConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBatchTime(t time.Time) {
	h.mu.Lock()
	h.LastBatchTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.redisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.sqliteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes the non-nil dependencies every interval
// until ctx is cancelled. The first probe runs immediately.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	go func() {
		probe()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	down := 0
	enabled := 0
	for _, dep := range []struct{ on, ok bool }{
		{h.hubEnabled, h.HubConnected},
		{h.redisEnabled, h.RedisConnected},
		{h.sqliteEnabled, h.SQLiteOK},
	} {
		if !dep.on {
			continue
		}
		enabled++
		if !dep.ok {
			down++
		}
	}

	overallStatus := "healthy"
	httpCode := http.StatusOK
	switch {
	case down > 0 && down == enabled:
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	case down > 0:
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	batchAge := ""
	lastBatch := ""
	if !h.LastBatchTime.IsZero() {
		batchAge = time.Since(h.LastBatchTime).Round(time.Millisecond).String()
		lastBatch = h.LastBatchTime.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		HubConnected    *bool   `json:"hub_connected,omitempty"`
		LastBatchTime   string  `json:"last_batch_time,omitempty"`
		BatchAge        string  `json:"batch_age,omitempty"`
		RedisConnected  *bool   `json:"redis_connected,omitempty"`
		RedisLatencyMs  float64 `json:"redis_latency_ms,omitempty"`
		SQLiteOK        *bool   `json:"sqlite_ok,omitempty"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms,omitempty"`
		LastCheckAt     string  `json:"last_check_at,omitempty"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastBatchTime:   lastBatch,
		BatchAge:        batchAge,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
	}
	if h.hubEnabled {
		v := h.HubConnected
		status.HubConnected = &v
	}
	if h.redisEnabled {
		v := h.RedisConnected
		status.RedisConnected = &v
	}
	if h.sqliteEnabled {
		v := h.SQLiteOK
		status.SQLiteOK = &v
	}
	if !h.LastCheckAt.IsZero() {
		status.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics server for gatherer. health may be nil, in
// which case /healthz is not mounted.
func NewServer(addr string, gatherer prometheus.Gatherer, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if health != nil {
		mux.Handle("/healthz", health)
	}

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handler returns the server's mux, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
