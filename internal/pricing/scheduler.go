package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"notes-pricing/internal/metrics"
	"notes-pricing/internal/model"
)

// ErrEmptyUniverse is returned by NewScheduler when there is nothing to price.
var ErrEmptyUniverse = errors.New("pricing: instrument universe is empty")

// Publisher delivers one batch to subscribers. The hub and the Redis batch
// publisher both satisfy it.
type Publisher interface {
	Publish(ctx context.Context, batch model.Batch) error
}

// SchedulerConfig holds the cycle timing and batch size.
type SchedulerConfig struct {
	Universe      []model.InstrumentID
	MinInterval   time.Duration // default 2s
	MaxInterval   time.Duration // default 5s
	FallbackDelay time.Duration // wait after a failed cycle, default 5s
	MaxBatch      int           // K, default 3
}

func (c *SchedulerConfig) defaults() {
	if c.MinInterval == 0 {
		c.MinInterval = 2 * time.Second
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = 5 * time.Second
	}
	if c.FallbackDelay == 0 {
		c.FallbackDelay = 5 * time.Second
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 3
	}
}

// Scheduler runs the price cycle: wait, pick a random subset of the
// universe, generate a tick for each, publish the batch. Cycles never
// overlap and a failed cycle never stops the loop.
type Scheduler struct {
	cfg   SchedulerConfig
	gen   *Generator
	pub   Publisher
	rnd   Rand
	clock Clock
	m     *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler validates cfg and builds a scheduler. m may be nil.
func NewScheduler(cfg SchedulerConfig, gen *Generator, pub Publisher, rnd Rand, clock Clock, m *metrics.Metrics) (*Scheduler, error) {
	cfg.defaults()
	if len(cfg.Universe) == 0 {
		return nil, ErrEmptyUniverse
	}
	if cfg.MinInterval > cfg.MaxInterval {
		return nil, fmt.Errorf("pricing: min interval %s exceeds max interval %s", cfg.MinInterval, cfg.MaxInterval)
	}
	if rnd == nil {
		rnd = NewRand(time.Now().UnixNano())
	}
	if clock == nil {
		clock = RealClock{}
	}
	universe := make([]model.InstrumentID, len(cfg.Universe))
	copy(universe, cfg.Universe)
	cfg.Universe = universe

	return &Scheduler{cfg: cfg, gen: gen, pub: pub, rnd: rnd, clock: clock, m: m}, nil
}

// Start launches Run in a goroutine. Calling Start on a running scheduler
// does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.Run(ctx)
	}(s.done)
}

// Stop cancels the loop and waits for it to exit. Safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run executes cycles until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("scheduler started",
		"universe", len(s.cfg.Universe),
		"min_interval", s.cfg.MinInterval,
		"max_interval", s.cfg.MaxInterval,
		"max_batch", s.cfg.MaxBatch)

	delay := s.jitter()
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.clock.After(delay):
		}

		// Delivery of a batch that is already built finishes even if
		// shutdown arrives mid-cycle.
		if err := s.cycle(context.WithoutCancel(ctx)); err != nil {
			slog.Error("price cycle failed", "error", err, "retry_in", s.cfg.FallbackDelay)
			if s.m != nil {
				s.m.PricingCycleFailures.Inc()
			}
			delay = s.cfg.FallbackDelay
			continue
		}
		delay = s.jitter()
	}
}

// cycle builds and publishes one batch.
func (s *Scheduler) cycle(ctx context.Context) error {
	if s.m != nil {
		s.m.PricingCycles.Inc()
	}
	ids := s.pick()
	batch := make(model.Batch, 0, len(ids))
	for _, id := range ids {
		t, err := s.gen.Generate(id)
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		batch = append(batch, t)
	}
	if err := s.pub.Publish(ctx, batch); err != nil {
		return fmt.Errorf("publish %d ticks: %w", len(batch), err)
	}
	if s.m != nil {
		s.m.PricingTicksGenerated.Add(float64(len(batch)))
	}
	slog.Debug("batch published", "count", len(batch), "ids", batch.IDs())
	return nil
}

// pick draws 1..min(K, |universe|) distinct ids with a partial
// Fisher-Yates shuffle over a copy of the universe.
func (s *Scheduler) pick() []model.InstrumentID {
	k := min(s.cfg.MaxBatch, len(s.cfg.Universe))
	count := 1 + s.rnd.Intn(k)

	ids := make([]model.InstrumentID, len(s.cfg.Universe))
	copy(ids, s.cfg.Universe)
	for i := 0; i < count; i++ {
		j := i + s.rnd.Intn(len(ids)-i)
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids[:count]
}

// jitter returns a delay uniform in [MinInterval, MaxInterval).
func (s *Scheduler) jitter() time.Duration {
	span := s.cfg.MaxInterval - s.cfg.MinInterval
	return s.cfg.MinInterval + time.Duration(s.rnd.Float64()*float64(span))
}
