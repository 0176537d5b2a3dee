package pricing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"notes-pricing/internal/metrics"
	"notes-pricing/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// seqRand replays fixed Float64 values and defers Intn to a real source.
type seqRand struct {
	floats []float64
	i      int
	ints   Rand
}

func (r *seqRand) Float64() float64 {
	f := r.floats[r.i%len(r.floats)]
	r.i++
	return f
}

func (r *seqRand) Intn(n int) int { return r.ints.Intn(n) }

// fakeClock fires every After immediately. When waits is set, each
// requested delay is reported there first.
type fakeClock struct {
	now   time.Time
	waits chan time.Duration
	stop  chan struct{}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	if c.waits != nil {
		select {
		case c.waits <- d:
		case <-c.stop:
		}
	}
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type recordingPublisher struct {
	mu      sync.Mutex
	batches []model.Batch
	fail    int // number of leading calls that fail
	calls   int
}

func (p *recordingPublisher) Publish(_ context.Context, b model.Batch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.fail {
		return errors.New("hub unavailable")
	}
	p.batches = append(p.batches, b)
	return nil
}

func (p *recordingPublisher) snapshot() []model.Batch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Batch(nil), p.batches...)
}

var testNow = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

func TestGenerator_Formula(t *testing.T) {
	// base 97.5, spread 0.5, mark and fair jitter zero.
	rnd := &seqRand{floats: []float64{0.25, 0.8, 0.5, 0.5}}
	g := NewGenerator(rnd, &fakeClock{now: testNow})

	tick, err := g.Generate("XS123456")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	checks := map[string]struct{ got, want string }{
		"bid":  {tick.BidPrice.String(), "97.25"},
		"ask":  {tick.AskPrice.String(), "97.75"},
		"mark": {tick.MarkPrice.String(), "97.50"},
		"fair": {tick.FairPrice.String(), "97.50"},
	}
	for name, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %s, want %s", name, c.got, c.want)
		}
	}
	if tick.ISIN != "XS123456" {
		t.Errorf("isin: got %s", tick.ISIN)
	}
	if !tick.Timestamp.Equal(testNow) {
		t.Errorf("timestamp: got %v, want %v", tick.Timestamp, testNow)
	}
}

func TestGenerator_RangesAndScale(t *testing.T) {
	g := NewGenerator(NewRand(7), &fakeClock{now: testNow})
	lo, hi := model.MustParsePrice("94.70"), model.MustParsePrice("105.30")

	for i := 0; i < 2000; i++ {
		tick, err := g.Generate("XS1")
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		for name, p := range map[string]model.Price{
			"bid": tick.BidPrice, "ask": tick.AskPrice,
			"mark": tick.MarkPrice, "fair": tick.FairPrice,
		} {
			if p.Lt(lo) || p.Gt(hi) {
				t.Fatalf("%s %s outside [%s, %s]", name, p, lo, hi)
			}
			s := p.String()
			dot := strings.IndexByte(s, '.')
			if dot < 0 || len(s)-dot-1 != model.PriceScale {
				t.Fatalf("%s %s not at scale %d", name, s, model.PriceScale)
			}
		}
	}
}

func TestGenerator_GenerateAll(t *testing.T) {
	g := NewGenerator(NewRand(1), &fakeClock{now: testNow})
	ticks, err := g.GenerateAll(model.DefaultUniverse)
	if err != nil {
		t.Fatal(err)
	}
	if len(ticks) != len(model.DefaultUniverse) {
		t.Fatalf("got %d ticks, want %d", len(ticks), len(model.DefaultUniverse))
	}
	for i, id := range model.DefaultUniverse {
		if ticks[i].ISIN != id {
			t.Errorf("[%d] got %s, want %s", i, ticks[i].ISIN, id)
		}
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	g := NewGenerator(nil, nil)
	if _, err := NewScheduler(SchedulerConfig{}, g, &recordingPublisher{}, nil, nil, nil); !errors.Is(err, ErrEmptyUniverse) {
		t.Errorf("empty universe: got %v, want ErrEmptyUniverse", err)
	}
	cfg := SchedulerConfig{
		Universe:    model.DefaultUniverse,
		MinInterval: 5 * time.Second,
		MaxInterval: 2 * time.Second,
	}
	if _, err := NewScheduler(cfg, g, &recordingPublisher{}, nil, nil, nil); err == nil {
		t.Error("expected error for min > max interval")
	}
}

func TestScheduler_BatchesAreDistinctSubsets(t *testing.T) {
	clock := &fakeClock{now: testNow}
	rnd := NewRand(42)
	pub := &recordingPublisher{}
	universe := model.DefaultUniverse

	s, err := NewScheduler(SchedulerConfig{Universe: universe}, NewGenerator(rnd, clock), pub, rnd, clock, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	deadline := time.Now().Add(5 * time.Second)
	for len(pub.snapshot()) < 300 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	s.Stop()

	batches := pub.snapshot()
	if len(batches) < 300 {
		t.Fatalf("only %d batches published", len(batches))
	}
	inUniverse := make(map[model.InstrumentID]bool)
	for _, id := range universe {
		inUniverse[id] = true
	}
	sizes := make(map[int]int)
	for _, b := range batches {
		if len(b) < 1 || len(b) > 3 {
			t.Fatalf("batch size %d outside 1..3", len(b))
		}
		if err := b.Validate(); err != nil {
			t.Fatalf("invalid batch %v: %v", b.IDs(), err)
		}
		for _, tick := range b {
			if !inUniverse[tick.ISIN] {
				t.Fatalf("tick for %s outside universe", tick.ISIN)
			}
		}
		sizes[len(b)]++
	}
	for n := 1; n <= 3; n++ {
		if sizes[n] == 0 {
			t.Errorf("no batch of size %d in %d cycles", n, len(batches))
		}
	}
}

func TestScheduler_SmallUniverseCapsBatch(t *testing.T) {
	clock := &fakeClock{now: testNow}
	rnd := NewRand(3)
	pub := &recordingPublisher{}
	universe := []model.InstrumentID{"XS1", "XS2"}

	s, err := NewScheduler(SchedulerConfig{Universe: universe, MaxBatch: 5}, NewGenerator(rnd, clock), pub, rnd, clock, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	deadline := time.Now().Add(5 * time.Second)
	for len(pub.snapshot()) < 50 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	for _, b := range pub.snapshot() {
		if len(b) > 2 {
			t.Fatalf("batch of %d from a universe of 2", len(b))
		}
	}
}

func TestScheduler_FallbackDelayAfterFailure(t *testing.T) {
	clock := &fakeClock{
		now:   testNow,
		waits: make(chan time.Duration),
		stop:  make(chan struct{}),
	}
	rnd := &seqRand{floats: []float64{0.5}, ints: NewRand(1)}
	pub := &recordingPublisher{fail: 1}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	cfg := SchedulerConfig{
		Universe:      model.DefaultUniverse,
		MinInterval:   2 * time.Second,
		MaxInterval:   4 * time.Second,
		FallbackDelay: 7 * time.Second,
	}
	s, err := NewScheduler(cfg, NewGenerator(rnd, clock), pub, rnd, clock, m)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer func() {
		close(clock.stop)
		s.Stop()
	}()

	want := []time.Duration{
		3 * time.Second, // jitter before the first cycle
		7 * time.Second, // first publish failed
		3 * time.Second, // second publish succeeded
	}
	for i, w := range want {
		select {
		case got := <-clock.waits:
			if got != w {
				t.Errorf("wait %d: got %s, want %s", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("wait %d never requested", i)
		}
	}

	if got := testutil.ToFloat64(m.PricingCycleFailures); got != 1 {
		t.Errorf("cycle failures: got %v, want 1", got)
	}
	if len(pub.snapshot()) < 1 {
		t.Error("no batch published after the failed cycle")
	}
}
