// Package pricing produces synthetic structured-note prices and drives the
// periodic batch cycle that feeds the broadcast hub.
package pricing

import (
	"fmt"

	"notes-pricing/internal/model"
)

// Price model constants. A note trades around par: base in [95, 105),
// bid/ask spread in [0.1, 0.6).
const (
	baseMin     = 95.0
	baseRange   = 10.0
	spreadMin   = 0.1
	spreadRange = 0.5
	markJitter  = 0.2
	fairJitter  = 0.3
)

// Generator creates one PriceTick per call from a random source and clock.
type Generator struct {
	rnd   Rand
	clock Clock
}

// NewGenerator builds a generator. Nil arguments select a time-seeded
// random source and the wall clock.
func NewGenerator(rnd Rand, clock Clock) *Generator {
	if rnd == nil {
		rnd = NewRand(RealClock{}.Now().UnixNano())
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Generator{rnd: rnd, clock: clock}
}

// Generate returns a fresh tick for id. No bid/ask ordering is enforced:
// after rounding a crossed quote is possible and is passed through as is.
func (g *Generator) Generate(id model.InstrumentID) (model.PriceTick, error) {
	base := baseMin + g.rnd.Float64()*baseRange
	spread := spreadMin + g.rnd.Float64()*spreadRange
	mark := base + (g.rnd.Float64()-0.5)*markJitter
	fair := base + (g.rnd.Float64()-0.5)*fairJitter

	tick := model.PriceTick{ISIN: id, Timestamp: g.clock.Now()}
	var err error
	if tick.BidPrice, err = model.PriceFromFloat64(base - spread/2); err != nil {
		return model.PriceTick{}, fmt.Errorf("pricing: bid for %s: %w", id, err)
	}
	if tick.AskPrice, err = model.PriceFromFloat64(base + spread/2); err != nil {
		return model.PriceTick{}, fmt.Errorf("pricing: ask for %s: %w", id, err)
	}
	if tick.MarkPrice, err = model.PriceFromFloat64(mark); err != nil {
		return model.PriceTick{}, fmt.Errorf("pricing: mark for %s: %w", id, err)
	}
	if tick.FairPrice, err = model.PriceFromFloat64(fair); err != nil {
		return model.PriceTick{}, fmt.Errorf("pricing: fair for %s: %w", id, err)
	}
	return tick, nil
}

// GenerateAll returns one tick per id, in order.
func (g *Generator) GenerateAll(ids []model.InstrumentID) ([]model.PriceTick, error) {
	out := make([]model.PriceTick, 0, len(ids))
	for _, id := range ids {
		t, err := g.Generate(id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
