package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyBatch          = errors.New("batch is empty")
	ErrDuplicateInstrument = errors.New("batch contains duplicate instrument")
)

// PriceTick is one instrument's generated price observation.
// BidPrice may exceed AskPrice; downstream error checks rely on seeing that.
type PriceTick struct {
	ISIN      InstrumentID `json:"isin"`
	BidPrice  Price        `json:"bidPrice"`
	AskPrice  Price        `json:"askPrice"`
	MarkPrice Price        `json:"markPrice"`
	FairPrice Price        `json:"fairPrice"`
	Timestamp time.Time    `json:"timestamp"`
}

// Crossed reports whether the bid is above the ask.
func (t PriceTick) Crossed() bool {
	return t.BidPrice.Gt(t.AskPrice)
}

// Batch is the set of ticks produced by one scheduler cycle.
type Batch []PriceTick

// Validate checks that the batch is non-empty and holds at most one tick
// per instrument.
func (b Batch) Validate() error {
	if len(b) == 0 {
		return ErrEmptyBatch
	}
	seen := make(map[InstrumentID]struct{}, len(b))
	for _, t := range b {
		if _, dup := seen[t.ISIN]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateInstrument, t.ISIN)
		}
		seen[t.ISIN] = struct{}{}
	}
	return nil
}

// IDs returns the instrument ids in batch order.
func (b Batch) IDs() []InstrumentID {
	ids := make([]InstrumentID, len(b))
	for i, t := range b {
		ids[i] = t.ISIN
	}
	return ids
}
