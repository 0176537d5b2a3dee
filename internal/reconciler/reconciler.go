// Package reconciler keeps the client-side table of instrument records and
// merges incoming price batches into it.
package reconciler

import (
	"errors"
	"log/slog"
	"sync"

	"notes-pricing/internal/model"
	"notes-pricing/internal/stream"
)

// ErrNotLoaded is returned by Ingest before any initial snapshot load.
var ErrNotLoaded = errors.New("reconciler: initial snapshot not loaded")

// Snapshot is an immutable view of the whole table.
type Snapshot struct {
	Version uint64
	Records []model.InstrumentRecord
}

// Get returns the record for id, if present.
func (s Snapshot) Get(id model.InstrumentID) (model.InstrumentRecord, bool) {
	for _, r := range s.Records {
		if r.ISIN == id {
			return r, true
		}
	}
	return model.InstrumentRecord{}, false
}

// Crossed returns the ids whose bid is above the ask, in table order.
func (s Snapshot) Crossed() []model.InstrumentID {
	var ids []model.InstrumentID
	for _, r := range s.Records {
		if r.BidPrice.Gt(r.AskPrice) {
			ids = append(ids, r.ISIN)
		}
	}
	return ids
}

// IngestResult reports how a batch was applied.
type IngestResult struct {
	Applied int
	Dropped int // ticks for instruments not in the table
}

// Reconciler owns the record table. All mutations and the snapshot they
// publish happen under one lock, so observers never see half a batch.
type Reconciler struct {
	mu      sync.Mutex
	loaded  bool
	order   []model.InstrumentID
	records map[model.InstrumentID]model.InstrumentRecord
	version uint64

	out *stream.Value[Snapshot]
}

// New returns an empty, unloaded reconciler.
func New() *Reconciler {
	return &Reconciler{
		records: make(map[model.InstrumentID]model.InstrumentRecord),
		out:     stream.NewValue(Snapshot{}),
	}
}

// LoadInitialSnapshot replaces the whole table with records. For duplicate
// ids the last record wins and keeps the first one's position.
func (r *Reconciler) LoadInitialSnapshot(records []model.InstrumentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.order = r.order[:0]
	r.records = make(map[model.InstrumentID]model.InstrumentRecord, len(records))
	for _, rec := range records {
		if _, ok := r.records[rec.ISIN]; !ok {
			r.order = append(r.order, rec.ISIN)
		}
		r.records[rec.ISIN] = rec
	}
	r.loaded = true
	r.publishLocked()
	slog.Info("initial snapshot loaded", "records", len(r.order), "version", r.version)
}

// Ingest merges batch into the table and publishes exactly one snapshot,
// even if every tick was dropped.
func (r *Reconciler) Ingest(batch model.Batch) (IngestResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		return IngestResult{}, ErrNotLoaded
	}
	var res IngestResult
	for _, t := range batch {
		rec, ok := r.records[t.ISIN]
		if !ok {
			res.Dropped++
			continue
		}
		r.records[t.ISIN] = model.ApplyTick(rec, t)
		res.Applied++
	}
	r.publishLocked()
	return res, nil
}

// Remove deletes the record for id and publishes. It reports false and
// publishes nothing when id is absent.
func (r *Reconciler) Remove(id model.InstrumentID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return false
	}
	delete(r.records, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.publishLocked()
	return true
}

// Snapshot returns the latest published snapshot.
func (r *Reconciler) Snapshot() Snapshot {
	return r.out.Current()
}

// Subscribe returns a channel that always holds the newest snapshot, starting
// with the current one, and a cancel function.
func (r *Reconciler) Subscribe() (<-chan Snapshot, func()) {
	return r.out.Subscribe()
}

func (r *Reconciler) publishLocked() {
	r.version++
	recs := make([]model.InstrumentRecord, len(r.order))
	for i, id := range r.order {
		recs[i] = r.records[id]
	}
	r.out.Publish(Snapshot{Version: r.version, Records: recs})
}
