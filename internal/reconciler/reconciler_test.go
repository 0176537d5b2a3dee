package reconciler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"notes-pricing/internal/model"
)

func rec(id model.InstrumentID, bid, ask string) model.InstrumentRecord {
	return model.InstrumentRecord{
		ISIN:      id,
		Group:     "Structured Notes",
		Currency:  "USD",
		Status:    model.StatusGreen,
		BidPrice:  model.MustParsePrice(bid),
		AskPrice:  model.MustParsePrice(ask),
		BidSpread: 120,
		AskSpread: 95,
		Position:  5.2,
		Circle:    1.2,
		MarkPrice: model.MustParsePrice(bid),
		FairPrice: model.MustParsePrice(ask),
		Maturity:  "15-Jun-26",
	}
}

func tick(id model.InstrumentID, bid, ask, mark, fair string) model.PriceTick {
	return model.PriceTick{
		ISIN:      id,
		BidPrice:  model.MustParsePrice(bid),
		AskPrice:  model.MustParsePrice(ask),
		MarkPrice: model.MustParsePrice(mark),
		FairPrice: model.MustParsePrice(fair),
		Timestamp: time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC),
	}
}

func TestIngest_BeforeLoad(t *testing.T) {
	r := New()
	_, err := r.Ingest(model.Batch{tick("XS1", "1", "2", "1", "2")})
	if !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("got %v, want ErrNotLoaded", err)
	}
	if v := r.Snapshot().Version; v != 0 {
		t.Errorf("version changed to %d on rejected ingest", v)
	}
}

func TestIngest_MergesKnownAndDropsUnknown(t *testing.T) {
	r := New()
	r.LoadInitialSnapshot([]model.InstrumentRecord{
		rec("XS1", "10", "11"),
		rec("XS2", "20", "21"),
	})

	res, err := r.Ingest(model.Batch{
		tick("XS1", "12", "13", "12.5", "12.6"),
		tick("XS9", "1", "2", "1", "2"),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Applied != 1 || res.Dropped != 1 {
		t.Errorf("result: got %+v, want 1 applied 1 dropped", res)
	}

	snap := r.Snapshot()
	if len(snap.Records) != 2 {
		t.Fatalf("records: got %d, want 2 (unknown ids must not be added)", len(snap.Records))
	}
	got, _ := snap.Get("XS1")
	want := rec("XS1", "10", "11")
	want.BidPrice = model.MustParsePrice("12")
	want.AskPrice = model.MustParsePrice("13")
	want.MarkPrice = model.MustParsePrice("12.5")
	want.FairPrice = model.MustParsePrice("12.6")
	if got != want {
		t.Errorf("XS1:\n got %+v\nwant %+v", got, want)
	}
	untouched, _ := snap.Get("XS2")
	if untouched != rec("XS2", "20", "21") {
		t.Errorf("XS2 changed: %+v", untouched)
	}
}

func TestIngest_CrossedQuotePassesThrough(t *testing.T) {
	r := New()
	r.LoadInitialSnapshot([]model.InstrumentRecord{rec("XS1", "10", "11")})
	if _, err := r.Ingest(model.Batch{tick("XS1", "101.20", "101.10", "101", "101")}); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Snapshot().Get("XS1")
	if got.BidPrice.String() != "101.20" || got.AskPrice.String() != "101.10" {
		t.Errorf("crossed quote altered: bid %s ask %s", got.BidPrice, got.AskPrice)
	}
}

func TestIngest_OneSnapshotPerBatch(t *testing.T) {
	r := New()
	r.LoadInitialSnapshot([]model.InstrumentRecord{rec("XS1", "10", "11"), rec("XS2", "20", "21")})
	v0 := r.Snapshot().Version

	if _, err := r.Ingest(model.Batch{
		tick("XS1", "12", "13", "12", "13"),
		tick("XS2", "22", "23", "22", "23"),
	}); err != nil {
		t.Fatal(err)
	}
	if got := r.Snapshot().Version; got != v0+1 {
		t.Errorf("version after one batch: got %d, want %d", got, v0+1)
	}

	// All ticks dropped still publishes once.
	if _, err := r.Ingest(model.Batch{tick("XS9", "1", "2", "1", "2")}); err != nil {
		t.Fatal(err)
	}
	if got := r.Snapshot().Version; got != v0+2 {
		t.Errorf("version after dropped batch: got %d, want %d", got, v0+2)
	}
}

func TestSubscribe_NeverSeesPartialBatch(t *testing.T) {
	r := New()
	r.LoadInitialSnapshot([]model.InstrumentRecord{rec("XS1", "10", "11"), rec("XS2", "10", "11")})

	ch, cancel := r.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			p := "50"
			if i%2 == 0 {
				p = "60"
			}
			// Both ticks in a batch carry the same prices.
			r.Ingest(model.Batch{tick("XS1", p, p, p, p), tick("XS2", p, p, p, p)})
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		select {
		case snap := <-ch:
			a, _ := snap.Get("XS1")
			b, _ := snap.Get("XS2")
			if !a.BidPrice.Equal(b.BidPrice) {
				t.Fatalf("version %d shows a partial batch: XS1 %s XS2 %s", snap.Version, a.BidPrice, b.BidPrice)
			}
		case <-done:
			return
		}
	}
}

func TestLoadInitialSnapshot_ReplacesAndDedupes(t *testing.T) {
	r := New()
	r.LoadInitialSnapshot([]model.InstrumentRecord{rec("XS1", "1", "2"), rec("XS2", "3", "4")})
	r.LoadInitialSnapshot([]model.InstrumentRecord{
		rec("XS3", "5", "6"),
		rec("XS4", "7", "8"),
		rec("XS3", "9", "10"),
	})

	snap := r.Snapshot()
	if len(snap.Records) != 2 {
		t.Fatalf("records: got %d, want 2", len(snap.Records))
	}
	if snap.Records[0].ISIN != "XS3" || snap.Records[1].ISIN != "XS4" {
		t.Errorf("order: got %s, %s", snap.Records[0].ISIN, snap.Records[1].ISIN)
	}
	if !snap.Records[0].BidPrice.Equal(model.MustParsePrice("9")) {
		t.Errorf("duplicate id: got bid %s, want last record's 9", snap.Records[0].BidPrice)
	}
	if _, ok := snap.Get("XS1"); ok {
		t.Error("XS1 survived a full replace")
	}
}

func TestRemove(t *testing.T) {
	r := New()
	r.LoadInitialSnapshot([]model.InstrumentRecord{rec("XS1", "1", "2"), rec("XS2", "3", "4")})
	v := r.Snapshot().Version

	if r.Remove("XS9") {
		t.Error("Remove of absent id reported true")
	}
	if r.Snapshot().Version != v {
		t.Error("Remove of absent id published a snapshot")
	}

	if !r.Remove("XS1") {
		t.Fatal("Remove of present id reported false")
	}
	snap := r.Snapshot()
	if snap.Version != v+1 || len(snap.Records) != 1 || snap.Records[0].ISIN != "XS2" {
		t.Errorf("after remove: %+v", snap)
	}

	// A later tick for the removed id is dropped, not resurrected.
	res, _ := r.Ingest(model.Batch{tick("XS1", "5", "6", "5", "6")})
	if res.Dropped != 1 {
		t.Errorf("tick for removed id: got %+v", res)
	}
}

func TestScenario_SingleTickUpdatesOneNote(t *testing.T) {
	r := New()
	r.LoadInitialSnapshot([]model.InstrumentRecord{rec("XS1", "10", "11")})

	ch, cancel := r.Subscribe()
	defer cancel()
	<-ch

	if _, err := r.Ingest(model.Batch{tick("XS1", "12", "13", "12.5", "12.6")}); err != nil {
		t.Fatal(err)
	}
	select {
	case snap := <-ch:
		got, ok := snap.Get("XS1")
		if !ok || got.BidPrice.String() != "12" || got.FairPrice.String() != "12.6" {
			t.Errorf("observer saw %+v", got)
		}
		if got.BidSpread != 120 || got.Maturity != "15-Jun-26" {
			t.Errorf("business fields changed: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("observer received no snapshot")
	}
}

func TestSnapshot_Crossed(t *testing.T) {
	r := New()
	r.LoadInitialSnapshot([]model.InstrumentRecord{
		rec("XS1", "98.25", "99.00"),
		rec("XS2", "102.75", "97.25"),
		rec("XS3", "100.00", "100.00"),
		rec("XS4", "120.00", "104.50"),
	})

	got := r.Snapshot().Crossed()
	if len(got) != 2 || got[0] != "XS2" || got[1] != "XS4" {
		t.Errorf("Crossed() = %v, want [XS2 XS4]", got)
	}
}
