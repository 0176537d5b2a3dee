package model

// NoteStatus is the desk status flag shown next to a note.
type NoteStatus string

const (
	StatusGreen  NoteStatus = "Green"
	StatusRed    NoteStatus = "Red"
	StatusYellow NoteStatus = "Yellow"
)

// InstrumentRecord is the client-side view of a note: the tick price fields
// plus business fields that ticks never touch.
type InstrumentRecord struct {
	ISIN      InstrumentID `json:"isin"`
	Group     string       `json:"group"`
	Currency  string       `json:"currency"`
	Status    NoteStatus   `json:"status"`
	BidPrice  Price        `json:"bidPrice"`
	AskPrice  Price        `json:"askPrice"`
	BidSpread int          `json:"bidSpread"`
	AskSpread int          `json:"askSpread"`
	Position  float64      `json:"position"`
	Circle    float64      `json:"circle"`
	MarkPrice Price        `json:"markPrice"`
	FairPrice Price        `json:"fairPrice"`
	Maturity  string       `json:"maturity"`
}

// ApplyTick returns rec with its four price fields taken from t.
// Every other field is kept as is.
func ApplyTick(rec InstrumentRecord, t PriceTick) InstrumentRecord {
	rec.BidPrice = t.BidPrice
	rec.AskPrice = t.AskPrice
	rec.MarkPrice = t.MarkPrice
	rec.FairPrice = t.FairPrice
	return rec
}
