package main

import "notes-pricing/internal/model"

type seedNote struct {
	isin      model.InstrumentID
	group     string
	currency  string
	status    model.NoteStatus
	bid, ask  string
	bidSpread int
	askSpread int
	position  float64
	circle    float64
	mark      string
	fair      string
	maturity  string
}

// seedNotes is written to an empty notes database on first start.
var seedNotes = []seedNote{
	{"XS123456", "US Corporates", "USD", model.StatusGreen, "98.25", "99.00", 120, 95, 5.2, 1.2, "99.00", "99.16", "15-Jun-26"},
	{"XS224567", "US Corporates", "USD", model.StatusRed, "97.50", "98.29", 350, 175, -2.1, 0.0, "98.29", "101.90", "22-Sep-25"},
	{"XS345678", "US Corporates", "USD", model.StatusYellow, "101.25", "102.05", 85, 110, 3.7, 0.0, "102.05", "96.39", "30-Mar-27"},
	{"XS456789", "European Financials", "EUR", model.StatusGreen, "99.75", "100.75", 105, 320, 7.5, 0.8, "96.50", "100.05", "18-Nov-26"},
	{"XS567890", "European Financials", "EUR", model.StatusGreen, "89.25", "99.50", 65, 155, 4.3, 2.5, "100.10", "103.85", "05-Feb-28"},
	{"XS678901", "Asian Sovereigns", "JPY", model.StatusGreen, "102.75", "97.25", 95, 45, 0.5, 1.5, "98.85", "98.50", "10-Jul-30"},
	{"XS789012", "Asian Sovereigns", "JPY", model.StatusYellow, "120.00", "104.50", 135, 30, 12.5, 8.7, "103.25", "103.79", "25-Apr-29"},
}

func seedRecords() []model.InstrumentRecord {
	out := make([]model.InstrumentRecord, 0, len(seedNotes))
	for _, n := range seedNotes {
		out = append(out, model.InstrumentRecord{
			ISIN:      n.isin,
			Group:     n.group,
			Currency:  n.currency,
			Status:    n.status,
			BidPrice:  model.MustParsePrice(n.bid),
			AskPrice:  model.MustParsePrice(n.ask),
			BidSpread: n.bidSpread,
			AskSpread: n.askSpread,
			Position:  n.position,
			Circle:    n.circle,
			MarkPrice: model.MustParsePrice(n.mark),
			FairPrice: model.MustParsePrice(n.fair),
			Maturity:  n.maturity,
		})
	}
	return out
}
