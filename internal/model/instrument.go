package model

import "strings"

// InstrumentID identifies a structured note (ISIN-like code). It is the join
// key between ticks and instrument records.
type InstrumentID string

// DefaultUniverse is the fixed instrument set both server and client start with.
var DefaultUniverse = []InstrumentID{
	"XS123456", "XS224567", "XS345678", "XS456789",
	"XS567890", "XS678901", "XS789012",
}

// ParseUniverse parses a comma-separated list of ids, skipping blanks and
// duplicates while keeping first-seen order.
func ParseUniverse(s string) []InstrumentID {
	parts := strings.Split(s, ",")
	seen := make(map[InstrumentID]bool, len(parts))
	ids := make([]InstrumentID, 0, len(parts))
	for _, p := range parts {
		id := InstrumentID(strings.TrimSpace(p))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
