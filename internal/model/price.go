package model

import (
	"bytes"
	"fmt"

	"github.com/govalues/decimal"
)

// PriceScale is the number of fractional digits every generated price carries.
const PriceScale = 2

// Price is a decimal price. On the wire it is a bare JSON number (98.25),
// so consumers that expect numeric prices can read it without a string hop.
type Price struct {
	v decimal.Decimal
}

// PriceFromFloat64 rounds f half-up to PriceScale digits.
// It fails only for values the decimal type cannot represent (NaN, Inf, overflow).
func PriceFromFloat64(f float64) (Price, error) {
	d, err := decimal.NewFromFloat64(f)
	if err != nil {
		return Price{}, fmt.Errorf("price from %v: %w", f, err)
	}
	r, err := roundHalfUp(d, PriceScale)
	if err != nil {
		return Price{}, fmt.Errorf("price from %v: %w", f, err)
	}
	return Price{r}, nil
}

// ParsePrice parses a decimal string such as "98.25". No rounding is applied.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.Parse(s)
	if err != nil {
		return Price{}, fmt.Errorf("parse price %q: %w", s, err)
	}
	return Price{d}, nil
}

// MustParsePrice is ParsePrice for literals; it panics on malformed input.
func MustParsePrice(s string) Price {
	p, err := ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Price) String() string { return p.v.String() }

func (p Price) Equal(o Price) bool { return p.v.Cmp(o.v) == 0 }
func (p Price) Lt(o Price) bool    { return p.v.Cmp(o.v) < 0 }
func (p Price) Gt(o Price) bool    { return p.v.Cmp(o.v) > 0 }

// MarshalJSON writes the price as a JSON number.
func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(p.v.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	data = bytes.Trim(data, `"`)
	d, err := decimal.Parse(string(data))
	if err != nil {
		return fmt.Errorf("decode price %s: %w", data, err)
	}
	p.v = d
	return nil
}

// roundHalfUp rounds away from zero on a tie. decimal.Round is half-to-even,
// which would turn 98.125 into 98.12.
func roundHalfUp(d decimal.Decimal, scale int) (decimal.Decimal, error) {
	half, err := decimal.New(5, scale+1)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.IsNeg() {
		d, err = d.Sub(half)
	} else {
		d, err = d.Add(half)
	}
	if err != nil {
		return decimal.Decimal{}, err
	}
	return d.Trunc(scale), nil
}
