package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// PricePoint is one [timestampMs, price] pair of a history series.
// It marshals to the upstream's two-element array form so the history
// endpoint can pass series through byte-compatible.
type PricePoint struct {
	UnixMs int64
	Price  decimal.Decimal
}

func (p PricePoint) MarshalJSON() ([]byte, error) {
	price, _ := p.Price.Float64()
	return json.Marshal([2]float64{float64(p.UnixMs), price})
}

func (p *PricePoint) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("price point: expected [timestamp, price], got %d elements", len(pair))
	}
	p.UnixMs = int64(pair[0])
	p.Price = decimal.NewFromFloat(pair[1])
	return nil
}
