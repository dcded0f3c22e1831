package domain

import (
	"github.com/shopspring/decimal"
)

// CryptoSnapshot is the latest quoted state of one tracked coin.
// Values are immutable once built; a new snapshot replaces the old one.
type CryptoSnapshot struct {
	ID        string
	Price     decimal.Decimal
	Change24h decimal.Decimal
}

// ChangeDirection returns "positive", "negative", or "neutral"
func (s CryptoSnapshot) ChangeDirection() string {
	switch s.Change24h.Sign() {
	case 1:
		return "positive"
	case -1:
		return "negative"
	default:
		return "neutral"
	}
}

// PriceHistory is a 30-day (or configured-range) price series for one coin.
type PriceHistory struct {
	ID     string
	Points []PricePoint
}
