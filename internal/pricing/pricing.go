package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Service splits a payout into the platform fee and the seller's share.
type Service struct {
	FeePercent decimal.Decimal
}

type Breakdown struct {
	Gross decimal.Decimal `json:"gross"`
	Fee   decimal.Decimal `json:"fee"`
	Net   decimal.Decimal `json:"net"`
}

// Breakdown rounds the fee to kobo; the net is whatever remains so the parts
// always add back up to gross.
func (s Service) Breakdown(gross decimal.Decimal) Breakdown {
	fee := gross.Mul(s.FeePercent).Div(hundred).Round(2)
	if fee.IsNegative() {
		fee = decimal.Zero
	}
	if fee.GreaterThan(gross) {
		fee = gross
	}
	return Breakdown{Gross: gross, Fee: fee, Net: gross.Sub(fee)}
}
