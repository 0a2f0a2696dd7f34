package services

import (
	"os"

	"github.com/shopspring/decimal"
)

// FeePolicy computes the processing fee withheld from a payment:
// flat component plus a percentage of the face amount, rounded to cents.
// net_amount = amount - fee, fixed at creation and immutable after.
type FeePolicy struct {
	Flat    decimal.Decimal
	Percent decimal.Decimal
}

// NewFeePolicyFromEnv reads FEE_FLAT and FEE_PERCENT; unset or malformed
// values fall back to zero (no fee).
func NewFeePolicyFromEnv() FeePolicy {
	p := FeePolicy{Flat: decimal.Zero, Percent: decimal.Zero}
	if raw := os.Getenv("FEE_FLAT"); raw != "" {
		if v, err := decimal.NewFromString(raw); err == nil {
			p.Flat = v
		}
	}
	if raw := os.Getenv("FEE_PERCENT"); raw != "" {
		if v, err := decimal.NewFromString(raw); err == nil {
			p.Percent = v
		}
	}
	return p
}

// Fee returns the processing fee for amount, never exceeding the amount
// itself.
func (p FeePolicy) Fee(amount decimal.Decimal) decimal.Decimal {
	fee := amount.Mul(p.Percent).Div(decimal.NewFromInt(100)).Add(p.Flat).Round(2)
	if fee.GreaterThan(amount) {
		return amount
	}
	return fee
}

// Net returns the amount minus the processing fee.
func (p FeePolicy) Net(amount decimal.Decimal) decimal.Decimal {
	return amount.Sub(p.Fee(amount))
}
