package tax

import "fmt"

// DefaultRateBps is the GST rate applied when no override is configured (18%).
const DefaultRateBps = 1800

// Breakdown splits a tax-inclusive gross amount into its invoice components.
// All amounts are in paise. Subtotal is what gets credited to the wallet;
// CGST and SGST carry the tax in two equal-or-near-equal halves. IGST is
// reserved for inter-state invoices, which this engine does not emit: every
// settlement currently routes through the intra-state split.
type Breakdown struct {
	Subtotal int64
	CGST     int64
	SGST     int64
	IGST     int64
	Total    int64
}

// Credited returns the amount added to the wallet for this breakdown.
func (b Breakdown) Credited() int64 {
	return b.Subtotal
}

// Calculator derives tax-inclusive breakdowns at a fixed rate expressed in
// basis points. The zero value is unusable; construct via New.
type Calculator struct {
	rateBps int64
}

// New returns a calculator for the given rate in basis points. Rates outside
// (0, 10000) fall back to the default.
func New(rateBps int64) Calculator {
	if rateBps <= 0 || rateBps >= 10_000 {
		rateBps = DefaultRateBps
	}
	return Calculator{rateBps: rateBps}
}

// Breakdown computes the subtotal/tax split for a tax-inclusive gross amount.
// The identity subtotal + cgst + sgst == gross holds exactly; integer
// division truncates toward the subtotal, so the tax side absorbs the
// remainder paise.
func (c Calculator) Breakdown(gross int64) (Breakdown, error) {
	if gross < 0 {
		return Breakdown{}, fmt.Errorf("gross amount must not be negative, got %d", gross)
	}

	subtotal := gross * 10_000 / (10_000 + c.rateBps)
	taxAmount := gross - subtotal
	cgst := taxAmount / 2

	return Breakdown{
		Subtotal: subtotal,
		CGST:     cgst,
		SGST:     taxAmount - cgst,
		IGST:     0,
		Total:    gross,
	}, nil
}
