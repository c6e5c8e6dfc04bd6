// Package odds converts between American and decimal odds and computes
// payouts, parlay combinations, multipliers and fee splits.
//
// All arithmetic is decimal. Decimal odds are kept as an exact ratio so that a
// parlay product is never rounded before the final floor to whole grit.
package odds

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidOdds is returned for American odds inside (-100, 100).
	ErrInvalidOdds = errors.New("american odds must be <= -100 or >= 100")

	// ErrGuaranteedLoss is returned for decimal odds <= 1.
	ErrGuaranteedLoss = errors.New("decimal odds must be greater than 1")

	// ErrNoLegs is returned when combining an empty parlay.
	ErrNoLegs = errors.New("parlay has no legs")

	// ErrInvalidMultiplier is returned for multipliers below 1.
	ErrInvalidMultiplier = errors.New("multiplier must be >= 1")

	// ErrInvalidShare is returned for split shares outside [0, 1].
	ErrInvalidShare = errors.New("share must be between 0 and 1")

	// ErrNegativeAmount is returned when a stake or amount is negative.
	ErrNegativeAmount = errors.New("amount must not be negative")
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)

	// NitroStep is the multiplier increment each passenger adds to a squad ride.
	NitroStep = decimal.RequireFromString("0.05")

	// DefaultOwnerShare is the half of a winning bid paid to the listing owner.
	DefaultOwnerShare = decimal.RequireFromString("0.5")
)

// DecimalOdds is a decimal price held as num/den.
type DecimalOdds struct {
	num decimal.Decimal
	den decimal.Decimal
}

// NewDecimalOdds wraps a plain decimal price.
func NewDecimalOdds(d decimal.Decimal) (DecimalOdds, error) {
	o := DecimalOdds{num: d, den: one}
	if !o.valid() {
		return DecimalOdds{}, ErrGuaranteedLoss
	}
	return o, nil
}

func (o DecimalOdds) valid() bool {
	return o.den.IsPositive() && o.num.GreaterThan(o.den)
}

// Value returns the price rounded to 16 places, for display.
func (o DecimalOdds) Value() decimal.Decimal {
	if o.den.IsZero() {
		return decimal.Zero
	}
	return o.num.DivRound(o.den, 16)
}

// String renders the price with two decimals.
func (o DecimalOdds) String() string {
	return o.Value().StringFixed(2)
}

// ToDecimalOdds converts an American price to decimal odds.
func ToDecimalOdds(american int64) (DecimalOdds, error) {
	switch {
	case american >= 100:
		a := decimal.NewFromInt(american)
		return DecimalOdds{num: a.Add(hundred), den: hundred}, nil
	case american <= -100:
		a := decimal.NewFromInt(-american)
		return DecimalOdds{num: a.Add(hundred), den: a}, nil
	default:
		return DecimalOdds{}, fmt.Errorf("%w: got %d", ErrInvalidOdds, american)
	}
}

// ToAmericanOdds converts decimal odds to the nearest whole American price.
// Decimal odds of 2.0 and above map to positive prices.
func ToAmericanOdds(o DecimalOdds) (int64, error) {
	if !o.valid() {
		return 0, ErrGuaranteedLoss
	}
	profit := o.num.Sub(o.den)
	if o.num.GreaterThanOrEqual(o.den.Mul(decimal.NewFromInt(2))) {
		return profit.Mul(hundred).DivRound(o.den, 0).IntPart(), nil
	}
	return o.den.Mul(hundred).DivRound(profit, 0).Neg().IntPart(), nil
}

// CombineParlay multiplies the legs' decimal odds.
func CombineParlay(legs []DecimalOdds) (DecimalOdds, error) {
	if len(legs) == 0 {
		return DecimalOdds{}, ErrNoLegs
	}
	combined := DecimalOdds{num: one, den: one}
	for i, leg := range legs {
		if !leg.valid() {
			return DecimalOdds{}, fmt.Errorf("leg %d: %w", i, ErrGuaranteedLoss)
		}
		combined.num = combined.num.Mul(leg.num)
		combined.den = combined.den.Mul(leg.den)
	}
	return combined, nil
}

// PayoutProfit returns the profit and total payout of a single bet.
func PayoutProfit(stake decimal.Decimal, american int64) (profit, total decimal.Decimal, err error) {
	if stake.IsNegative() {
		return decimal.Zero, decimal.Zero, ErrNegativeAmount
	}
	switch {
	case american >= 100:
		profit = stake.Mul(decimal.NewFromInt(american)).Div(hundred)
	case american <= -100:
		profit = stake.Mul(hundred).Div(decimal.NewFromInt(-american))
	default:
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: got %d", ErrInvalidOdds, american)
	}
	return profit, stake.Add(profit), nil
}

// ApplyMultiplier scales a payout.
func ApplyMultiplier(base, multiplier decimal.Decimal) (decimal.Decimal, error) {
	if multiplier.LessThan(one) {
		return decimal.Zero, ErrInvalidMultiplier
	}
	return base.Mul(multiplier), nil
}

// Split divides amount into an owner share floored to whole units and the
// remainder. The two parts always sum to amount.
func Split(amount, ownerShare decimal.Decimal) (owner, rest decimal.Decimal, err error) {
	if ownerShare.IsNegative() || ownerShare.GreaterThan(one) {
		return decimal.Zero, decimal.Zero, ErrInvalidShare
	}
	if amount.IsNegative() {
		return decimal.Zero, decimal.Zero, ErrNegativeAmount
	}
	owner = amount.Mul(ownerShare).Floor()
	return owner, amount.Sub(owner), nil
}

// NitroBoost returns 1 + 0.05 x passengers.
func NitroBoost(passengers int) decimal.Decimal {
	if passengers < 0 {
		passengers = 0
	}
	return one.Add(NitroStep.Mul(decimal.NewFromInt(int64(passengers))))
}

// ParlayPayout returns floor(stake x combined x multiplier) in whole units.
// The quotient is exact; nothing is rounded before the floor.
func ParlayPayout(stake decimal.Decimal, combined DecimalOdds, multiplier decimal.Decimal) (decimal.Decimal, error) {
	if !combined.valid() {
		return decimal.Zero, ErrGuaranteedLoss
	}
	if stake.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	if multiplier.LessThan(one) {
		return decimal.Zero, ErrInvalidMultiplier
	}
	q, _ := stake.Mul(multiplier).Mul(combined.num).QuoRem(combined.den, 0)
	return q, nil
}
