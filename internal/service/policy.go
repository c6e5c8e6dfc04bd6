package service

import (
	"time"

	"github.com/shopspring/decimal"

	"grit-ledger-api/pkg/odds"
)

// Policy holds the economy's fixed parameters.
type Policy struct {
	// WaiverWindow is how long a listing accepts sealed bids.
	WaiverWindow time.Duration

	// OwnerShare is the fraction of a winning bid paid to the listing owner.
	// The rest is burned.
	OwnerShare decimal.Decimal

	// MinRideStake is the floor for any squad ride stake.
	MinRideStake decimal.Decimal

	// MinRideOdds and MaxRideOdds bound a ride's combined American odds.
	MinRideOdds int64
	MaxRideOdds int64

	// MercyThreshold is the balance below which the commish will lend.
	MercyThreshold decimal.Decimal

	LoanPrincipal decimal.Decimal
	LoanRate      decimal.Decimal
	LoanTerm      time.Duration
}

// DefaultPolicy returns the standard economy parameters.
func DefaultPolicy() Policy {
	return Policy{
		WaiverWindow:   24 * time.Hour,
		OwnerShare:     odds.DefaultOwnerShare,
		MinRideStake:   decimal.NewFromInt(10),
		MinRideOdds:    150,
		MaxRideOdds:    2000,
		MercyThreshold: decimal.NewFromInt(100),
		LoanPrincipal:  decimal.NewFromInt(500),
		LoanRate:       decimal.RequireFromString("0.5"),
		LoanTerm:       7 * 24 * time.Hour,
	}
}

// Clock supplies the current instant to callers that have no request time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
