package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RideStatus is the state of a squad ride.
type RideStatus string

const (
	RideOpen      RideStatus = "open"
	RideCompleted RideStatus = "completed"
	RideFailed    RideStatus = "failed"
)

// LegStatus is the outcome of one parlay leg.
type LegStatus string

const (
	LegPending LegStatus = "pending"
	LegWon     LegStatus = "won"
	LegLost    LegStatus = "lost"
)

// RideLegCount is the fixed number of legs in a squad ride.
const RideLegCount = 3

// ParlayLeg is one pick in a squad ride.
type ParlayLeg struct {
	GameID       string    `json:"game_id"`
	Pick         string    `json:"pick"`
	AmericanOdds int64     `json:"american_odds"`
	Status       LegStatus `json:"status"`
}

// Passenger is a player with grit escrowed in a ride.
type Passenger struct {
	PlayerID string          `json:"player_id"`
	Stake    decimal.Decimal `json:"stake"`
	JoinedAt time.Time       `json:"joined_at"`
	IsDriver bool            `json:"is_driver"`
}

// SquadRide is a co-operative three-leg parlay.
type SquadRide struct {
	ID                   string          `json:"id"`
	DriverID             string          `json:"driver_id"`
	Legs                 []ParlayLeg     `json:"legs"`
	Passengers           []Passenger     `json:"passengers"`
	MinStake             decimal.Decimal `json:"min_stake"`
	CombinedAmericanOdds int64           `json:"combined_american_odds"`
	NitroBoostMultiplier decimal.Decimal `json:"nitro_boost_multiplier"`
	Status               RideStatus      `json:"status"`
	Settled              bool            `json:"settled"`
	SettledAt            *time.Time      `json:"settled_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// HasPassenger reports whether playerID already rides.
func (r *SquadRide) HasPassenger(playerID string) bool {
	for _, p := range r.Passengers {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}

// PassengerPayout is one line of a ride settlement statement.
type PassengerPayout struct {
	PlayerID      string          `json:"player_id"`
	Stake         decimal.Decimal `json:"stake"`
	Payout        decimal.Decimal `json:"payout"`
	FailureMarker bool            `json:"failure_marker,omitempty"`
}

// RideSettlement is returned once a ride has been settled.
type RideSettlement struct {
	Ride    SquadRide         `json:"ride"`
	Payouts []PassengerPayout `json:"payouts"`
	Forfeit decimal.Decimal   `json:"forfeit"`
	PaidOut decimal.Decimal   `json:"paid_out"`
}
