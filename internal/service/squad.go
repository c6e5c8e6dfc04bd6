package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"grit-ledger-api/internal/lock"
	"grit-ledger-api/internal/model"
	"grit-ledger-api/internal/repository"
	"grit-ledger-api/pkg/odds"
	"grit-ledger-api/pkg/uid"
)

// SquadService runs Squad Rides: a three-leg parlay that other players can
// join. Each passenger's stake is held until settlement. Every passenger
// raises the Nitro Boost multiplier applied to a winning payout.
type SquadService struct {
	base
}

// NewSquadService creates a new squad ride service.
func NewSquadService(store repository.Store, locker lock.Locker, policy Policy, logger *slog.Logger) *SquadService {
	return &SquadService{base: newBase(store, locker, policy, logger, "squad")}
}

func rideKey(rideID string) string { return "ride:" + rideID }

// LegInput is one pick of a new ride.
type LegInput struct {
	GameID       string `json:"game_id"`
	Pick         string `json:"pick"`
	AmericanOdds int64  `json:"american_odds"`
}

// CreateRideInput is the input to CreateRide.
type CreateRideInput struct {
	DriverID string          `json:"driver_id"`
	Legs     []LegInput      `json:"legs"`
	Stake    decimal.Decimal `json:"stake"`
	// MinStake raises the floor for passengers. Zero uses the policy minimum.
	MinStake decimal.Decimal `json:"min_stake"`
}

// combinedOdds prices the legs as one parlay.
func combinedOdds(legs []model.ParlayLeg) (odds.DecimalOdds, error) {
	prices := make([]odds.DecimalOdds, 0, len(legs))
	for i, leg := range legs {
		d, err := odds.ToDecimalOdds(leg.AmericanOdds)
		if err != nil {
			return odds.DecimalOdds{}, ErrInvalidLegs.with("leg %d: %v", i, err)
		}
		prices = append(prices, d)
	}
	combined, err := odds.CombineParlay(prices)
	if err != nil {
		return odds.DecimalOdds{}, ErrInvalidLegs.with("%v", err)
	}
	return combined, nil
}

// CreateRide opens a ride with the driver as its first passenger.
func (s *SquadService) CreateRide(ctx context.Context, in CreateRideInput, now time.Time) (*model.SquadRide, error) {
	if err := requireID("driver_id", in.DriverID); err != nil {
		return nil, err
	}
	if len(in.Legs) != model.RideLegCount {
		return nil, ErrInvalidLegs.with("a ride needs exactly %d legs, got %d", model.RideLegCount, len(in.Legs))
	}

	legs := make([]model.ParlayLeg, 0, len(in.Legs))
	games := make(map[string]bool)
	for i, l := range in.Legs {
		if l.GameID == "" || l.Pick == "" {
			return nil, ErrInvalidLegs.with("leg %d needs a game_id and a pick", i)
		}
		if games[l.GameID] {
			return nil, ErrInvalidLegs.with("game %s appears in more than one leg", l.GameID)
		}
		games[l.GameID] = true
		legs = append(legs, model.ParlayLeg{
			GameID:       l.GameID,
			Pick:         l.Pick,
			AmericanOdds: l.AmericanOdds,
			Status:       model.LegPending,
		})
	}

	combined, err := combinedOdds(legs)
	if err != nil {
		return nil, err
	}
	american, err := odds.ToAmericanOdds(combined)
	if err != nil {
		return nil, ErrInvalidLegs.with("%v", err)
	}
	if american < s.policy.MinRideOdds || american > s.policy.MaxRideOdds {
		return nil, ErrOddsOutOfRange.with("combined odds %+d outside %+d..%+d", american, s.policy.MinRideOdds, s.policy.MaxRideOdds)
	}

	if !in.Stake.IsPositive() {
		return nil, ErrInvalidAmount.with("stake must be positive, got %s", in.Stake)
	}
	minStake := s.policy.MinRideStake
	if in.MinStake.GreaterThan(minStake) {
		minStake = in.MinStake
	}
	if in.Stake.LessThan(minStake) {
		return nil, ErrStakeTooLow.with("stake %s below minimum %s", in.Stake, minStake)
	}

	ride := &model.SquadRide{
		ID:       uid.New(),
		DriverID: in.DriverID,
		Legs:     legs,
		Passengers: []model.Passenger{{
			PlayerID: in.DriverID,
			Stake:    in.Stake,
			JoinedAt: now,
			IsDriver: true,
		}},
		MinStake:             minStake,
		CombinedAmericanOdds: american,
		NitroBoostMultiplier: odds.NitroBoost(1),
		Status:               model.RideOpen,
		CreatedAt:            now,
	}

	err = s.store.Atomic(ctx, func(tx repository.Tx) error {
		driver, err := getPlayer(ctx, tx, in.DriverID)
		if err != nil {
			return err
		}
		if err := hold(driver, in.Stake); err != nil {
			return err
		}
		if err := savePlayer(ctx, tx, driver); err != nil {
			return err
		}
		return storeErr(tx.InsertRide(ctx, ride), "ride")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("ride created", "ride_id", ride.ID, "driver_id", in.DriverID, "odds", american, "stake", in.Stake)
	return ride, nil
}

// hold moves stake from a player's available grit into escrow.
func hold(p *model.Player, stake decimal.Decimal) error {
	if p.Available().LessThan(stake) {
		return ErrInsufficientFunds.with("stake %s exceeds available grit %s", stake, p.Available())
	}
	p.LockedGrit = p.LockedGrit.Add(stake)
	return nil
}

// JoinRide adds a passenger to an open ride and raises its Nitro Boost.
func (s *SquadService) JoinRide(ctx context.Context, rideID, playerID string, stake decimal.Decimal, now time.Time) (*model.SquadRide, error) {
	if err := requireID("ride_id", rideID); err != nil {
		return nil, err
	}
	if err := requireID("player_id", playerID); err != nil {
		return nil, err
	}
	if !stake.IsPositive() {
		return nil, ErrInvalidAmount.with("stake must be positive, got %s", stake)
	}

	unlock, err := s.lock(ctx, rideKey(rideID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var ride *model.SquadRide
	err = s.store.Atomic(ctx, func(tx repository.Tx) error {
		var err error
		ride, err = tx.GetRide(ctx, rideID)
		if err != nil {
			return storeErr(err, "ride "+rideID)
		}
		if ride.Status != model.RideOpen {
			return ErrRideClosed.with("ride %s is %s", rideID, ride.Status)
		}
		if ride.HasPassenger(playerID) {
			return ErrAlreadyRiding.with("player %s already rides %s", playerID, rideID)
		}
		if stake.LessThan(ride.MinStake) {
			return ErrStakeTooLow.with("stake %s below ride minimum %s", stake, ride.MinStake)
		}

		p, err := getPlayer(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if err := hold(p, stake); err != nil {
			return err
		}
		if err := savePlayer(ctx, tx, p); err != nil {
			return err
		}

		ride.Passengers = append(ride.Passengers, model.Passenger{
			PlayerID: playerID,
			Stake:    stake,
			JoinedAt: now,
		})
		ride.NitroBoostMultiplier = odds.NitroBoost(len(ride.Passengers))
		return storeErr(tx.UpdateRide(ctx, ride), "ride "+rideID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("ride joined", "ride_id", rideID, "player_id", playerID, "passengers", len(ride.Passengers), "nitro", ride.NitroBoostMultiplier)
	return ride, nil
}

// ResolveLeg records the result of one leg. A lost leg fails the ride at
// once; when every leg has won the ride completes.
func (s *SquadService) ResolveLeg(ctx context.Context, rideID string, legIndex int, outcome model.LegStatus) (*model.SquadRide, error) {
	if err := requireID("ride_id", rideID); err != nil {
		return nil, err
	}
	if outcome != model.LegWon && outcome != model.LegLost {
		return nil, ErrInvalidOutcome.with("leg outcome must be won or lost, got %q", outcome)
	}

	unlock, err := s.lock(ctx, rideKey(rideID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var ride *model.SquadRide
	err = s.store.Atomic(ctx, func(tx repository.Tx) error {
		var err error
		ride, err = tx.GetRide(ctx, rideID)
		if err != nil {
			return storeErr(err, "ride "+rideID)
		}
		if legIndex < 0 || legIndex >= len(ride.Legs) {
			return ErrInvalidArgument.with("leg index %d out of range", legIndex)
		}
		if ride.Status != model.RideOpen {
			return ErrRideClosed.with("ride %s is %s", rideID, ride.Status)
		}
		if ride.Legs[legIndex].Status != model.LegPending {
			return ErrLegAlreadyResolved.with("leg %d is already %s", legIndex, ride.Legs[legIndex].Status)
		}

		ride.Legs[legIndex].Status = outcome
		ride.Status = rideStatus(ride.Legs)
		return storeErr(tx.UpdateRide(ctx, ride), "ride "+rideID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("leg resolved", "ride_id", rideID, "leg", legIndex, "outcome", outcome, "status", ride.Status)
	return ride, nil
}

func rideStatus(legs []model.ParlayLeg) model.RideStatus {
	won := 0
	for _, l := range legs {
		switch l.Status {
		case model.LegLost:
			return model.RideFailed
		case model.LegWon:
			won++
		}
	}
	if won == len(legs) {
		return model.RideCompleted
	}
	return model.RideOpen
}

// SettleRide releases every stake exactly once. On a completed ride each
// passenger is paid floor(stake x combined odds x nitro). On a failed ride
// every stake is forfeited and the driver is marked.
func (s *SquadService) SettleRide(ctx context.Context, rideID string, now time.Time) (*model.RideSettlement, error) {
	if err := requireID("ride_id", rideID); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, rideKey(rideID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *model.RideSettlement
	err = s.store.Atomic(ctx, func(tx repository.Tx) error {
		ride, err := tx.GetRide(ctx, rideID)
		if err != nil {
			return storeErr(err, "ride "+rideID)
		}
		if ride.Settled {
			return ErrAlreadySettled
		}
		if ride.Status == model.RideOpen {
			return ErrRideNotFinal
		}

		combined, err := combinedOdds(ride.Legs)
		if err != nil {
			return ErrInvariant.with("stored legs unpriceable: %v", err)
		}
		nitro := odds.NitroBoost(len(ride.Passengers))

		out = &model.RideSettlement{Forfeit: decimal.Zero, PaidOut: decimal.Zero}
		j := newJournal(ride.ID, now)
		for _, pass := range ride.Passengers {
			p, err := getPlayer(ctx, tx, pass.PlayerID)
			if err != nil {
				return err
			}
			if p.LockedGrit.LessThan(pass.Stake) {
				return ErrInvariant.with("player %s holds %s locked, stake %s", p.ID, p.LockedGrit, pass.Stake)
			}
			p.LockedGrit = p.LockedGrit.Sub(pass.Stake)
			p.Grit = p.Grit.Sub(pass.Stake)
			if ride.Status == model.RideCompleted {
				j.move(p.ID, pass.Stake.Neg(), ReasonRideStake)
			} else {
				j.move(p.ID, pass.Stake.Neg(), ReasonRideForfeit)
			}

			payout := model.PassengerPayout{PlayerID: p.ID, Stake: pass.Stake, Payout: decimal.Zero}
			if ride.Status == model.RideCompleted {
				amount, err := odds.ParlayPayout(pass.Stake, combined, nitro)
				if err != nil {
					return ErrInvariant.with("payout for %s: %v", p.ID, err)
				}
				p.Grit = p.Grit.Add(amount)
				j.move(p.ID, amount, ReasonRidePayout)
				payout.Payout = amount
				out.PaidOut = out.PaidOut.Add(amount)
			} else {
				out.Forfeit = out.Forfeit.Add(pass.Stake)
				payout.FailureMarker = pass.IsDriver
			}
			if err := savePlayer(ctx, tx, p); err != nil {
				return err
			}
			out.Payouts = append(out.Payouts, payout)
		}
		if err := j.flush(ctx, tx); err != nil {
			return storeErr(err, "journal")
		}

		settledAt := now
		ride.Settled = true
		ride.SettledAt = &settledAt
		ride.NitroBoostMultiplier = nitro
		if err := tx.UpdateRide(ctx, ride); err != nil {
			return storeErr(err, "ride "+rideID)
		}
		out.Ride = *ride
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("ride settled",
		"ride_id", rideID,
		"status", out.Ride.Status,
		"passengers", len(out.Payouts),
		"paid_out", out.PaidOut,
		"forfeit", out.Forfeit,
	)
	return out, nil
}

// GetRide returns a ride by id.
func (s *SquadService) GetRide(ctx context.Context, rideID string) (*model.SquadRide, error) {
	var ride *model.SquadRide
	err := s.store.Atomic(ctx, func(tx repository.Tx) error {
		var err error
		ride, err = tx.GetRide(ctx, rideID)
		return storeErr(err, "ride "+rideID)
	})
	return ride, err
}
