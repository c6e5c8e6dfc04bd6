package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"grit-ledger-api/internal/lock"
	"grit-ledger-api/internal/model"
	"grit-ledger-api/internal/repository"
	"grit-ledger-api/pkg/uid"
)

// Journal reasons.
const (
	ReasonGrant       = "grant"
	ReasonWaiverWin   = "waiver_win"
	ReasonWaiverSale  = "waiver_sale"
	ReasonWaiverBurn  = "waiver_burn"
	ReasonRideStake   = "ride_stake"
	ReasonRidePayout  = "ride_payout"
	ReasonRideForfeit = "ride_forfeit"
	ReasonLoanIssue   = "loan_issue"
	ReasonLoanRepay   = "loan_repay"
)

// base carries what every settlement service needs.
type base struct {
	store  repository.Store
	locker lock.Locker
	policy Policy
	logger *slog.Logger
}

func newBase(store repository.Store, locker lock.Locker, policy Policy, logger *slog.Logger, component string) base {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return base{
		store:  store,
		locker: locker,
		policy: policy,
		logger: logger.With("component", component),
	}
}

func (b *base) lock(ctx context.Context, keys ...string) (func(), error) {
	unlock, err := b.locker.Lock(ctx, keys...)
	if err != nil {
		return nil, ErrConflict.with("could not lock %v: %v", keys, err)
	}
	return unlock, nil
}

// journal collects ledger entries for one operation. Every movement is
// written twice, once against the player and once against the commish, so
// the journal always sums to zero.
type journal struct {
	ref     string
	now     time.Time
	entries []model.LedgerEntry
}

func newJournal(ref string, now time.Time) *journal {
	return &journal{ref: ref, now: now}
}

func (j *journal) add(playerID string, delta decimal.Decimal, reason string) {
	if delta.IsZero() {
		return
	}
	j.entries = append(j.entries, model.LedgerEntry{
		ID:        uid.New(),
		PlayerID:  playerID,
		Delta:     delta,
		Reason:    reason,
		Reference: j.ref,
		CreatedAt: j.now,
	})
}

// move records delta for the player and -delta for the commish.
func (j *journal) move(playerID string, delta decimal.Decimal, reason string) {
	j.add(playerID, delta, reason)
	j.add(model.SystemAccount, delta.Neg(), reason)
}

func (j *journal) flush(ctx context.Context, tx repository.Tx) error {
	if len(j.entries) == 0 {
		return nil
	}
	return tx.AppendEntries(ctx, j.entries...)
}

func getPlayer(ctx context.Context, tx repository.Tx, id string) (*model.Player, error) {
	p, err := tx.GetPlayer(ctx, id)
	if err != nil {
		return nil, storeErr(err, "player "+id)
	}
	return p, nil
}

func savePlayer(ctx context.Context, tx repository.Tx, p *model.Player) error {
	if p.Grit.IsNegative() || p.LockedGrit.IsNegative() || p.LockedGrit.GreaterThan(p.Grit) {
		return ErrInvariant.with("player %s balance would become grit=%s locked=%s", p.ID, p.Grit, p.LockedGrit)
	}
	return storeErr(tx.UpdatePlayer(ctx, p), "player "+p.ID)
}

func requireID(name, id string) error {
	if id == "" {
		return ErrInvalidArgument.with("%s is required", name)
	}
	return nil
}
