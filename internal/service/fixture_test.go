package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"grit-ledger-api/internal/lock"
	"grit-ledger-api/internal/model"
	"grit-ledger-api/internal/repository"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ctx     context.Context
	store   *repository.MemoryStore
	locker  *lock.KeyedMutex
	wallet  *WalletService
	auction *AuctionService
	barter  *BarterService
	squad   *SquadService
	loans   *LoanService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	locker := lock.NewKeyedMutex()
	policy := DefaultPolicy()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		ctx:     context.Background(),
		store:   store,
		locker:  locker,
		wallet:  NewWalletService(store, locker, policy, logger),
		auction: NewAuctionService(store, locker, policy, logger),
		barter:  NewBarterService(store, locker, policy, logger),
		squad:   NewSquadService(store, locker, policy, logger),
		loans:   NewLoanService(store, locker, policy, logger),
	}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) player(t *testing.T, name, grit string) string {
	t.Helper()
	p, err := f.wallet.RegisterPlayer(f.ctx, name, d(grit), t0)
	if err != nil {
		t.Fatalf("RegisterPlayer(%s): %v", name, err)
	}
	return p.ID
}

func (f *fixture) item(t *testing.T, ownerID, name string) string {
	t.Helper()
	item, err := f.wallet.MintItem(f.ctx, ownerID, name, model.RarityRare, t0)
	if err != nil {
		t.Fatalf("MintItem(%s): %v", name, err)
	}
	return item.ID
}

func (f *fixture) state(t *testing.T, playerID string) *model.PlayerState {
	t.Helper()
	s, err := f.wallet.GetPlayer(f.ctx, playerID)
	if err != nil {
		t.Fatalf("GetPlayer(%s): %v", playerID, err)
	}
	return s
}

func (f *fixture) grit(t *testing.T, playerID string) decimal.Decimal {
	t.Helper()
	return f.state(t, playerID).Grit
}

func (f *fixture) owner(t *testing.T, itemID string) string {
	t.Helper()
	var owner string
	err := f.store.Atomic(f.ctx, func(tx repository.Tx) error {
		item, err := tx.GetItem(f.ctx, itemID)
		if err != nil {
			return err
		}
		owner = item.OwnerID
		return nil
	})
	if err != nil {
		t.Fatalf("GetItem(%s): %v", itemID, err)
	}
	return owner
}

// checkJournal verifies every player's balance equals the sum of their
// journal entries and that the journal as a whole sums to zero.
func (f *fixture) checkJournal(t *testing.T, playerIDs ...string) {
	t.Helper()
	total := decimal.Zero
	for _, id := range append([]string{model.SystemAccount}, playerIDs...) {
		entries, err := f.wallet.Journal(f.ctx, id, MaxJournalLimit)
		if err != nil {
			t.Fatalf("Journal(%s): %v", id, err)
		}
		sum := decimal.Zero
		for _, e := range entries {
			sum = sum.Add(e.Delta)
		}
		total = total.Add(sum)
		if id == model.SystemAccount {
			continue
		}
		if g := f.grit(t, id); !g.Equal(sum) {
			t.Errorf("player %s grit = %s, journal sum = %s", id, g, sum)
		}
	}
	if !total.IsZero() {
		t.Errorf("journal total = %s, want 0", total)
	}
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("err = %v, want %v", err, target)
	}
}

func wantGrit(t *testing.T, f *fixture, playerID, want string) {
	t.Helper()
	if got := f.grit(t, playerID); !got.Equal(d(want)) {
		t.Errorf("grit(%s) = %s, want %s", playerID, got, want)
	}
}
