package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"grit-ledger-api/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// eachStore runs fn against a fresh memory store and a fresh SQLite file.
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), nil)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func atomic(t *testing.T, s Store, fn func(tx Tx) error) {
	t.Helper()
	if err := s.Atomic(context.Background(), fn); err != nil {
		t.Fatal(err)
	}
}

func newPlayer(id, grit string) *model.Player {
	return &model.Player{ID: id, Name: id, Grit: decimal.RequireFromString(grit), CreatedAt: t0}
}

func TestPlayerOptimisticVersion(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		atomic(t, s, func(tx Tx) error { return tx.InsertPlayer(ctx, newPlayer("p1", "100.25")) })

		var stale *model.Player
		atomic(t, s, func(tx Tx) error {
			p, err := tx.GetPlayer(ctx, "p1")
			if err != nil {
				return err
			}
			stale = p
			cp := *p
			cp.Grit = cp.Grit.Add(decimal.NewFromInt(1))
			cp.LockedGrit = decimal.RequireFromString("0.5")
			return tx.UpdatePlayer(ctx, &cp)
		})

		err := s.Atomic(ctx, func(tx Tx) error { return tx.UpdatePlayer(ctx, stale) })
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("stale update err = %v, want ErrConflict", err)
		}

		atomic(t, s, func(tx Tx) error {
			p, err := tx.GetPlayer(ctx, "p1")
			if err != nil {
				return err
			}
			if p.Version != 1 || !p.Grit.Equal(decimal.RequireFromString("101.25")) || !p.LockedGrit.Equal(decimal.RequireFromString("0.5")) {
				t.Errorf("player = %+v", p)
			}
			if !p.CreatedAt.Equal(t0) {
				t.Errorf("created_at = %s", p.CreatedAt)
			}
			return nil
		})

		err = s.Atomic(ctx, func(tx Tx) error {
			_, err := tx.GetPlayer(ctx, "nobody")
			return err
		})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("missing player err = %v, want ErrNotFound", err)
		}
	})
}

func TestAtomicRollback(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		boom := errors.New("boom")

		err := s.Atomic(ctx, func(tx Tx) error {
			if err := tx.InsertPlayer(ctx, newPlayer("ghost", "5")); err != nil {
				return err
			}
			if err := tx.AppendEntries(ctx, model.LedgerEntry{ID: "e1", PlayerID: "ghost", Delta: decimal.NewFromInt(5), Reason: "grant", CreatedAt: t0}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v", err)
		}

		atomic(t, s, func(tx Tx) error {
			if _, err := tx.GetPlayer(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
				t.Errorf("rolled back player visible: %v", err)
			}
			entries, err := tx.ListEntries(ctx, "ghost", 10)
			if err != nil {
				return err
			}
			if len(entries) != 0 {
				t.Errorf("rolled back entries visible: %d", len(entries))
			}
			return nil
		})
	})
}

func TestAtomicRollbackRestoresWrites(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		listing := &model.WaiverListing{ID: "w1", ItemID: "i1", OwnerID: "a", ListedAt: t0, ExpiresAt: t0.Add(time.Hour), Status: model.ListingActive}
		atomic(t, s, func(tx Tx) error {
			if err := tx.InsertPlayer(ctx, newPlayer("a", "10")); err != nil {
				return err
			}
			if err := tx.InsertItem(ctx, &model.Item{ID: "i1", Name: "Card", Rarity: model.RarityRare, OwnerID: "a", CreatedAt: t0}); err != nil {
				return err
			}
			if err := tx.InsertListing(ctx, listing); err != nil {
				return err
			}
			if err := tx.InsertBid(ctx, &model.WaiverBid{ID: "b1", ListingID: "w1", BidderID: "b", Amount: decimal.NewFromInt(3), PlacedAt: t0, Outcome: model.BidSealed}); err != nil {
				return err
			}
			return tx.AppendEntries(ctx, model.LedgerEntry{ID: "e1", PlayerID: "a", Delta: decimal.NewFromInt(10), Reason: "grant", CreatedAt: t0})
		})

		boom := errors.New("boom")
		err := s.Atomic(ctx, func(tx Tx) error {
			p, err := tx.GetPlayer(ctx, "a")
			if err != nil {
				return err
			}
			p.Grit = decimal.Zero
			if err := tx.UpdatePlayer(ctx, p); err != nil {
				return err
			}
			if err := tx.TransferItem(ctx, "i1", "a", "b"); err != nil {
				return err
			}
			if err := tx.InsertBid(ctx, &model.WaiverBid{ID: "b2", ListingID: "w1", BidderID: "c", Amount: decimal.NewFromInt(4), PlacedAt: t0.Add(time.Second), Outcome: model.BidSealed}); err != nil {
				return err
			}
			if err := tx.SetBidOutcomes(ctx, "w1", "b1"); err != nil {
				return err
			}
			l := *listing
			l.Status = model.ListingResolved
			if err := tx.UpdateListing(ctx, &l); err != nil {
				return err
			}
			if err := tx.AppendEntries(ctx, model.LedgerEntry{ID: "e2", PlayerID: "a", Delta: decimal.NewFromInt(-10), Reason: "grant", CreatedAt: t0}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v", err)
		}

		atomic(t, s, func(tx Tx) error {
			p, err := tx.GetPlayer(ctx, "a")
			if err != nil {
				return err
			}
			if !p.Grit.Equal(decimal.NewFromInt(10)) || p.Version != 0 {
				t.Errorf("player = %+v, want grit 10 version 0", p)
			}
			item, err := tx.GetItem(ctx, "i1")
			if err != nil {
				return err
			}
			if item.OwnerID != "a" {
				t.Errorf("item owner = %s, want a", item.OwnerID)
			}
			l, err := tx.GetListing(ctx, "w1")
			if err != nil {
				return err
			}
			if l.Status != model.ListingActive {
				t.Errorf("listing status = %s", l.Status)
			}
			bids, err := tx.RevealBids(ctx, "w1")
			if err != nil {
				return err
			}
			if len(bids) != 1 || bids[0].Outcome != model.BidSealed {
				t.Errorf("bids = %+v, want one sealed bid", bids)
			}
			entries, err := tx.ListEntries(ctx, "a", 10)
			if err != nil {
				return err
			}
			if len(entries) != 1 || entries[0].ID != "e1" {
				t.Errorf("entries = %+v", entries)
			}
			return nil
		})
	})
}

func TestTransferItemIsConditional(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		atomic(t, s, func(tx Tx) error {
			for _, it := range []model.Item{
				{ID: "i1", Name: "Card", Rarity: model.RarityEpic, OwnerID: "a", CreatedAt: t0},
				{ID: "i2", Name: "Jersey", Rarity: model.RarityCommon, OwnerID: "a", CreatedAt: t0.Add(time.Second)},
			} {
				it := it
				if err := tx.InsertItem(ctx, &it); err != nil {
					return err
				}
			}
			return nil
		})

		err := s.Atomic(ctx, func(tx Tx) error { return tx.TransferItem(ctx, "i1", "b", "c") })
		if !errors.Is(err, ErrConflict) {
			t.Errorf("transfer from non-owner err = %v, want ErrConflict", err)
		}

		atomic(t, s, func(tx Tx) error { return tx.TransferItem(ctx, "i1", "a", "b") })
		atomic(t, s, func(tx Tx) error {
			a, err := tx.ListItemsByOwner(ctx, "a")
			if err != nil {
				return err
			}
			b, err := tx.ListItemsByOwner(ctx, "b")
			if err != nil {
				return err
			}
			if len(a) != 1 || a[0].ID != "i2" || len(b) != 1 || b[0].ID != "i1" || b[0].Rarity != model.RarityEpic {
				t.Errorf("a = %+v, b = %+v", a, b)
			}
			return nil
		})
	})
}

func TestListingsAndBids(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		atomic(t, s, func(tx Tx) error {
			for _, l := range []model.WaiverListing{
				{ID: "l1", ItemID: "i1", OwnerID: "o", ListedAt: t0, ExpiresAt: t0.Add(time.Hour), Status: model.ListingActive},
				{ID: "l2", ItemID: "i2", OwnerID: "o", ListedAt: t0, ExpiresAt: t0.Add(3 * time.Hour), Status: model.ListingActive},
			} {
				l := l
				if err := tx.InsertListing(ctx, &l); err != nil {
					return err
				}
			}
			// Same instant for two bids: placement order breaks the tie.
			for _, b := range []model.WaiverBid{
				{ID: "b-late", ListingID: "l1", BidderID: "y", Amount: decimal.NewFromInt(40), PlacedAt: t0.Add(2 * time.Minute), Outcome: model.BidSealed},
				{ID: "b-first", ListingID: "l1", BidderID: "x", Amount: decimal.NewFromInt(40), PlacedAt: t0.Add(time.Minute), Outcome: model.BidSealed},
				{ID: "b-second", ListingID: "l1", BidderID: "z", Amount: decimal.RequireFromString("39.99"), PlacedAt: t0.Add(time.Minute), Outcome: model.BidSealed},
			} {
				b := b
				if err := tx.InsertBid(ctx, &b); err != nil {
					return err
				}
			}
			return nil
		})

		atomic(t, s, func(tx Tx) error {
			active, err := tx.GetActiveListingByItem(ctx, "i1")
			if err != nil {
				return err
			}
			if active.ID != "l1" {
				t.Errorf("active listing = %s", active.ID)
			}
			expired, err := tx.ListExpiredListings(ctx, t0.Add(time.Hour))
			if err != nil {
				return err
			}
			if len(expired) != 1 || expired[0].ID != "l1" {
				t.Errorf("expired = %+v", expired)
			}
			n, err := tx.CountBids(ctx, "l1")
			if err != nil {
				return err
			}
			if n != 3 {
				t.Errorf("bids = %d", n)
			}
			bids, err := tx.RevealBids(ctx, "l1")
			if err != nil {
				return err
			}
			var order []string
			for _, b := range bids {
				order = append(order, b.ID)
			}
			if len(order) != 3 || order[0] != "b-first" || order[1] != "b-second" || order[2] != "b-late" {
				t.Errorf("reveal order = %v", order)
			}
			if !bids[1].Amount.Equal(decimal.RequireFromString("39.99")) {
				t.Errorf("amount = %s", bids[1].Amount)
			}
			return tx.SetBidOutcomes(ctx, "l1", "b-first")
		})

		atomic(t, s, func(tx Tx) error {
			bids, err := tx.RevealBids(ctx, "l1")
			if err != nil {
				return err
			}
			for _, b := range bids {
				want := model.BidLost
				if b.ID == "b-first" {
					want = model.BidWon
				}
				if b.Outcome != want {
					t.Errorf("%s outcome = %s, want %s", b.ID, b.Outcome, want)
				}
			}

			l, err := tx.GetListing(ctx, "l1")
			if err != nil {
				return err
			}
			resolved := t0.Add(2 * time.Hour)
			l.Status = model.ListingResolved
			l.WinningBidID = "b-first"
			l.ResolvedAt = &resolved
			return tx.UpdateListing(ctx, l)
		})

		atomic(t, s, func(tx Tx) error {
			if _, err := tx.GetActiveListingByItem(ctx, "i1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("resolved listing still active: %v", err)
			}
			l, err := tx.GetListing(ctx, "l1")
			if err != nil {
				return err
			}
			if l.ResolvedAt == nil || !l.ResolvedAt.Equal(t0.Add(2*time.Hour)) || l.WinningBidID != "b-first" {
				t.Errorf("listing = %+v", l)
			}
			return nil
		})
	})
}

func TestTradeAndRideRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		trade := &model.MultiItemTrade{
			ID: "t1", ProposerID: "a", RecipientID: "b",
			OfferedItemIDs: []string{"i1", "i2"}, RequestedItemIDs: []string{"i3"},
			Status: model.TradePending, CreatedAt: t0, UpdatedAt: t0,
		}
		ride := &model.SquadRide{
			ID:       "r1",
			DriverID: "a",
			Legs: []model.ParlayLeg{
				{GameID: "g1", Pick: "home", AmericanOdds: 120, Status: model.LegWon},
				{GameID: "g2", Pick: "away", AmericanOdds: 150, Status: model.LegPending},
				{GameID: "g3", Pick: "over", AmericanOdds: -110, Status: model.LegPending},
			},
			Passengers:           []model.Passenger{{PlayerID: "a", Stake: decimal.NewFromInt(100), JoinedAt: t0, IsDriver: true}},
			MinStake:             decimal.NewFromInt(10),
			CombinedAmericanOdds: 950,
			NitroBoostMultiplier: decimal.RequireFromString("1.05"),
			Status:               model.RideOpen,
			CreatedAt:            t0,
		}
		atomic(t, s, func(tx Tx) error {
			if err := tx.InsertTrade(ctx, trade); err != nil {
				return err
			}
			return tx.InsertRide(ctx, ride)
		})

		atomic(t, s, func(tx Tx) error {
			tr, err := tx.GetTrade(ctx, "t1")
			if err != nil {
				return err
			}
			if len(tr.OfferedItemIDs) != 2 || tr.RequestedItemIDs[0] != "i3" {
				t.Errorf("trade = %+v", tr)
			}
			tr.Status = model.TradeAccepted
			tr.UpdatedAt = t0.Add(time.Minute)
			if err := tx.UpdateTrade(ctx, tr); err != nil {
				return err
			}

			r, err := tx.GetRide(ctx, "r1")
			if err != nil {
				return err
			}
			if len(r.Legs) != 3 || r.Legs[0].Status != model.LegWon || !r.Passengers[0].IsDriver {
				t.Errorf("ride = %+v", r)
			}
			settled := t0.Add(time.Hour)
			r.Status = model.RideFailed
			r.Settled = true
			r.SettledAt = &settled
			return tx.UpdateRide(ctx, r)
		})

		atomic(t, s, func(tx Tx) error {
			tr, err := tx.GetTrade(ctx, "t1")
			if err != nil {
				return err
			}
			if tr.Status != model.TradeAccepted || !tr.UpdatedAt.Equal(t0.Add(time.Minute)) {
				t.Errorf("trade after update = %+v", tr)
			}
			r, err := tx.GetRide(ctx, "r1")
			if err != nil {
				return err
			}
			if !r.Settled || r.SettledAt == nil || r.Status != model.RideFailed || !r.NitroBoostMultiplier.Equal(decimal.RequireFromString("1.05")) {
				t.Errorf("ride after update = %+v", r)
			}
			return nil
		})
	})
}

func TestLoansAndJournal(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		atomic(t, s, func(tx Tx) error {
			for _, l := range []model.CommishLoan{
				{ID: "due", BorrowerID: "a", Principal: decimal.NewFromInt(500), InterestRate: decimal.RequireFromString("0.5"), TotalOwed: decimal.NewFromInt(750), IssuedAt: t0, DueDate: t0.Add(time.Hour)},
				{ID: "later", BorrowerID: "b", Principal: decimal.NewFromInt(500), InterestRate: decimal.RequireFromString("0.5"), TotalOwed: decimal.NewFromInt(750), IssuedAt: t0, DueDate: t0.Add(48 * time.Hour)},
			} {
				l := l
				if err := tx.InsertLoan(ctx, &l); err != nil {
					return err
				}
			}
			return tx.AppendEntries(ctx,
				model.LedgerEntry{ID: "e1", PlayerID: "a", Delta: decimal.NewFromInt(500), Reason: "loan_issue", Reference: "due", CreatedAt: t0},
				model.LedgerEntry{ID: "e2", PlayerID: model.SystemAccount, Delta: decimal.NewFromInt(-500), Reason: "loan_issue", Reference: "due", CreatedAt: t0},
				model.LedgerEntry{ID: "e3", PlayerID: "a", Delta: decimal.RequireFromString("-0.01"), Reason: "fee", Reference: "x", CreatedAt: t0.Add(time.Minute)},
			)
		})

		atomic(t, s, func(tx Tx) error {
			active, err := tx.GetActiveLoanByBorrower(ctx, "a")
			if err != nil {
				return err
			}
			if active.ID != "due" || !active.TotalOwed.Equal(decimal.NewFromInt(750)) {
				t.Errorf("active = %+v", active)
			}
			past, err := tx.ListLoansPastDue(ctx, t0.Add(2*time.Hour))
			if err != nil {
				return err
			}
			if len(past) != 1 || past[0].ID != "due" {
				t.Errorf("past due = %+v", past)
			}

			defaulted := t0.Add(2 * time.Hour)
			active.IsDefaulted = true
			active.DefaultedAt = &defaulted
			if err := tx.UpdateLoan(ctx, active); err != nil {
				return err
			}

			entries, err := tx.ListEntries(ctx, "a", 1)
			if err != nil {
				return err
			}
			if len(entries) != 1 || entries[0].ID != "e3" || !entries[0].Delta.Equal(decimal.RequireFromString("-0.01")) {
				t.Errorf("latest entry = %+v", entries)
			}
			all, err := tx.ListEntries(ctx, "a", 10)
			if err != nil {
				return err
			}
			if len(all) != 2 {
				t.Errorf("entries = %d, want 2", len(all))
			}
			return nil
		})

		atomic(t, s, func(tx Tx) error {
			if _, err := tx.GetActiveLoanByBorrower(ctx, "a"); !errors.Is(err, ErrNotFound) {
				t.Errorf("defaulted loan still active: %v", err)
			}
			past, err := tx.ListLoansPastDue(ctx, t0.Add(72*time.Hour))
			if err != nil {
				return err
			}
			if len(past) != 1 || past[0].ID != "later" {
				t.Errorf("past due = %+v", past)
			}
			return nil
		})
	})
}

func TestGetStats(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		atomic(t, s, func(tx Tx) error { return tx.InsertPlayer(ctx, newPlayer("p", "1")) })
		stats, err := s.GetStats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if stats["backend"] == nil {
			t.Errorf("stats = %v", stats)
		}
	})
}
