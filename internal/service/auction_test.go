package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"grit-ledger-api/internal/model"
	"grit-ledger-api/internal/repository"
)

func TestWaiverTieGoesToEarliestBid(t *testing.T) {
	// Run repeatedly: the result must not depend on map or scheduling order.
	for run := 0; run < 5; run++ {
		f := newFixture(t)
		owner := f.player(t, "owner", "0")
		a := f.player(t, "a", "500")
		b := f.player(t, "b", "500")
		item := f.item(t, owner, "Golden Glove")

		listing, err := f.auction.ListItem(f.ctx, owner, item, t0)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.auction.PlaceBid(f.ctx, listing.ID, b, d("100"), t0.Add(20*time.Second)); err != nil {
			t.Fatal(err)
		}
		if _, err := f.auction.PlaceBid(f.ctx, listing.ID, a, d("100"), t0.Add(10*time.Second)); err != nil {
			t.Fatal(err)
		}

		res, err := f.auction.ResolveWaiver(f.ctx, listing.ID, listing.ExpiresAt)
		if err != nil {
			t.Fatal(err)
		}
		if res.WinnerID != a {
			t.Fatalf("run %d: winner = %s, want earliest bidder %s", run, res.WinnerID, a)
		}
		if !res.OwnerShare.Equal(d("50")) || !res.Burned.Equal(d("50")) {
			t.Errorf("owner share/burn = %s/%s, want 50/50", res.OwnerShare, res.Burned)
		}
		wantGrit(t, f, owner, "50")
		wantGrit(t, f, a, "400")
		wantGrit(t, f, b, "500")
		if got := f.owner(t, item); got != a {
			t.Errorf("item owner = %s, want %s", got, a)
		}
		for _, bid := range res.Bids {
			want := model.BidLost
			if bid.BidderID == a {
				want = model.BidWon
			}
			if bid.Outcome != want {
				t.Errorf("bid by %s outcome = %s, want %s", bid.BidderID, bid.Outcome, want)
			}
		}
		if res.Listing.Status != model.ListingResolved {
			t.Errorf("listing status = %s", res.Listing.Status)
		}
		f.checkJournal(t, owner, a, b)
	}
}

func TestWaiverConservation(t *testing.T) {
	for _, amount := range []string{"1", "7", "99", "100", "101", "333", "1001"} {
		t.Run(amount, func(t *testing.T) {
			f := newFixture(t)
			owner := f.player(t, "owner", "0")
			bidder := f.player(t, "bidder", "2000")
			item := f.item(t, owner, "Bat")

			listing, err := f.auction.ListItem(f.ctx, owner, item, t0)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := f.auction.PlaceBid(f.ctx, listing.ID, bidder, d(amount), t0.Add(time.Hour)); err != nil {
				t.Fatal(err)
			}
			res, err := f.auction.ResolveWaiver(f.ctx, listing.ID, listing.ExpiresAt.Add(time.Minute))
			if err != nil {
				t.Fatal(err)
			}

			if !res.OwnerShare.Add(res.Burned).Equal(d(amount)) {
				t.Errorf("share %s + burn %s != %s", res.OwnerShare, res.Burned, amount)
			}
			if !f.grit(t, owner).Equal(res.OwnerShare) {
				t.Errorf("owner grit = %s, want %s", f.grit(t, owner), res.OwnerShare)
			}
			if got := d("2000").Sub(f.grit(t, bidder)); !got.Equal(d(amount)) {
				t.Errorf("bidder paid %s, want %s", got, amount)
			}
			f.checkJournal(t, owner, bidder)
		})
	}
}

func TestPlaceBidValidation(t *testing.T) {
	f := newFixture(t)
	owner := f.player(t, "owner", "0")
	bidder := f.player(t, "bidder", "100")
	item := f.item(t, owner, "Cap")
	listing, err := f.auction.ListItem(f.ctx, owner, item, t0)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		bidder string
		amount string
		at     time.Time
		want   error
	}{
		{"zero amount", bidder, "0", t0, ErrInvalidAmount},
		{"negative amount", bidder, "-5", t0, ErrInvalidAmount},
		{"owner bids", owner, "10", t0, ErrSelfBid},
		{"more than balance", bidder, "100.01", t0, ErrInsufficientFunds},
		{"at expiry", bidder, "10", listing.ExpiresAt, ErrWindowClosed},
		{"after expiry", bidder, "10", listing.ExpiresAt.Add(time.Second), ErrWindowClosed},
		{"unknown bidder", "nobody", "10", t0, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.auction.PlaceBid(f.ctx, listing.ID, tt.bidder, d(tt.amount), tt.at)
			wantErr(t, err, tt.want)
		})
	}

	receipt, err := f.auction.PlaceBid(f.ctx, listing.ID, bidder, d("100"), t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("bid of full balance: %v", err)
	}
	if receipt.BidID == "" || receipt.ListingID != listing.ID {
		t.Errorf("receipt = %+v", receipt)
	}
}

func TestResolveWaiverGuards(t *testing.T) {
	f := newFixture(t)
	owner := f.player(t, "owner", "0")
	bidder := f.player(t, "bidder", "300")
	item := f.item(t, owner, "Helmet")
	listing, err := f.auction.ListItem(f.ctx, owner, item, t0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.auction.PlaceBid(f.ctx, listing.ID, bidder, d("75"), t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	_, err = f.auction.ResolveWaiver(f.ctx, listing.ID, listing.ExpiresAt.Add(-time.Nanosecond))
	wantErr(t, err, ErrWindowOpen)

	if _, err := f.auction.ResolveWaiver(f.ctx, listing.ID, listing.ExpiresAt); err != nil {
		t.Fatal(err)
	}
	before := f.grit(t, bidder)

	_, err = f.auction.ResolveWaiver(f.ctx, listing.ID, listing.ExpiresAt.Add(time.Hour))
	wantErr(t, err, ErrAlreadyResolved)
	if after := f.grit(t, bidder); !after.Equal(before) {
		t.Errorf("second resolve moved grit: %s -> %s", before, after)
	}
}

func TestResolveWaiverNoBids(t *testing.T) {
	f := newFixture(t)
	owner := f.player(t, "owner", "10")
	item := f.item(t, owner, "Jersey")
	listing, err := f.auction.ListItem(f.ctx, owner, item, t0)
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.auction.ResolveWaiver(f.ctx, listing.ID, listing.ExpiresAt)
	if err != nil {
		t.Fatal(err)
	}
	if res.WinnerID != "" || len(res.Bids) != 0 {
		t.Errorf("resolution = %+v, want no winner", res)
	}
	if res.Listing.Status != model.ListingResolved {
		t.Errorf("status = %s", res.Listing.Status)
	}
	if f.owner(t, item) != owner {
		t.Error("item moved without a bid")
	}
	wantGrit(t, f, owner, "10")

	// The item can go back on the wire.
	if _, err := f.auction.ListItem(f.ctx, owner, item, listing.ExpiresAt); err != nil {
		t.Errorf("relist: %v", err)
	}
}

func TestResolveWaiverRevalidatesFunds(t *testing.T) {
	f := newFixture(t)
	owner := f.player(t, "owner", "0")
	rich := f.player(t, "rich", "200")
	poor := f.player(t, "poor", "100")
	item := f.item(t, owner, "Cleats")
	listing, err := f.auction.ListItem(f.ctx, owner, item, t0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.auction.PlaceBid(f.ctx, listing.ID, rich, d("150"), t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.auction.PlaceBid(f.ctx, listing.ID, poor, d("90"), t0.Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}

	// The leading bidder escrows most of their grit in a ride.
	if _, err := f.squad.CreateRide(f.ctx, CreateRideInput{
		DriverID: rich,
		Legs:     threeLegs(120, 150, -110),
		Stake:    d("100"),
	}, t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	_, err = f.auction.ResolveWaiver(f.ctx, listing.ID, listing.ExpiresAt)
	wantErr(t, err, ErrInsufficientFunds)

	if f.owner(t, item) != owner {
		t.Error("item moved on a failed resolution")
	}
	wantGrit(t, f, owner, "0")
	wantGrit(t, f, rich, "200")
	got, err := f.auction.GetListing(f.ctx, listing.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.ListingActive {
		t.Errorf("listing status = %s, want active", got.Status)
	}
}

func TestResolveWaiverItemMoved(t *testing.T) {
	f := newFixture(t)
	owner := f.player(t, "owner", "0")
	bidder := f.player(t, "bidder", "100")
	item := f.item(t, owner, "Glove")
	listing, err := f.auction.ListItem(f.ctx, owner, item, t0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.auction.PlaceBid(f.ctx, listing.ID, bidder, d("40"), t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	// Simulate the item leaving the owner's hands by another path.
	if err := f.store.Atomic(f.ctx, func(tx repository.Tx) error {
		return tx.TransferItem(f.ctx, item, owner, bidder)
	}); err != nil {
		t.Fatal(err)
	}

	_, err = f.auction.ResolveWaiver(f.ctx, listing.ID, listing.ExpiresAt)
	wantErr(t, err, ErrItemNoLongerAvailable)
	wantGrit(t, f, bidder, "100")
}

func TestListItemGuards(t *testing.T) {
	f := newFixture(t)
	owner := f.player(t, "owner", "0")
	other := f.player(t, "other", "0")
	item := f.item(t, owner, "Bat")

	_, err := f.auction.ListItem(f.ctx, other, item, t0)
	wantErr(t, err, ErrNotOwner)

	listing, err := f.auction.ListItem(f.ctx, owner, item, t0)
	if err != nil {
		t.Fatal(err)
	}
	if want := t0.Add(24 * time.Hour); !listing.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %s, want %s", listing.ExpiresAt, want)
	}

	_, err = f.auction.ListItem(f.ctx, owner, item, t0)
	wantErr(t, err, ErrAlreadyListed)

	_, err = f.auction.ListItem(f.ctx, owner, "missing", t0)
	wantErr(t, err, ErrNotFound)
}

func TestCancelListing(t *testing.T) {
	f := newFixture(t)
	owner := f.player(t, "owner", "0")
	bidder := f.player(t, "bidder", "50")
	quiet := f.item(t, owner, "Quiet")
	busy := f.item(t, owner, "Busy")

	l1, err := f.auction.ListItem(f.ctx, owner, quiet, t0)
	if err != nil {
		t.Fatal(err)
	}
	l2, err := f.auction.ListItem(f.ctx, owner, busy, t0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.auction.PlaceBid(f.ctx, l2.ID, bidder, d("5"), t0); err != nil {
		t.Fatal(err)
	}

	_, err = f.auction.CancelListing(f.ctx, l1.ID, bidder, t0)
	wantErr(t, err, ErrNotOwner)

	cancelled, err := f.auction.CancelListing(f.ctx, l1.ID, owner, t0)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != model.ListingCancelled {
		t.Errorf("status = %s", cancelled.Status)
	}
	_, err = f.auction.CancelListing(f.ctx, l1.ID, owner, t0)
	wantErr(t, err, ErrIllegalTransition)

	_, err = f.auction.CancelListing(f.ctx, l2.ID, owner, t0)
	wantErr(t, err, ErrHasBids)
	// Closed, but the bidder can still pay, so it must be resolved instead.
	_, err = f.auction.CancelListing(f.ctx, l2.ID, owner, l2.ExpiresAt)
	wantErr(t, err, ErrHasBids)

	_, err = f.auction.PlaceBid(f.ctx, l1.ID, bidder, d("5"), t0)
	wantErr(t, err, ErrWindowClosed)
	_, err = f.auction.ResolveWaiver(f.ctx, l1.ID, l1.ExpiresAt)
	wantErr(t, err, ErrIllegalTransition)
}

func TestExpiredListings(t *testing.T) {
	f := newFixture(t)
	owner := f.player(t, "owner", "0")
	early, err := f.auction.ListItem(f.ctx, owner, f.item(t, owner, "a"), t0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.auction.ListItem(f.ctx, owner, f.item(t, owner, "b"), t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	ids, err := f.auction.ExpiredListings(f.ctx, early.ExpiresAt)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != early.ID {
		t.Errorf("expired = %v, want [%s]", ids, early.ID)
	}
}

func TestPickWinner(t *testing.T) {
	bids := []model.WaiverBid{
		{ID: "1", Amount: decimal.NewFromInt(10)},
		{ID: "2", Amount: decimal.NewFromInt(30)},
		{ID: "3", Amount: decimal.NewFromInt(30)},
		{ID: "4", Amount: decimal.NewFromInt(20)},
	}
	if w := pickWinner(bids); w == nil || w.ID != "2" {
		t.Errorf("winner = %+v, want bid 2", w)
	}
	if w := pickWinner(nil); w != nil {
		t.Errorf("winner of no bids = %+v", w)
	}
}

func TestCancelUnsettleableListing(t *testing.T) {
	f := newFixture(t)
	owner := f.player(t, "owner", "0")
	bidder := f.player(t, "bidder", "100")
	other := f.player(t, "other", "0")
	card := f.item(t, owner, "Card")
	hat := f.item(t, other, "Cap")

	l, err := f.auction.ListItem(f.ctx, owner, card, t0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.auction.PlaceBid(f.ctx, l.ID, bidder, d("100"), t0); err != nil {
		t.Fatal(err)
	}
	// Half the bid goes into ride escrow, so the winner can no longer pay.
	if _, err := f.squad.CreateRide(f.ctx, CreateRideInput{DriverID: bidder, Legs: threeLegs(120, 150, -110), Stake: d("50")}, t0); err != nil {
		t.Fatal(err)
	}

	for day := 1; day <= 3; day++ {
		_, err = f.auction.ResolveWaiver(f.ctx, l.ID, l.ExpiresAt.Add(time.Duration(day)*24*time.Hour))
		wantErr(t, err, ErrInsufficientFunds)
	}

	_, err = f.auction.CancelListing(f.ctx, l.ID, bidder, l.ExpiresAt)
	wantErr(t, err, ErrNotOwner)

	cancelled, err := f.auction.CancelListing(f.ctx, l.ID, owner, l.ExpiresAt)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != model.ListingCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	err = f.store.Atomic(f.ctx, func(tx repository.Tx) error {
		bids, err := tx.RevealBids(f.ctx, l.ID)
		if err != nil {
			return err
		}
		for _, b := range bids {
			if b.Outcome != model.BidLost {
				t.Errorf("bid %s outcome = %s, want lost", b.ID, b.Outcome)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	wantGrit(t, f, owner, "0")
	wantGrit(t, f, bidder, "100")

	// The item is free again: it can be traded or listed.
	if _, err := f.barter.ProposeTrade(f.ctx, TradeProposal{
		ProposerID:       owner,
		RecipientID:      other,
		OfferedItemIDs:   []string{card},
		RequestedItemIDs: []string{hat},
	}, t0); err != nil {
		t.Errorf("trade after cancel: %v", err)
	}
	if _, err := f.auction.ListItem(f.ctx, owner, card, l.ExpiresAt); err != nil {
		t.Errorf("relist after cancel: %v", err)
	}
}
