package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"grit-ledger-api/internal/lock"
	"grit-ledger-api/internal/model"
	"grit-ledger-api/internal/repository"
	"grit-ledger-api/pkg/odds"
	"grit-ledger-api/pkg/uid"
)

// AuctionService runs the sealed-bid waiver wire.
type AuctionService struct {
	base
}

// NewAuctionService creates a new auction service.
func NewAuctionService(store repository.Store, locker lock.Locker, policy Policy, logger *slog.Logger) *AuctionService {
	return &AuctionService{base: newBase(store, locker, policy, logger, "auction")}
}

func waiverKey(listingID string) string { return "waiver:" + listingID }
func itemKey(itemID string) string      { return "item:" + itemID }

// ListItem opens a waiver window for an item the owner holds.
func (s *AuctionService) ListItem(ctx context.Context, ownerID, itemID string, now time.Time) (*model.WaiverListing, error) {
	if err := requireID("owner_id", ownerID); err != nil {
		return nil, err
	}
	if err := requireID("item_id", itemID); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, itemKey(itemID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var listing *model.WaiverListing
	err = s.store.Atomic(ctx, func(tx repository.Tx) error {
		if _, err := getPlayer(ctx, tx, ownerID); err != nil {
			return err
		}
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return storeErr(err, "item "+itemID)
		}
		if item.OwnerID != ownerID {
			return ErrNotOwner.with("player %s does not own item %s", ownerID, itemID)
		}
		if err := ensureNotListed(ctx, tx, itemID); err != nil {
			return err
		}

		listing = &model.WaiverListing{
			ID:        uid.New(),
			ItemID:    itemID,
			OwnerID:   ownerID,
			ListedAt:  now,
			ExpiresAt: now.Add(s.policy.WaiverWindow),
			Status:    model.ListingActive,
		}
		return storeErr(tx.InsertListing(ctx, listing), "listing")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("item listed", "listing_id", listing.ID, "item_id", itemID, "expires_at", listing.ExpiresAt)
	return listing, nil
}

// PlaceBid records a sealed bid. The receipt never echoes the amount and no
// funds are held; the winner's balance is checked again at resolution.
func (s *AuctionService) PlaceBid(ctx context.Context, listingID, bidderID string, amount decimal.Decimal, now time.Time) (*model.BidReceipt, error) {
	if err := requireID("listing_id", listingID); err != nil {
		return nil, err
	}
	if err := requireID("bidder_id", bidderID); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount.with("bid amount must be positive, got %s", amount)
	}

	unlock, err := s.lock(ctx, waiverKey(listingID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var receipt *model.BidReceipt
	err = s.store.Atomic(ctx, func(tx repository.Tx) error {
		listing, err := tx.GetListing(ctx, listingID)
		if err != nil {
			return storeErr(err, "listing "+listingID)
		}
		if listing.OwnerID == bidderID {
			return ErrSelfBid
		}
		if !listing.Open(now) {
			return ErrWindowClosed.with("listing %s is %s, window closed at %s", listingID, listing.Status, listing.ExpiresAt.Format(time.RFC3339))
		}

		bidder, err := getPlayer(ctx, tx, bidderID)
		if err != nil {
			return err
		}
		if bidder.Available().LessThan(amount) {
			return ErrInsufficientFunds.with("bid %s exceeds available grit %s", amount, bidder.Available())
		}

		bid := &model.WaiverBid{
			ID:        uid.New(),
			ListingID: listingID,
			BidderID:  bidderID,
			Amount:    amount,
			PlacedAt:  now,
			Outcome:   model.BidSealed,
		}
		if err := tx.InsertBid(ctx, bid); err != nil {
			return storeErr(err, "bid")
		}
		receipt = &model.BidReceipt{
			BidID:     bid.ID,
			ListingID: listingID,
			BidderID:  bidderID,
			PlacedAt:  now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ResolveWaiver reveals the bids of an expired listing and settles it. The
// highest bid wins; ties go to the earliest bid. The owner receives the
// floored owner share and the remainder is burned. With no bids the listing
// resolves and the item stays put.
func (s *AuctionService) ResolveWaiver(ctx context.Context, listingID string, now time.Time) (*model.WaiverResolution, error) {
	if err := requireID("listing_id", listingID); err != nil {
		return nil, err
	}

	unlock, err := s.lockListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var res *model.WaiverResolution
	err = s.store.Atomic(ctx, func(tx repository.Tx) error {
		listing, err := tx.GetListing(ctx, listingID)
		if err != nil {
			return storeErr(err, "listing "+listingID)
		}
		switch listing.Status {
		case model.ListingResolved:
			return ErrAlreadyResolved
		case model.ListingCancelled:
			return ErrIllegalTransition.with("listing %s was cancelled", listingID)
		}
		if now.Before(listing.ExpiresAt) {
			return ErrWindowOpen.with("listing %s closes at %s", listingID, listing.ExpiresAt.Format(time.RFC3339))
		}

		bids, err := tx.RevealBids(ctx, listingID)
		if err != nil {
			return storeErr(err, "bids")
		}

		res = &model.WaiverResolution{
			WinningAmount: decimal.Zero,
			OwnerShare:    decimal.Zero,
			Burned:        decimal.Zero,
		}

		winner := pickWinner(bids)
		if winner != nil {
			if err := s.settleWinner(ctx, tx, listing, winner, res, now); err != nil {
				return err
			}
		}

		for i := range bids {
			switch {
			case winner != nil && bids[i].ID == winner.ID:
				bids[i].Outcome = model.BidWon
			default:
				bids[i].Outcome = model.BidLost
			}
		}
		winningBidID := ""
		if winner != nil {
			winningBidID = winner.ID
		}
		if err := tx.SetBidOutcomes(ctx, listingID, winningBidID); err != nil {
			return storeErr(err, "bids")
		}

		resolvedAt := now
		listing.Status = model.ListingResolved
		listing.WinningBidID = winningBidID
		listing.ResolvedAt = &resolvedAt
		if err := tx.UpdateListing(ctx, listing); err != nil {
			return storeErr(err, "listing "+listingID)
		}

		res.Listing = *listing
		res.Bids = bids
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("waiver resolved",
		"listing_id", listingID,
		"bids", len(res.Bids),
		"winner_id", res.WinnerID,
		"amount", res.WinningAmount,
		"burned", res.Burned,
	)
	return res, nil
}

// checkWinner confirms the winning bid can still settle: the owner still
// holds the item and the bidder can cover the bid.
func checkWinner(ctx context.Context, tx repository.Tx, listing *model.WaiverListing, winner *model.WaiverBid) (*model.Item, *model.Player, error) {
	item, err := tx.GetItem(ctx, listing.ItemID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrItemNoLongerAvailable.with("item %s no longer exists", listing.ItemID)
		}
		return nil, nil, storeErr(err, "item "+listing.ItemID)
	}
	if item.OwnerID != listing.OwnerID {
		return nil, nil, ErrItemNoLongerAvailable.with("item %s is no longer held by %s", item.ID, listing.OwnerID)
	}

	buyer, err := getPlayer(ctx, tx, winner.BidderID)
	if err != nil {
		return nil, nil, err
	}
	if buyer.Available().LessThan(winner.Amount) {
		return nil, nil, ErrInsufficientFunds.with("winning bidder %s has %s available, bid %s", buyer.ID, buyer.Available(), winner.Amount)
	}
	return item, buyer, nil
}

func (s *AuctionService) settleWinner(ctx context.Context, tx repository.Tx, listing *model.WaiverListing, winner *model.WaiverBid, res *model.WaiverResolution, now time.Time) error {
	item, buyer, err := checkWinner(ctx, tx, listing, winner)
	if err != nil {
		return err
	}
	seller, err := getPlayer(ctx, tx, listing.OwnerID)
	if err != nil {
		return err
	}

	ownerShare, burned, err := odds.Split(winner.Amount, s.policy.OwnerShare)
	if err != nil {
		return ErrInvariant.with("split %s: %v", winner.Amount, err)
	}

	buyer.Grit = buyer.Grit.Sub(winner.Amount)
	seller.Grit = seller.Grit.Add(ownerShare)
	if err := savePlayer(ctx, tx, buyer); err != nil {
		return err
	}
	if err := savePlayer(ctx, tx, seller); err != nil {
		return err
	}
	if err := tx.TransferItem(ctx, item.ID, listing.OwnerID, buyer.ID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrItemNoLongerAvailable.with("item %s moved during resolution", item.ID)
		}
		return storeErr(err, "item "+item.ID)
	}

	j := newJournal(listing.ID, now)
	j.move(buyer.ID, winner.Amount.Neg(), ReasonWaiverWin)
	j.move(seller.ID, ownerShare, ReasonWaiverSale)
	if err := j.flush(ctx, tx); err != nil {
		return storeErr(err, "journal")
	}

	res.WinnerID = buyer.ID
	res.WinningAmount = winner.Amount
	res.OwnerShare = ownerShare
	res.Burned = burned
	return nil
}

// pickWinner returns the highest bid. bids are in placement order, so only a
// strictly greater amount displaces the current leader.
func pickWinner(bids []model.WaiverBid) *model.WaiverBid {
	var best *model.WaiverBid
	for i := range bids {
		if best == nil || bids[i].Amount.GreaterThan(best.Amount) {
			best = &bids[i]
		}
	}
	return best
}

// CancelListing withdraws a listing. A listing with bids can only be
// withdrawn after its window closes, and only while the winning bid cannot
// settle; the bids are then marked lost.
func (s *AuctionService) CancelListing(ctx context.Context, listingID, ownerID string, now time.Time) (*model.WaiverListing, error) {
	if err := requireID("listing_id", listingID); err != nil {
		return nil, err
	}

	unlock, err := s.lockListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var listing *model.WaiverListing
	err = s.store.Atomic(ctx, func(tx repository.Tx) error {
		var err error
		listing, err = tx.GetListing(ctx, listingID)
		if err != nil {
			return storeErr(err, "listing "+listingID)
		}
		if listing.OwnerID != ownerID {
			return ErrNotOwner.with("player %s did not list %s", ownerID, listingID)
		}
		if listing.Status != model.ListingActive {
			return ErrIllegalTransition.with("cannot cancel a %s listing", listing.Status)
		}
		bids, err := tx.RevealBids(ctx, listingID)
		if err != nil {
			return storeErr(err, "bids")
		}
		if len(bids) > 0 {
			if now.Before(listing.ExpiresAt) {
				return ErrHasBids
			}
			_, _, err := checkWinner(ctx, tx, listing, pickWinner(bids))
			switch {
			case err == nil:
				return ErrHasBids.with("listing %s has a winning bid that can settle", listingID)
			case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrItemNoLongerAvailable):
			default:
				return err
			}
			if err := tx.SetBidOutcomes(ctx, listingID, ""); err != nil {
				return storeErr(err, "bids")
			}
		}
		listing.Status = model.ListingCancelled
		return storeErr(tx.UpdateListing(ctx, listing), "listing "+listingID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("listing cancelled", "listing_id", listingID, "owner_id", ownerID)
	return listing, nil
}

// lockListing locks a listing together with its item, so a resolution or
// cancellation cannot interleave with a trade moving that item.
func (s *AuctionService) lockListing(ctx context.Context, listingID string) (func(), error) {
	listing, err := s.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	return s.lock(ctx, waiverKey(listingID), itemKey(listing.ItemID))
}

// GetListing returns a listing. Bids stay sealed.
func (s *AuctionService) GetListing(ctx context.Context, listingID string) (*model.WaiverListing, error) {
	var listing *model.WaiverListing
	err := s.store.Atomic(ctx, func(tx repository.Tx) error {
		var err error
		listing, err = tx.GetListing(ctx, listingID)
		return storeErr(err, "listing "+listingID)
	})
	return listing, err
}

// ExpiredListings returns the ids of active listings whose window has closed.
func (s *AuctionService) ExpiredListings(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.store.Atomic(ctx, func(tx repository.Tx) error {
		listings, err := tx.ListExpiredListings(ctx, now)
		if err != nil {
			return err
		}
		for _, l := range listings {
			ids = append(ids, l.ID)
		}
		return nil
	})
	return ids, err
}

// ensureNotListed fails if the item sits on the waiver wire.
func ensureNotListed(ctx context.Context, tx repository.Tx, itemID string) error {
	_, err := tx.GetActiveListingByItem(ctx, itemID)
	switch {
	case err == nil:
		return ErrAlreadyListed.with("item %s is on the waiver wire", itemID)
	case errors.Is(err, repository.ErrNotFound):
		return nil
	}
	return storeErr(err, "listing")
}
