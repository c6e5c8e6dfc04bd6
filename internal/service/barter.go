package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"grit-ledger-api/internal/lock"
	"grit-ledger-api/internal/model"
	"grit-ledger-api/internal/repository"
	"grit-ledger-api/pkg/uid"
)

// BarterService runs multi-item swaps between two players.
//
// A trade moves pending -> accepted -> completed, or ends rejected or
// cancelled. Confirmation re-checks every item and moves them all in one
// transaction, so a trade either swaps everything or nothing.
type BarterService struct {
	base
}

// NewBarterService creates a new barter service.
func NewBarterService(store repository.Store, locker lock.Locker, policy Policy, logger *slog.Logger) *BarterService {
	return &BarterService{base: newBase(store, locker, policy, logger, "barter")}
}

// TradeProposal is the input to ProposeTrade.
type TradeProposal struct {
	ProposerID       string   `json:"proposer_id"`
	RecipientID      string   `json:"recipient_id"`
	OfferedItemIDs   []string `json:"offered_item_ids"`
	RequestedItemIDs []string `json:"requested_item_ids"`
}

func (p TradeProposal) validate() error {
	if err := requireID("proposer_id", p.ProposerID); err != nil {
		return err
	}
	if err := requireID("recipient_id", p.RecipientID); err != nil {
		return err
	}
	if p.ProposerID == p.RecipientID {
		return ErrSelfTrade
	}
	for _, side := range []struct {
		name string
		ids  []string
	}{{"offered", p.OfferedItemIDs}, {"requested", p.RequestedItemIDs}} {
		if len(side.ids) == 0 || len(side.ids) > model.MaxTradeItems {
			return ErrInvalidItems.with("%s items must number 1 to %d, got %d", side.name, model.MaxTradeItems, len(side.ids))
		}
	}
	seen := make(map[string]bool)
	for _, id := range append(append([]string(nil), p.OfferedItemIDs...), p.RequestedItemIDs...) {
		if id == "" {
			return ErrInvalidItems.with("empty item id")
		}
		if seen[id] {
			return ErrInvalidItems.with("item %s appears more than once", id)
		}
		seen[id] = true
	}
	return nil
}

// tradeKeys serializes every trade between the same two players, in either
// direction, plus the trade itself and every item it names. The item keys
// are the ones ListItem and ResolveWaiver take.
func tradeKeys(t *model.MultiItemTrade) []string {
	a, b := t.ProposerID, t.RecipientID
	if b < a {
		a, b = b, a
	}
	keys := []string{"trade-pair:" + a + ":" + b, "trade:" + t.ID}
	for _, id := range t.OfferedItemIDs {
		keys = append(keys, itemKey(id))
	}
	for _, id := range t.RequestedItemIDs {
		keys = append(keys, itemKey(id))
	}
	return keys
}

// ProposeTrade records a pending swap. Each side must currently own the
// items it puts up.
func (s *BarterService) ProposeTrade(ctx context.Context, p TradeProposal, now time.Time) (*model.MultiItemTrade, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	trade := &model.MultiItemTrade{
		ID:               uid.New(),
		ProposerID:       p.ProposerID,
		RecipientID:      p.RecipientID,
		OfferedItemIDs:   append([]string(nil), p.OfferedItemIDs...),
		RequestedItemIDs: append([]string(nil), p.RequestedItemIDs...),
		Status:           model.TradePending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.store.Atomic(ctx, func(tx repository.Tx) error {
		for _, id := range []string{p.ProposerID, p.RecipientID} {
			if _, err := getPlayer(ctx, tx, id); err != nil {
				return err
			}
		}
		if err := checkHoldings(ctx, tx, trade, false); err != nil {
			return err
		}
		return storeErr(tx.InsertTrade(ctx, trade), "trade")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("trade proposed", "trade_id", trade.ID, "proposer_id", p.ProposerID, "recipient_id", p.RecipientID)
	return trade, nil
}

// AcceptTrade is the recipient agreeing to a pending trade.
func (s *BarterService) AcceptTrade(ctx context.Context, tradeID, playerID string, now time.Time) (*model.MultiItemTrade, error) {
	return s.transition(ctx, tradeID, playerID, now, func(t *model.MultiItemTrade) error {
		if playerID != t.RecipientID {
			return ErrNotParticipant.with("only the recipient may accept trade %s", t.ID)
		}
		if t.Status != model.TradePending {
			return ErrIllegalTransition.with("cannot accept a %s trade", t.Status)
		}
		t.Status = model.TradeAccepted
		return nil
	})
}

// RejectTrade is either party walking away before completion.
func (s *BarterService) RejectTrade(ctx context.Context, tradeID, playerID string, now time.Time) (*model.MultiItemTrade, error) {
	return s.transition(ctx, tradeID, playerID, now, func(t *model.MultiItemTrade) error {
		if t.Status != model.TradePending && t.Status != model.TradeAccepted {
			return ErrIllegalTransition.with("cannot reject a %s trade", t.Status)
		}
		t.Status = model.TradeRejected
		return nil
	})
}

// CancelTrade is the proposer withdrawing a pending trade.
func (s *BarterService) CancelTrade(ctx context.Context, tradeID, playerID string, now time.Time) (*model.MultiItemTrade, error) {
	return s.transition(ctx, tradeID, playerID, now, func(t *model.MultiItemTrade) error {
		if playerID != t.ProposerID {
			return ErrNotParticipant.with("only the proposer may cancel trade %s", t.ID)
		}
		if t.Status != model.TradePending {
			return ErrIllegalTransition.with("cannot cancel a %s trade", t.Status)
		}
		t.Status = model.TradeCancelled
		return nil
	})
}

// ConfirmTrade executes an accepted trade. Either party may confirm. If any
// item has changed hands or gone on the waiver wire since the proposal,
// nothing moves and the trade stays accepted.
func (s *BarterService) ConfirmTrade(ctx context.Context, tradeID, playerID string, now time.Time) (*model.MultiItemTrade, error) {
	return s.transition(ctx, tradeID, playerID, now, func(t *model.MultiItemTrade) error {
		if t.Status != model.TradeAccepted {
			return ErrIllegalTransition.with("cannot confirm a %s trade", t.Status)
		}
		t.Status = model.TradeCompleted
		return nil
	})
}

func (s *BarterService) transition(ctx context.Context, tradeID, playerID string, now time.Time, apply func(t *model.MultiItemTrade) error) (*model.MultiItemTrade, error) {
	if err := requireID("trade_id", tradeID); err != nil {
		return nil, err
	}
	if err := requireID("player_id", playerID); err != nil {
		return nil, err
	}

	// The pair key needs the participants, so peek first.
	trade, err := s.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, tradeKeys(trade)...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var from model.TradeStatus
	err = s.store.Atomic(ctx, func(tx repository.Tx) error {
		var err error
		trade, err = tx.GetTrade(ctx, tradeID)
		if err != nil {
			return storeErr(err, "trade "+tradeID)
		}
		if !trade.IsParticipant(playerID) {
			return ErrNotParticipant.with("player %s is not a party to trade %s", playerID, tradeID)
		}
		from = trade.Status
		if err := apply(trade); err != nil {
			return err
		}
		if trade.Status == model.TradeCompleted {
			if err := checkHoldings(ctx, tx, trade, true); err != nil {
				return err
			}
			if err := swapItems(ctx, tx, trade); err != nil {
				return err
			}
		}
		trade.UpdatedAt = now
		return storeErr(tx.UpdateTrade(ctx, trade), "trade "+tradeID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("trade transition", "trade_id", tradeID, "player_id", playerID, "from", from, "to", trade.Status)
	return trade, nil
}

// checkHoldings verifies each side still owns what it put up and that no
// item is on the waiver wire. At proposal time a wrong owner is a caller
// mistake; at confirmation it means the item moved.
func checkHoldings(ctx context.Context, tx repository.Tx, t *model.MultiItemTrade, confirming bool) error {
	check := func(itemID, ownerID string) error {
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				if confirming {
					return ErrItemNoLongerAvailable.with("item %s no longer exists", itemID)
				}
				return ErrNotFound.with("item %s not found", itemID)
			}
			return storeErr(err, "item "+itemID)
		}
		if item.OwnerID != ownerID {
			if confirming {
				return ErrItemNoLongerAvailable.with("item %s is no longer held by %s", itemID, ownerID)
			}
			return ErrNotOwner.with("player %s does not own item %s", ownerID, itemID)
		}
		if err := ensureNotListed(ctx, tx, itemID); err != nil {
			if confirming && errors.Is(err, ErrAlreadyListed) {
				return ErrItemNoLongerAvailable.with("item %s is on the waiver wire", itemID)
			}
			return err
		}
		return nil
	}
	for _, id := range t.OfferedItemIDs {
		if err := check(id, t.ProposerID); err != nil {
			return err
		}
	}
	for _, id := range t.RequestedItemIDs {
		if err := check(id, t.RecipientID); err != nil {
			return err
		}
	}
	return nil
}

// swapItems moves every item. Transfers are conditional on the current
// owner, so a concurrent move aborts the whole transaction.
func swapItems(ctx context.Context, tx repository.Tx, t *model.MultiItemTrade) error {
	move := func(itemID, from, to string) error {
		if err := tx.TransferItem(ctx, itemID, from, to); err != nil {
			if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
				return ErrItemNoLongerAvailable.with("item %s moved during the trade", itemID)
			}
			return err
		}
		return nil
	}
	for _, id := range t.OfferedItemIDs {
		if err := move(id, t.ProposerID, t.RecipientID); err != nil {
			return err
		}
	}
	for _, id := range t.RequestedItemIDs {
		if err := move(id, t.RecipientID, t.ProposerID); err != nil {
			return err
		}
	}
	return nil
}

// GetTrade returns a trade by id.
func (s *BarterService) GetTrade(ctx context.Context, tradeID string) (*model.MultiItemTrade, error) {
	var trade *model.MultiItemTrade
	err := s.store.Atomic(ctx, func(tx repository.Tx) error {
		var err error
		trade, err = tx.GetTrade(ctx, tradeID)
		return storeErr(err, "trade "+tradeID)
	})
	return trade, err
}
