package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"grit-ledger-api/internal/lock"
	"grit-ledger-api/internal/model"
	"grit-ledger-api/internal/repository"
	"grit-ledger-api/pkg/uid"
)

// Journal page bounds.
const (
	DefaultJournalLimit = 50
	MaxJournalLimit     = 500
)

// WalletService owns players, their items and the grit journal.
type WalletService struct {
	base
}

// NewWalletService creates a new wallet service.
func NewWalletService(store repository.Store, locker lock.Locker, policy Policy, logger *slog.Logger) *WalletService {
	return &WalletService{base: newBase(store, locker, policy, logger, "wallet")}
}

// RegisterPlayer creates a player with an opening balance granted by the
// commish.
func (s *WalletService) RegisterPlayer(ctx context.Context, name string, startingGrit decimal.Decimal, now time.Time) (*model.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidArgument.with("name is required")
	}
	if startingGrit.IsNegative() {
		return nil, ErrInvalidAmount.with("starting grit cannot be negative")
	}

	p := &model.Player{
		ID:         uid.New(),
		Name:       name,
		Grit:       startingGrit,
		LockedGrit: decimal.Zero,
		CreatedAt:  now,
	}
	err := s.store.Atomic(ctx, func(tx repository.Tx) error {
		if err := tx.InsertPlayer(ctx, p); err != nil {
			return storeErr(err, "player")
		}
		j := newJournal(p.ID, now)
		j.move(p.ID, startingGrit, ReasonGrant)
		return storeErr(j.flush(ctx, tx), "journal")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("player registered", "player_id", p.ID, "grit", startingGrit)
	return p, nil
}

// MintItem creates an item in a player's inventory.
func (s *WalletService) MintItem(ctx context.Context, ownerID, name string, rarity model.Rarity, now time.Time) (*model.Item, error) {
	if err := requireID("owner_id", ownerID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidArgument.with("name is required")
	}

	item := &model.Item{
		ID:        uid.New(),
		Name:      name,
		Rarity:    rarity,
		OwnerID:   ownerID,
		CreatedAt: now,
	}
	err := s.store.Atomic(ctx, func(tx repository.Tx) error {
		if _, err := getPlayer(ctx, tx, ownerID); err != nil {
			return err
		}
		return storeErr(tx.InsertItem(ctx, item), "item")
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// GetPlayer returns a player with available balance and items.
func (s *WalletService) GetPlayer(ctx context.Context, playerID string) (*model.PlayerState, error) {
	var state *model.PlayerState
	err := s.store.Atomic(ctx, func(tx repository.Tx) error {
		p, err := getPlayer(ctx, tx, playerID)
		if err != nil {
			return err
		}
		items, err := tx.ListItemsByOwner(ctx, playerID)
		if err != nil {
			return storeErr(err, "items")
		}
		state = &model.PlayerState{Player: *p, Available: p.Available(), Items: items}
		return nil
	})
	return state, err
}

// Grant credits grit from the commish. Used for admin top-ups.
func (s *WalletService) Grant(ctx context.Context, playerID string, amount decimal.Decimal, now time.Time) (*model.Player, error) {
	if err := requireID("player_id", playerID); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount.with("grant must be positive, got %s", amount)
	}

	var p *model.Player
	err := s.store.Atomic(ctx, func(tx repository.Tx) error {
		var err error
		p, err = getPlayer(ctx, tx, playerID)
		if err != nil {
			return err
		}
		p.Grit = p.Grit.Add(amount)
		if err := savePlayer(ctx, tx, p); err != nil {
			return err
		}
		j := newJournal("grant:"+uid.New(), now)
		j.move(playerID, amount, ReasonGrant)
		return storeErr(j.flush(ctx, tx), "journal")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("grit granted", "player_id", playerID, "amount", amount)
	return p, nil
}

// Journal returns a player's ledger entries, newest first.
func (s *WalletService) Journal(ctx context.Context, playerID string, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = DefaultJournalLimit
	}
	if limit > MaxJournalLimit {
		limit = MaxJournalLimit
	}

	var entries []model.LedgerEntry
	err := s.store.Atomic(ctx, func(tx repository.Tx) error {
		if playerID != model.SystemAccount {
			if _, err := getPlayer(ctx, tx, playerID); err != nil {
				return err
			}
		}
		var err error
		entries, err = tx.ListEntries(ctx, playerID, limit)
		return storeErr(err, "journal")
	})
	return entries, err
}
