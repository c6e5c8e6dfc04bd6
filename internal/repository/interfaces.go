package repository

import (
	"context"
	"errors"
	"time"

	"grit-ledger-api/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional write matched no row, i.e.
	// the row changed since it was read.
	ErrConflict = errors.New("concurrent modification")
)

// Store is the ledger's persistence boundary. Every read and write happens
// inside Atomic.
type Store interface {
	// Atomic runs fn in a single transaction. If fn returns an error nothing
	// it wrote is kept.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	// GetStats returns row counts and backend details.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Close closes the underlying connection.
	Close() error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	PlayerRepository
	ItemRepository
	WaiverRepository
	TradeRepository
	RideRepository
	LoanRepository
	JournalRepository
}

// PlayerRepository defines player data access methods.
type PlayerRepository interface {
	GetPlayer(ctx context.Context, id string) (*model.Player, error)
	InsertPlayer(ctx context.Context, p *model.Player) error

	// UpdatePlayer writes balances if p.Version still matches the stored
	// version, then increments p.Version. Returns ErrConflict otherwise.
	UpdatePlayer(ctx context.Context, p *model.Player) error
}

// ItemRepository defines item data access methods.
type ItemRepository interface {
	GetItem(ctx context.Context, id string) (*model.Item, error)
	InsertItem(ctx context.Context, item *model.Item) error

	// TransferItem moves an item from one owner to another. Returns
	// ErrConflict if the item is not currently owned by from.
	TransferItem(ctx context.Context, itemID, from, to string) error

	ListItemsByOwner(ctx context.Context, ownerID string) ([]model.Item, error)
}

// WaiverRepository defines listing and sealed bid data access methods.
type WaiverRepository interface {
	GetListing(ctx context.Context, id string) (*model.WaiverListing, error)
	InsertListing(ctx context.Context, l *model.WaiverListing) error
	UpdateListing(ctx context.Context, l *model.WaiverListing) error

	// GetActiveListingByItem returns ErrNotFound if the item is not listed.
	GetActiveListingByItem(ctx context.Context, itemID string) (*model.WaiverListing, error)

	// ListExpiredListings returns active listings with ExpiresAt <= now.
	ListExpiredListings(ctx context.Context, now time.Time) ([]model.WaiverListing, error)

	InsertBid(ctx context.Context, b *model.WaiverBid) error
	CountBids(ctx context.Context, listingID string) (int, error)

	// RevealBids returns every bid on a listing ordered by PlacedAt.
	RevealBids(ctx context.Context, listingID string) ([]model.WaiverBid, error)

	// SetBidOutcomes marks winningBidID won and every other bid lost. An
	// empty winningBidID marks all bids lost.
	SetBidOutcomes(ctx context.Context, listingID, winningBidID string) error
}

// TradeRepository defines trade data access methods.
type TradeRepository interface {
	GetTrade(ctx context.Context, id string) (*model.MultiItemTrade, error)
	InsertTrade(ctx context.Context, t *model.MultiItemTrade) error
	UpdateTrade(ctx context.Context, t *model.MultiItemTrade) error
}

// RideRepository defines squad ride data access methods.
type RideRepository interface {
	GetRide(ctx context.Context, id string) (*model.SquadRide, error)
	InsertRide(ctx context.Context, r *model.SquadRide) error
	UpdateRide(ctx context.Context, r *model.SquadRide) error
}

// LoanRepository defines commish loan data access methods.
type LoanRepository interface {
	GetLoan(ctx context.Context, id string) (*model.CommishLoan, error)
	InsertLoan(ctx context.Context, l *model.CommishLoan) error
	UpdateLoan(ctx context.Context, l *model.CommishLoan) error

	// GetActiveLoanByBorrower returns ErrNotFound if the player has no
	// unpaid, non-defaulted loan.
	GetActiveLoanByBorrower(ctx context.Context, borrowerID string) (*model.CommishLoan, error)

	// ListLoansPastDue returns active loans with DueDate < now.
	ListLoansPastDue(ctx context.Context, now time.Time) ([]model.CommishLoan, error)
}

// JournalRepository defines ledger journal data access methods.
type JournalRepository interface {
	AppendEntries(ctx context.Context, entries ...model.LedgerEntry) error
	ListEntries(ctx context.Context, playerID string, limit int) ([]model.LedgerEntry, error)
}
