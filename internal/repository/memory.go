package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"grit-ledger-api/internal/model"
)

// MemoryStore implements Store in process memory.
// Transactions are serialized and write the live state directly. Each write
// records how to undo itself, and a failed transaction replays those in
// reverse.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	players  map[string]model.Player
	items    map[string]model.Item
	listings map[string]model.WaiverListing
	bids     map[string][]model.WaiverBid
	trades   map[string]model.MultiItemTrade
	rides    map[string]model.SquadRide
	loans    map[string]model.CommishLoan
	journal  []model.LedgerEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		players:  make(map[string]model.Player),
		items:    make(map[string]model.Item),
		listings: make(map[string]model.WaiverListing),
		bids:     make(map[string][]model.WaiverBid),
		trades:   make(map[string]model.MultiItemTrade),
		rides:    make(map[string]model.SquadRide),
		loans:    make(map[string]model.CommishLoan),
	}}
}

func cloneTrade(t model.MultiItemTrade) model.MultiItemTrade {
	t.OfferedItemIDs = append([]string(nil), t.OfferedItemIDs...)
	t.RequestedItemIDs = append([]string(nil), t.RequestedItemIDs...)
	return t
}

func cloneRide(r model.SquadRide) model.SquadRide {
	r.Legs = append([]model.ParlayLeg(nil), r.Legs...)
	r.Passengers = append([]model.Passenger(nil), r.Passengers...)
	return r
}

// Atomic runs fn and keeps its writes only if fn succeeds.
func (m *MemoryStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{state: m.state}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetStats returns entity counts.
func (m *MemoryStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]interface{}{
		"backend":        "memory",
		"players":        len(m.state.players),
		"items":          len(m.state.items),
		"waivers":        len(m.state.listings),
		"trades":         len(m.state.trades),
		"rides":          len(m.state.rides),
		"loans":          len(m.state.loans),
		"ledger_entries": len(m.state.journal),
	}, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

type memTx struct {
	state *memState
	undo  []func()
}

// save records the current value of m[k] so rollback can restore it.
func save[K comparable, V any](t *memTx, m map[K]V, k K) {
	prev, ok := m[k]
	t.undo = append(t.undo, func() {
		if ok {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	p, ok := t.state.players[id]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (t *memTx) InsertPlayer(ctx context.Context, p *model.Player) error {
	if _, ok := t.state.players[p.ID]; ok {
		return fmt.Errorf("player %s already exists", p.ID)
	}
	save(t, t.state.players, p.ID)
	t.state.players[p.ID] = *p
	return nil
}

func (t *memTx) UpdatePlayer(ctx context.Context, p *model.Player) error {
	cur, ok := t.state.players[p.ID]
	if !ok {
		return fmt.Errorf("player %s: %w", p.ID, ErrNotFound)
	}
	if cur.Version != p.Version {
		return fmt.Errorf("player %s: %w", p.ID, ErrConflict)
	}
	p.Version++
	save(t, t.state.players, p.ID)
	t.state.players[p.ID] = *p
	return nil
}

func (t *memTx) GetItem(ctx context.Context, id string) (*model.Item, error) {
	item, ok := t.state.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return &item, nil
}

func (t *memTx) InsertItem(ctx context.Context, item *model.Item) error {
	if _, ok := t.state.items[item.ID]; ok {
		return fmt.Errorf("item %s already exists", item.ID)
	}
	save(t, t.state.items, item.ID)
	t.state.items[item.ID] = *item
	return nil
}

func (t *memTx) TransferItem(ctx context.Context, itemID, from, to string) error {
	item, ok := t.state.items[itemID]
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	if item.OwnerID != from {
		return fmt.Errorf("item %s: %w", itemID, ErrConflict)
	}
	item.OwnerID = to
	save(t, t.state.items, itemID)
	t.state.items[itemID] = item
	return nil
}

func (t *memTx) ListItemsByOwner(ctx context.Context, ownerID string) ([]model.Item, error) {
	items := []model.Item{}
	for _, item := range t.state.items {
		if item.OwnerID == ownerID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (t *memTx) GetListing(ctx context.Context, id string) (*model.WaiverListing, error) {
	l, ok := t.state.listings[id]
	if !ok {
		return nil, fmt.Errorf("listing %s: %w", id, ErrNotFound)
	}
	return &l, nil
}

func (t *memTx) InsertListing(ctx context.Context, l *model.WaiverListing) error {
	save(t, t.state.listings, l.ID)
	t.state.listings[l.ID] = *l
	return nil
}

func (t *memTx) UpdateListing(ctx context.Context, l *model.WaiverListing) error {
	if _, ok := t.state.listings[l.ID]; !ok {
		return fmt.Errorf("listing %s: %w", l.ID, ErrNotFound)
	}
	save(t, t.state.listings, l.ID)
	t.state.listings[l.ID] = *l
	return nil
}

func (t *memTx) GetActiveListingByItem(ctx context.Context, itemID string) (*model.WaiverListing, error) {
	for _, l := range t.state.listings {
		if l.ItemID == itemID && l.Status == model.ListingActive {
			return &l, nil
		}
	}
	return nil, fmt.Errorf("active listing for item %s: %w", itemID, ErrNotFound)
}

func (t *memTx) ListExpiredListings(ctx context.Context, now time.Time) ([]model.WaiverListing, error) {
	var out []model.WaiverListing
	for _, l := range t.state.listings {
		if l.Status == model.ListingActive && !now.Before(l.ExpiresAt) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (t *memTx) InsertBid(ctx context.Context, b *model.WaiverBid) error {
	save(t, t.state.bids, b.ListingID)
	t.state.bids[b.ListingID] = append(t.state.bids[b.ListingID], *b)
	return nil
}

func (t *memTx) CountBids(ctx context.Context, listingID string) (int, error) {
	return len(t.state.bids[listingID]), nil
}

func (t *memTx) RevealBids(ctx context.Context, listingID string) ([]model.WaiverBid, error) {
	bids := append([]model.WaiverBid(nil), t.state.bids[listingID]...)
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].PlacedAt.Before(bids[j].PlacedAt) })
	return bids, nil
}

func (t *memTx) SetBidOutcomes(ctx context.Context, listingID, winningBidID string) error {
	save(t, t.state.bids, listingID)
	bids := append([]model.WaiverBid(nil), t.state.bids[listingID]...)
	t.state.bids[listingID] = bids
	for i := range bids {
		if bids[i].ID == winningBidID {
			bids[i].Outcome = model.BidWon
		} else {
			bids[i].Outcome = model.BidLost
		}
	}
	return nil
}

func (t *memTx) GetTrade(ctx context.Context, id string) (*model.MultiItemTrade, error) {
	tr, ok := t.state.trades[id]
	if !ok {
		return nil, fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	tr = cloneTrade(tr)
	return &tr, nil
}

func (t *memTx) InsertTrade(ctx context.Context, tr *model.MultiItemTrade) error {
	save(t, t.state.trades, tr.ID)
	t.state.trades[tr.ID] = cloneTrade(*tr)
	return nil
}

func (t *memTx) UpdateTrade(ctx context.Context, tr *model.MultiItemTrade) error {
	if _, ok := t.state.trades[tr.ID]; !ok {
		return fmt.Errorf("trade %s: %w", tr.ID, ErrNotFound)
	}
	save(t, t.state.trades, tr.ID)
	t.state.trades[tr.ID] = cloneTrade(*tr)
	return nil
}

func (t *memTx) GetRide(ctx context.Context, id string) (*model.SquadRide, error) {
	r, ok := t.state.rides[id]
	if !ok {
		return nil, fmt.Errorf("ride %s: %w", id, ErrNotFound)
	}
	r = cloneRide(r)
	return &r, nil
}

func (t *memTx) InsertRide(ctx context.Context, r *model.SquadRide) error {
	save(t, t.state.rides, r.ID)
	t.state.rides[r.ID] = cloneRide(*r)
	return nil
}

func (t *memTx) UpdateRide(ctx context.Context, r *model.SquadRide) error {
	if _, ok := t.state.rides[r.ID]; !ok {
		return fmt.Errorf("ride %s: %w", r.ID, ErrNotFound)
	}
	save(t, t.state.rides, r.ID)
	t.state.rides[r.ID] = cloneRide(*r)
	return nil
}

func (t *memTx) GetLoan(ctx context.Context, id string) (*model.CommishLoan, error) {
	l, ok := t.state.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
	}
	return &l, nil
}

func (t *memTx) InsertLoan(ctx context.Context, l *model.CommishLoan) error {
	save(t, t.state.loans, l.ID)
	t.state.loans[l.ID] = *l
	return nil
}

func (t *memTx) UpdateLoan(ctx context.Context, l *model.CommishLoan) error {
	if _, ok := t.state.loans[l.ID]; !ok {
		return fmt.Errorf("loan %s: %w", l.ID, ErrNotFound)
	}
	save(t, t.state.loans, l.ID)
	t.state.loans[l.ID] = *l
	return nil
}

func (t *memTx) GetActiveLoanByBorrower(ctx context.Context, borrowerID string) (*model.CommishLoan, error) {
	for _, l := range t.state.loans {
		if l.BorrowerID == borrowerID && l.Active() {
			return &l, nil
		}
	}
	return nil, fmt.Errorf("active loan for %s: %w", borrowerID, ErrNotFound)
}

func (t *memTx) ListLoansPastDue(ctx context.Context, now time.Time) ([]model.CommishLoan, error) {
	var out []model.CommishLoan
	for _, l := range t.state.loans {
		if l.Active() && now.After(l.DueDate) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (t *memTx) AppendEntries(ctx context.Context, entries ...model.LedgerEntry) error {
	n := len(t.state.journal)
	t.undo = append(t.undo, func() { t.state.journal = t.state.journal[:n] })
	t.state.journal = append(t.state.journal, entries...)
	return nil
}

func (t *memTx) ListEntries(ctx context.Context, playerID string, limit int) ([]model.LedgerEntry, error) {
	out := []model.LedgerEntry{}
	for i := len(t.state.journal) - 1; i >= 0; i-- {
		if t.state.journal[i].PlayerID != playerID {
			continue
		}
		out = append(out, t.state.journal[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
