package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"grit-ledger-api/internal/model"
)

type sqlTx struct {
	tx      *sql.Tx
	dialect dialect
}

func (t *sqlTx) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.rebind(query), args...)
}

func (t *sqlTx) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.rebind(query), args...)
}

func (t *sqlTx) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.rebind(query), args...)
}

// expectOne turns a zero-row update into err.
func expectOne(res sql.Result, err error, what string, notMatched error) error {
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, notMatched)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

// Players

func (t *sqlTx) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	var p model.Player
	var created int64
	err := t.queryRow(ctx, `SELECT id, name, grit, locked_grit, version, created_at FROM players WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Grit, &p.LockedGrit, &p.Version, &created)
	if err != nil {
		return nil, notFound(err, "player "+id)
	}
	p.CreatedAt = fromNanos(created)
	return &p, nil
}

func (t *sqlTx) InsertPlayer(ctx context.Context, p *model.Player) error {
	_, err := t.exec(ctx, `INSERT INTO players (id, name, grit, locked_grit, version, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Grit.String(), p.LockedGrit.String(), p.Version, toNanos(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert player: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdatePlayer(ctx context.Context, p *model.Player) error {
	res, err := t.exec(ctx, `UPDATE players SET name = ?, grit = ?, locked_grit = ?, version = ? WHERE id = ? AND version = ?`,
		p.Name, p.Grit.String(), p.LockedGrit.String(), p.Version+1, p.ID, p.Version)
	if err := expectOne(res, err, "player "+p.ID, ErrConflict); err != nil {
		return err
	}
	p.Version++
	return nil
}

// Items

func scanItem(row interface{ Scan(...interface{}) error }) (*model.Item, error) {
	var item model.Item
	var rarity int
	var created int64
	if err := row.Scan(&item.ID, &item.Name, &rarity, &item.OwnerID, &created); err != nil {
		return nil, err
	}
	item.Rarity = model.Rarity(rarity)
	item.CreatedAt = fromNanos(created)
	return &item, nil
}

func (t *sqlTx) GetItem(ctx context.Context, id string) (*model.Item, error) {
	item, err := scanItem(t.queryRow(ctx, `SELECT id, name, rarity, owner_id, created_at FROM items WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "item "+id)
	}
	return item, nil
}

func (t *sqlTx) InsertItem(ctx context.Context, item *model.Item) error {
	_, err := t.exec(ctx, `INSERT INTO items (id, name, rarity, owner_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.Name, int(item.Rarity), item.OwnerID, toNanos(item.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

func (t *sqlTx) TransferItem(ctx context.Context, itemID, from, to string) error {
	res, err := t.exec(ctx, `UPDATE items SET owner_id = ? WHERE id = ? AND owner_id = ?`, to, itemID, from)
	return expectOne(res, err, "item "+itemID, ErrConflict)
}

func (t *sqlTx) ListItemsByOwner(ctx context.Context, ownerID string) ([]model.Item, error) {
	rows, err := t.query(ctx, `SELECT id, name, rarity, owner_id, created_at FROM items WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// Waivers

const listingColumns = `id, item_id, owner_id, listed_at, expires_at, status, winning_bid_id, resolved_at`

func scanListing(row interface{ Scan(...interface{}) error }) (*model.WaiverListing, error) {
	var l model.WaiverListing
	var listed, expires int64
	var resolved sql.NullInt64
	if err := row.Scan(&l.ID, &l.ItemID, &l.OwnerID, &listed, &expires, &l.Status, &l.WinningBidID, &resolved); err != nil {
		return nil, err
	}
	l.ListedAt = fromNanos(listed)
	l.ExpiresAt = fromNanos(expires)
	l.ResolvedAt = fromNullNanos(resolved)
	return &l, nil
}

func (t *sqlTx) GetListing(ctx context.Context, id string) (*model.WaiverListing, error) {
	l, err := scanListing(t.queryRow(ctx, `SELECT `+listingColumns+` FROM waiver_listings WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "listing "+id)
	}
	return l, nil
}

func (t *sqlTx) InsertListing(ctx context.Context, l *model.WaiverListing) error {
	_, err := t.exec(ctx, `INSERT INTO waiver_listings (`+listingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ItemID, l.OwnerID, toNanos(l.ListedAt), toNanos(l.ExpiresAt), string(l.Status), l.WinningBidID, nullNanos(l.ResolvedAt))
	if err != nil {
		return fmt.Errorf("failed to insert listing: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdateListing(ctx context.Context, l *model.WaiverListing) error {
	res, err := t.exec(ctx, `UPDATE waiver_listings SET status = ?, winning_bid_id = ?, resolved_at = ? WHERE id = ?`,
		string(l.Status), l.WinningBidID, nullNanos(l.ResolvedAt), l.ID)
	return expectOne(res, err, "listing "+l.ID, ErrNotFound)
}

func (t *sqlTx) GetActiveListingByItem(ctx context.Context, itemID string) (*model.WaiverListing, error) {
	l, err := scanListing(t.queryRow(ctx, `SELECT `+listingColumns+` FROM waiver_listings WHERE item_id = ? AND status = ?`,
		itemID, string(model.ListingActive)))
	if err != nil {
		return nil, notFound(err, "active listing for item "+itemID)
	}
	return l, nil
}

func (t *sqlTx) ListExpiredListings(ctx context.Context, now time.Time) ([]model.WaiverListing, error) {
	rows, err := t.query(ctx, `SELECT `+listingColumns+` FROM waiver_listings WHERE status = ? AND expires_at <= ? ORDER BY expires_at`,
		string(model.ListingActive), toNanos(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired listings: %w", err)
	}
	defer rows.Close()

	var out []model.WaiverListing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (t *sqlTx) InsertBid(ctx context.Context, b *model.WaiverBid) error {
	n, err := t.CountBids(ctx, b.ListingID)
	if err != nil {
		return err
	}
	_, err = t.exec(ctx, `INSERT INTO waiver_bids (id, listing_id, bidder_id, amount, placed_at, seq, outcome) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ListingID, b.BidderID, b.Amount.String(), toNanos(b.PlacedAt), n+1, string(b.Outcome))
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

func (t *sqlTx) CountBids(ctx context.Context, listingID string) (int, error) {
	var n int
	if err := t.queryRow(ctx, `SELECT COUNT(*) FROM waiver_bids WHERE listing_id = ?`, listingID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count bids: %w", err)
	}
	return n, nil
}

func (t *sqlTx) RevealBids(ctx context.Context, listingID string) ([]model.WaiverBid, error) {
	rows, err := t.query(ctx, `SELECT id, listing_id, bidder_id, amount, placed_at, outcome FROM waiver_bids WHERE listing_id = ? ORDER BY placed_at, seq`, listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to reveal bids: %w", err)
	}
	defer rows.Close()

	var out []model.WaiverBid
	for rows.Next() {
		var b model.WaiverBid
		var placed int64
		if err := rows.Scan(&b.ID, &b.ListingID, &b.BidderID, &b.Amount, &placed, &b.Outcome); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		b.PlacedAt = fromNanos(placed)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *sqlTx) SetBidOutcomes(ctx context.Context, listingID, winningBidID string) error {
	if _, err := t.exec(ctx, `UPDATE waiver_bids SET outcome = ? WHERE listing_id = ? AND id <> ?`,
		string(model.BidLost), listingID, winningBidID); err != nil {
		return fmt.Errorf("failed to mark losing bids: %w", err)
	}
	if winningBidID == "" {
		return nil
	}
	res, err := t.exec(ctx, `UPDATE waiver_bids SET outcome = ? WHERE listing_id = ? AND id = ?`,
		string(model.BidWon), listingID, winningBidID)
	return expectOne(res, err, "bid "+winningBidID, ErrNotFound)
}

// Trades

func (t *sqlTx) GetTrade(ctx context.Context, id string) (*model.MultiItemTrade, error) {
	var tr model.MultiItemTrade
	var offered, requested string
	var created, updated int64
	err := t.queryRow(ctx, `SELECT id, proposer_id, recipient_id, offered_items, requested_items, status, created_at, updated_at FROM trades WHERE id = ?`, id).
		Scan(&tr.ID, &tr.ProposerID, &tr.RecipientID, &offered, &requested, &tr.Status, &created, &updated)
	if err != nil {
		return nil, notFound(err, "trade "+id)
	}
	if err := json.Unmarshal([]byte(offered), &tr.OfferedItemIDs); err != nil {
		return nil, fmt.Errorf("failed to decode offered items: %w", err)
	}
	if err := json.Unmarshal([]byte(requested), &tr.RequestedItemIDs); err != nil {
		return nil, fmt.Errorf("failed to decode requested items: %w", err)
	}
	tr.CreatedAt = fromNanos(created)
	tr.UpdatedAt = fromNanos(updated)
	return &tr, nil
}

func (t *sqlTx) InsertTrade(ctx context.Context, tr *model.MultiItemTrade) error {
	offered, err := json.Marshal(tr.OfferedItemIDs)
	if err != nil {
		return err
	}
	requested, err := json.Marshal(tr.RequestedItemIDs)
	if err != nil {
		return err
	}
	_, err = t.exec(ctx, `INSERT INTO trades (id, proposer_id, recipient_id, offered_items, requested_items, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.ProposerID, tr.RecipientID, string(offered), string(requested), string(tr.Status), toNanos(tr.CreatedAt), toNanos(tr.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdateTrade(ctx context.Context, tr *model.MultiItemTrade) error {
	res, err := t.exec(ctx, `UPDATE trades SET status = ?, updated_at = ? WHERE id = ?`,
		string(tr.Status), toNanos(tr.UpdatedAt), tr.ID)
	return expectOne(res, err, "trade "+tr.ID, ErrNotFound)
}

// Rides

func (t *sqlTx) GetRide(ctx context.Context, id string) (*model.SquadRide, error) {
	var r model.SquadRide
	var legs, passengers string
	var settled int
	var settledAt sql.NullInt64
	var created int64
	err := t.queryRow(ctx, `SELECT id, driver_id, legs, passengers, min_stake, combined_american_odds, nitro_boost, status, settled, settled_at, created_at FROM squad_rides WHERE id = ?`, id).
		Scan(&r.ID, &r.DriverID, &legs, &passengers, &r.MinStake, &r.CombinedAmericanOdds, &r.NitroBoostMultiplier, &r.Status, &settled, &settledAt, &created)
	if err != nil {
		return nil, notFound(err, "ride "+id)
	}
	if err := json.Unmarshal([]byte(legs), &r.Legs); err != nil {
		return nil, fmt.Errorf("failed to decode legs: %w", err)
	}
	if err := json.Unmarshal([]byte(passengers), &r.Passengers); err != nil {
		return nil, fmt.Errorf("failed to decode passengers: %w", err)
	}
	r.Settled = settled != 0
	r.SettledAt = fromNullNanos(settledAt)
	r.CreatedAt = fromNanos(created)
	return &r, nil
}

func encodeRide(r *model.SquadRide) (legs, passengers string, err error) {
	l, err := json.Marshal(r.Legs)
	if err != nil {
		return "", "", err
	}
	p, err := json.Marshal(r.Passengers)
	if err != nil {
		return "", "", err
	}
	return string(l), string(p), nil
}

func (t *sqlTx) InsertRide(ctx context.Context, r *model.SquadRide) error {
	legs, passengers, err := encodeRide(r)
	if err != nil {
		return err
	}
	_, err = t.exec(ctx, `INSERT INTO squad_rides (id, driver_id, legs, passengers, min_stake, combined_american_odds, nitro_boost, status, settled, settled_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.DriverID, legs, passengers, r.MinStake.String(), r.CombinedAmericanOdds, r.NitroBoostMultiplier.String(),
		string(r.Status), boolInt(r.Settled), nullNanos(r.SettledAt), toNanos(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert ride: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdateRide(ctx context.Context, r *model.SquadRide) error {
	legs, passengers, err := encodeRide(r)
	if err != nil {
		return err
	}
	res, err := t.exec(ctx, `UPDATE squad_rides SET legs = ?, passengers = ?, nitro_boost = ?, status = ?, settled = ?, settled_at = ? WHERE id = ?`,
		legs, passengers, r.NitroBoostMultiplier.String(), string(r.Status), boolInt(r.Settled), nullNanos(r.SettledAt), r.ID)
	return expectOne(res, err, "ride "+r.ID, ErrNotFound)
}

// Loans

const loanColumns = `id, borrower_id, principal, interest_rate, total_owed, issued_at, due_date, is_paid, paid_at, is_defaulted, defaulted_at`

func scanLoan(row interface{ Scan(...interface{}) error }) (*model.CommishLoan, error) {
	var l model.CommishLoan
	var issued, due int64
	var paid, defaulted int
	var paidAt, defaultedAt sql.NullInt64
	if err := row.Scan(&l.ID, &l.BorrowerID, &l.Principal, &l.InterestRate, &l.TotalOwed, &issued, &due, &paid, &paidAt, &defaulted, &defaultedAt); err != nil {
		return nil, err
	}
	l.IssuedAt = fromNanos(issued)
	l.DueDate = fromNanos(due)
	l.IsPaid = paid != 0
	l.PaidAt = fromNullNanos(paidAt)
	l.IsDefaulted = defaulted != 0
	l.DefaultedAt = fromNullNanos(defaultedAt)
	return &l, nil
}

func (t *sqlTx) GetLoan(ctx context.Context, id string) (*model.CommishLoan, error) {
	l, err := scanLoan(t.queryRow(ctx, `SELECT `+loanColumns+` FROM commish_loans WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "loan "+id)
	}
	return l, nil
}

func (t *sqlTx) InsertLoan(ctx context.Context, l *model.CommishLoan) error {
	_, err := t.exec(ctx, `INSERT INTO commish_loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.BorrowerID, l.Principal.String(), l.InterestRate.String(), l.TotalOwed.String(),
		toNanos(l.IssuedAt), toNanos(l.DueDate), boolInt(l.IsPaid), nullNanos(l.PaidAt), boolInt(l.IsDefaulted), nullNanos(l.DefaultedAt))
	if err != nil {
		return fmt.Errorf("failed to insert loan: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdateLoan(ctx context.Context, l *model.CommishLoan) error {
	res, err := t.exec(ctx, `UPDATE commish_loans SET is_paid = ?, paid_at = ?, is_defaulted = ?, defaulted_at = ? WHERE id = ?`,
		boolInt(l.IsPaid), nullNanos(l.PaidAt), boolInt(l.IsDefaulted), nullNanos(l.DefaultedAt), l.ID)
	return expectOne(res, err, "loan "+l.ID, ErrNotFound)
}

func (t *sqlTx) GetActiveLoanByBorrower(ctx context.Context, borrowerID string) (*model.CommishLoan, error) {
	l, err := scanLoan(t.queryRow(ctx, `SELECT `+loanColumns+` FROM commish_loans WHERE borrower_id = ? AND is_paid = 0 AND is_defaulted = 0`, borrowerID))
	if err != nil {
		return nil, notFound(err, "active loan for "+borrowerID)
	}
	return l, nil
}

func (t *sqlTx) ListLoansPastDue(ctx context.Context, now time.Time) ([]model.CommishLoan, error) {
	rows, err := t.query(ctx, `SELECT `+loanColumns+` FROM commish_loans WHERE is_paid = 0 AND is_defaulted = 0 AND due_date < ? ORDER BY due_date`, toNanos(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list past due loans: %w", err)
	}
	defer rows.Close()

	var out []model.CommishLoan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// Journal

func (t *sqlTx) AppendEntries(ctx context.Context, entries ...model.LedgerEntry) error {
	for _, e := range entries {
		_, err := t.exec(ctx, `INSERT INTO ledger_entries (id, player_id, delta, reason, reference, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.PlayerID, e.Delta.String(), e.Reason, e.Reference, toNanos(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
	}
	return nil
}

func (t *sqlTx) ListEntries(ctx context.Context, playerID string, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.query(ctx, `SELECT id, player_id, delta, reason, reference, created_at FROM ledger_entries WHERE player_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	out := []model.LedgerEntry{}
	for rows.Next() {
		var e model.LedgerEntry
		var created int64
		if err := rows.Scan(&e.ID, &e.PlayerID, &e.Delta, &e.Reason, &e.Reference, &created); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.CreatedAt = fromNanos(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
