package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// Portable DDL: ids and decimals are VARCHAR, timestamps are BIGINT unix
// nanoseconds, booleans are INTEGER 0/1.
var schemaTables = []string{
	`CREATE TABLE IF NOT EXISTS players (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		grit VARCHAR(64) NOT NULL,
		locked_grit VARCHAR(64) NOT NULL,
		version BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		rarity INTEGER NOT NULL,
		owner_id VARCHAR(64) NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS waiver_listings (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		item_id VARCHAR(64) NOT NULL,
		owner_id VARCHAR(64) NOT NULL,
		listed_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		winning_bid_id VARCHAR(64) NOT NULL,
		resolved_at BIGINT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS waiver_bids (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		listing_id VARCHAR(64) NOT NULL,
		bidder_id VARCHAR(64) NOT NULL,
		amount VARCHAR(64) NOT NULL,
		placed_at BIGINT NOT NULL,
		seq BIGINT NOT NULL,
		outcome VARCHAR(16) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		proposer_id VARCHAR(64) NOT NULL,
		recipient_id VARCHAR(64) NOT NULL,
		offered_items TEXT NOT NULL,
		requested_items TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS squad_rides (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		driver_id VARCHAR(64) NOT NULL,
		legs TEXT NOT NULL,
		passengers TEXT NOT NULL,
		min_stake VARCHAR(64) NOT NULL,
		combined_american_odds BIGINT NOT NULL,
		nitro_boost VARCHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL,
		settled INTEGER NOT NULL,
		settled_at BIGINT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS commish_loans (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		borrower_id VARCHAR(64) NOT NULL,
		principal VARCHAR(64) NOT NULL,
		interest_rate VARCHAR(64) NOT NULL,
		total_owed VARCHAR(64) NOT NULL,
		issued_at BIGINT NOT NULL,
		due_date BIGINT NOT NULL,
		is_paid INTEGER NOT NULL,
		paid_at BIGINT NULL,
		is_defaulted INTEGER NOT NULL,
		defaulted_at BIGINT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		player_id VARCHAR(64) NOT NULL,
		delta VARCHAR(64) NOT NULL,
		reason VARCHAR(64) NOT NULL,
		reference VARCHAR(64) NOT NULL,
		created_at BIGINT NOT NULL
	)`,
}

type schemaIndex struct {
	name, table, columns string
}

var schemaIndexes = []schemaIndex{
	{"idx_items_owner", "items", "owner_id"},
	{"idx_waiver_item_status", "waiver_listings", "item_id, status"},
	{"idx_waiver_status_expires", "waiver_listings", "status, expires_at"},
	{"idx_bids_listing", "waiver_bids", "listing_id"},
	{"idx_loans_borrower", "commish_loans", "borrower_id"},
	{"idx_ledger_player", "ledger_entries", "player_id, created_at"},
}

// mysqlDuplicateKeyName is ER_DUP_KEYNAME.
const mysqlDuplicateKeyName = 1061

// createSchema creates the ledger tables. Statements run one at a time since
// the MySQL driver rejects multi-statement Exec by default.
func createSchema(ctx context.Context, db *sql.DB, d dialect) error {
	for _, stmt := range schemaTables {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, idx := range schemaIndexes {
		var stmt string
		if d == dialectMySQL {
			// MySQL has no CREATE INDEX IF NOT EXISTS.
			stmt = fmt.Sprintf("CREATE INDEX %s ON %s (%s)", idx.name, idx.table, idx.columns)
		} else {
			stmt = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx.name, idx.table, idx.columns)
		}

		_, err := db.ExecContext(ctx, stmt)
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateKeyName {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}
	return nil
}
