package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommishLoan is a fixed-term credit line issued to a broke player.
type CommishLoan struct {
	ID           string          `json:"id"`
	BorrowerID   string          `json:"borrower_id"`
	Principal    decimal.Decimal `json:"principal"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	TotalOwed    decimal.Decimal `json:"total_owed"`
	IssuedAt     time.Time       `json:"issued_at"`
	DueDate      time.Time       `json:"due_date"`
	IsPaid       bool            `json:"is_paid"`
	PaidAt       *time.Time      `json:"paid_at,omitempty"`
	IsDefaulted  bool            `json:"is_defaulted"`
	DefaultedAt  *time.Time      `json:"defaulted_at,omitempty"`
}

// Active reports whether the loan is neither paid nor defaulted.
func (l *CommishLoan) Active() bool {
	return !l.IsPaid && !l.IsDefaulted
}

// LedgerEntry journals one grit movement.
type LedgerEntry struct {
	ID        string          `json:"id"`
	PlayerID  string          `json:"player_id"`
	Delta     decimal.Decimal `json:"delta"`
	Reason    string          `json:"reason"`
	Reference string          `json:"reference"`
	CreatedAt time.Time       `json:"created_at"`
}

// SystemAccount is the journal account for burned and forfeited grit.
const SystemAccount = "commish"
