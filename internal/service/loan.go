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

// LoanService issues and collects Commish loans, a fixed-size mercy loan for
// players who have run low.
type LoanService struct {
	base
}

// NewLoanService creates a new loan service.
func NewLoanService(store repository.Store, locker lock.Locker, policy Policy, logger *slog.Logger) *LoanService {
	return &LoanService{base: newBase(store, locker, policy, logger, "loans")}
}

func borrowerKey(playerID string) string { return "loan:" + playerID }

// IssueLoan credits the standard principal to a player below the mercy
// threshold who has no active loan.
func (s *LoanService) IssueLoan(ctx context.Context, playerID string, now time.Time) (*model.CommishLoan, error) {
	if err := requireID("player_id", playerID); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, borrowerKey(playerID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var loan *model.CommishLoan
	err = s.store.Atomic(ctx, func(tx repository.Tx) error {
		p, err := getPlayer(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if !p.Grit.LessThan(s.policy.MercyThreshold) {
			return ErrNotEligible.with("balance %s is not below %s", p.Grit, s.policy.MercyThreshold)
		}
		switch existing, err := tx.GetActiveLoanByBorrower(ctx, playerID); {
		case err == nil:
			return ErrActiveLoan.with("loan %s is still open", existing.ID)
		case !errors.Is(err, repository.ErrNotFound):
			return storeErr(err, "loan")
		}

		principal := s.policy.LoanPrincipal
		loan = &model.CommishLoan{
			ID:           uid.New(),
			BorrowerID:   playerID,
			Principal:    principal,
			InterestRate: s.policy.LoanRate,
			TotalOwed:    principal.Add(principal.Mul(s.policy.LoanRate)),
			IssuedAt:     now,
			DueDate:      now.Add(s.policy.LoanTerm),
		}

		p.Grit = p.Grit.Add(principal)
		if err := savePlayer(ctx, tx, p); err != nil {
			return err
		}
		if err := tx.InsertLoan(ctx, loan); err != nil {
			return storeErr(err, "loan")
		}
		j := newJournal(loan.ID, now)
		j.move(playerID, principal, ReasonLoanIssue)
		return storeErr(j.flush(ctx, tx), "journal")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("loan issued", "loan_id", loan.ID, "player_id", playerID, "total_owed", loan.TotalOwed, "due", loan.DueDate)
	return loan, nil
}

// RepayLoan deducts the full amount owed. A defaulted loan can still be
// repaid; it keeps its default flag.
func (s *LoanService) RepayLoan(ctx context.Context, loanID, playerID string, now time.Time) (*model.CommishLoan, error) {
	if err := requireID("loan_id", loanID); err != nil {
		return nil, err
	}
	if err := requireID("player_id", playerID); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, borrowerKey(playerID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var loan *model.CommishLoan
	err = s.store.Atomic(ctx, func(tx repository.Tx) error {
		var err error
		loan, err = tx.GetLoan(ctx, loanID)
		if err != nil {
			return storeErr(err, "loan "+loanID)
		}
		if loan.BorrowerID != playerID {
			return ErrNotOwner.with("loan %s belongs to another player", loanID)
		}
		if loan.IsPaid {
			return ErrLoanPaid
		}

		p, err := getPlayer(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if p.Available().LessThan(loan.TotalOwed) {
			return ErrInsufficientFunds.with("owes %s, has %s available", loan.TotalOwed, p.Available())
		}
		p.Grit = p.Grit.Sub(loan.TotalOwed)
		if err := savePlayer(ctx, tx, p); err != nil {
			return err
		}

		paidAt := now
		loan.IsPaid = true
		loan.PaidAt = &paidAt
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return storeErr(err, "loan "+loanID)
		}
		j := newJournal(loan.ID, now)
		j.move(playerID, loan.TotalOwed.Neg(), ReasonLoanRepay)
		return storeErr(j.flush(ctx, tx), "journal")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("loan repaid", "loan_id", loanID, "player_id", playerID, "defaulted", loan.IsDefaulted)
	return loan, nil
}

// CheckDefault marks an unpaid loan defaulted once now is past its due date.
// It is idempotent and returns the loan either way.
func (s *LoanService) CheckDefault(ctx context.Context, loanID string, now time.Time) (*model.CommishLoan, error) {
	if err := requireID("loan_id", loanID); err != nil {
		return nil, err
	}

	// Repayment locks on the borrower, so take the same key.
	loan, err := s.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, borrowerKey(loan.BorrowerID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	marked := false
	err = s.store.Atomic(ctx, func(tx repository.Tx) error {
		var err error
		loan, err = tx.GetLoan(ctx, loanID)
		if err != nil {
			return storeErr(err, "loan "+loanID)
		}
		if loan.IsPaid || loan.IsDefaulted || !now.After(loan.DueDate) {
			return nil
		}
		defaultedAt := now
		loan.IsDefaulted = true
		loan.DefaultedAt = &defaultedAt
		marked = true
		return storeErr(tx.UpdateLoan(ctx, loan), "loan "+loanID)
	})
	if err != nil {
		return nil, err
	}

	if marked {
		s.logger.Warn("loan defaulted", "loan_id", loanID, "player_id", loan.BorrowerID, "total_owed", loan.TotalOwed)
	}
	return loan, nil
}

// GetLoan returns a loan by id.
func (s *LoanService) GetLoan(ctx context.Context, loanID string) (*model.CommishLoan, error) {
	var loan *model.CommishLoan
	err := s.store.Atomic(ctx, func(tx repository.Tx) error {
		var err error
		loan, err = tx.GetLoan(ctx, loanID)
		return storeErr(err, "loan "+loanID)
	})
	return loan, err
}

// PastDueLoans returns the ids of active loans past their due date.
func (s *LoanService) PastDueLoans(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.store.Atomic(ctx, func(tx repository.Tx) error {
		loans, err := tx.ListLoansPastDue(ctx, now)
		if err != nil {
			return err
		}
		for _, l := range loans {
			ids = append(ids, l.ID)
		}
		return nil
	})
	return ids, err
}
