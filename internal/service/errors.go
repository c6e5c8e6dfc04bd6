package service

import (
	"errors"
	"fmt"

	"grit-ledger-api/internal/repository"
)

// Kind classifies a ledger failure.
type Kind string

const (
	// KindValidation is malformed input, rejected before any state is read.
	KindValidation Kind = "validation"
	// KindState is an operation that is illegal for the entity's status.
	KindState Kind = "state"
	// KindResource is missing funds or items at the point of commitment.
	KindResource Kind = "resource"
	// KindNotFound is an unknown id.
	KindNotFound Kind = "not_found"
	// KindConflict is a concurrent write; the caller may retry.
	KindConflict Kind = "conflict"
	// KindInvariant would create or destroy grit or items. Never expected.
	KindInvariant Kind = "invariant"
)

// Error is a typed ledger failure. Two Errors match under errors.Is when
// their codes are equal, so callers test against the sentinels below.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches on Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// with returns a copy of e carrying a more specific message.
func (e *Error) with(format string, args ...interface{}) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrInvalidAmount   = &Error{KindValidation, "INVALID_AMOUNT", "amount must be positive"}
	ErrSelfBid         = &Error{KindValidation, "SELF_BID", "owner cannot bid on own listing"}
	ErrSelfTrade       = &Error{KindValidation, "SELF_TRADE", "cannot trade with yourself"}
	ErrInvalidItems    = &Error{KindValidation, "INVALID_ITEMS", "invalid trade item list"}
	ErrInvalidLegs     = &Error{KindValidation, "INVALID_LEGS", "invalid parlay legs"}
	ErrOddsOutOfRange  = &Error{KindValidation, "ODDS_OUT_OF_RANGE", "combined odds out of range"}
	ErrStakeTooLow     = &Error{KindValidation, "STAKE_TOO_LOW", "stake below minimum"}
	ErrInvalidOutcome  = &Error{KindValidation, "INVALID_OUTCOME", "leg outcome must be won or lost"}
	ErrNotOwner        = &Error{KindValidation, "NOT_OWNER", "player does not own the item"}
	ErrNotParticipant  = &Error{KindValidation, "NOT_PARTICIPANT", "player is not a party to this trade"}
	ErrAlreadyRiding   = &Error{KindValidation, "ALREADY_RIDING", "player already rides"}
	ErrInvalidArgument = &Error{KindValidation, "INVALID_ARGUMENT", "invalid argument"}

	ErrWindowClosed       = &Error{KindState, "WINDOW_CLOSED", "bidding window is closed"}
	ErrWindowOpen         = &Error{KindState, "WINDOW_OPEN", "bidding window has not closed yet"}
	ErrAlreadyResolved    = &Error{KindState, "ALREADY_RESOLVED", "listing already resolved"}
	ErrAlreadyListed      = &Error{KindState, "ALREADY_LISTED", "item already listed"}
	ErrHasBids            = &Error{KindState, "HAS_BIDS", "listing has bids and cannot be cancelled"}
	ErrIllegalTransition  = &Error{KindState, "ILLEGAL_TRANSITION", "illegal status transition"}
	ErrRideClosed         = &Error{KindState, "RIDE_CLOSED", "ride is not open"}
	ErrRideNotFinal       = &Error{KindState, "RIDE_NOT_FINAL", "ride has unresolved legs"}
	ErrAlreadySettled     = &Error{KindState, "ALREADY_SETTLED", "ride already settled"}
	ErrLegAlreadyResolved = &Error{KindState, "LEG_ALREADY_RESOLVED", "leg already resolved"}
	ErrNotEligible        = &Error{KindState, "NOT_ELIGIBLE", "player is not eligible for a loan"}
	ErrActiveLoan         = &Error{KindState, "ACTIVE_LOAN", "player already has an active loan"}
	ErrLoanPaid           = &Error{KindState, "LOAN_PAID", "loan already paid"}

	ErrInsufficientFunds     = &Error{KindResource, "INSUFFICIENT_FUNDS", "insufficient funds"}
	ErrItemNoLongerAvailable = &Error{KindResource, "ITEM_NO_LONGER_AVAILABLE", "item no longer available"}

	ErrNotFound = &Error{KindNotFound, "NOT_FOUND", "not found"}
	ErrConflict = &Error{KindConflict, "CONFLICT", "concurrent modification, retry"}

	ErrInvariant = &Error{KindInvariant, "INVARIANT_VIOLATION", "ledger invariant violated"}
)

// KindOf returns the kind of err, or "" if err is not a ledger Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// storeErr maps repository sentinels onto ledger errors.
func storeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound.with("%s not found", what)
	case errors.Is(err, repository.ErrConflict):
		return ErrConflict.with("%s changed concurrently, retry", what)
	}
	return err
}
