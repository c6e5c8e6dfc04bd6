package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"grit-ledger-api/internal/service"
	"grit-ledger-api/pkg/response"
)

// LoanHandler handles commissioner loan requests.
type LoanHandler struct {
	loans  *service.LoanService
	clock  service.Clock
	logger *slog.Logger
}

// NewLoanHandler creates a new loan handler.
func NewLoanHandler(loans *service.LoanService, clock service.Clock, logger *slog.Logger) *LoanHandler {
	return &LoanHandler{loans: loans, clock: clock, logger: componentLogger(logger, "loan_handler")}
}

type loanPlayerRequest struct {
	PlayerID string `json:"player_id"`
}

// Issue handles POST /api/v1/loans
func (h *LoanHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req loanPlayerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	loan, err := h.loans.IssueLoan(r.Context(), req.PlayerID, h.clock.Now())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Created(w, loan)
}

// Get handles GET /api/v1/loans/{id}
func (h *LoanHandler) Get(w http.ResponseWriter, r *http.Request) {
	loan, err := h.loans.GetLoan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, loan)
}

// Repay handles POST /api/v1/loans/{id}/repay
func (h *LoanHandler) Repay(w http.ResponseWriter, r *http.Request) {
	var req loanPlayerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	loan, err := h.loans.RepayLoan(r.Context(), chi.URLParam(r, "id"), req.PlayerID, h.clock.Now())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, loan)
}

// CheckDefault handles POST /api/v1/loans/{id}/check-default
func (h *LoanHandler) CheckDefault(w http.ResponseWriter, r *http.Request) {
	loan, err := h.loans.CheckDefault(r.Context(), chi.URLParam(r, "id"), h.clock.Now())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, loan)
}
