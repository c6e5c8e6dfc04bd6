package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"grit-ledger-api/internal/model"
	"grit-ledger-api/internal/service"
	"grit-ledger-api/pkg/response"
)

// TradeHandler handles barter exchange requests.
type TradeHandler struct {
	barter *service.BarterService
	clock  service.Clock
	logger *slog.Logger
}

// NewTradeHandler creates a new trade handler.
func NewTradeHandler(barter *service.BarterService, clock service.Clock, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{barter: barter, clock: clock, logger: componentLogger(logger, "trade_handler")}
}

type proposeTradeRequest struct {
	ProposerID       string   `json:"proposer_id"`
	RecipientID      string   `json:"recipient_id"`
	OfferedItemIDs   []string `json:"offered_item_ids"`
	RequestedItemIDs []string `json:"requested_item_ids"`
}

// Propose handles POST /api/v1/trades
func (h *TradeHandler) Propose(w http.ResponseWriter, r *http.Request) {
	var req proposeTradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	trade, err := h.barter.ProposeTrade(r.Context(), service.TradeProposal{
		ProposerID:       req.ProposerID,
		RecipientID:      req.RecipientID,
		OfferedItemIDs:   req.OfferedItemIDs,
		RequestedItemIDs: req.RequestedItemIDs,
	}, h.clock.Now())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Created(w, trade)
}

// Get handles GET /api/v1/trades/{id}
func (h *TradeHandler) Get(w http.ResponseWriter, r *http.Request) {
	trade, err := h.barter.GetTrade(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, trade)
}

type tradeActionRequest struct {
	PlayerID string `json:"player_id"`
}

type tradeAction func(ctx context.Context, tradeID, playerID string, now time.Time) (*model.MultiItemTrade, error)

// act decodes the acting player and applies one trade transition.
func (h *TradeHandler) act(fn tradeAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tradeActionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		trade, err := fn(r.Context(), chi.URLParam(r, "id"), req.PlayerID, h.clock.Now())
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		response.OK(w, trade)
	}
}

// Accept handles POST /api/v1/trades/{id}/accept
func (h *TradeHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.act(h.barter.AcceptTrade)(w, r)
}

// Confirm handles POST /api/v1/trades/{id}/confirm
func (h *TradeHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.act(h.barter.ConfirmTrade)(w, r)
}

// Reject handles POST /api/v1/trades/{id}/reject
func (h *TradeHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.act(h.barter.RejectTrade)(w, r)
}

// Cancel handles POST /api/v1/trades/{id}/cancel
func (h *TradeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.act(h.barter.CancelTrade)(w, r)
}
