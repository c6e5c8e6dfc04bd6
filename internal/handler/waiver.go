package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"grit-ledger-api/internal/service"
	"grit-ledger-api/pkg/response"
)

// WaiverHandler handles waiver wire requests.
type WaiverHandler struct {
	auction *service.AuctionService
	clock   service.Clock
	logger  *slog.Logger
}

// NewWaiverHandler creates a new waiver handler.
func NewWaiverHandler(auction *service.AuctionService, clock service.Clock, logger *slog.Logger) *WaiverHandler {
	return &WaiverHandler{auction: auction, clock: clock, logger: componentLogger(logger, "waiver_handler")}
}

type listItemRequest struct {
	OwnerID string `json:"owner_id"`
	ItemID  string `json:"item_id"`
}

// List handles POST /api/v1/waivers
func (h *WaiverHandler) List(w http.ResponseWriter, r *http.Request) {
	var req listItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	listing, err := h.auction.ListItem(r.Context(), req.OwnerID, req.ItemID, h.clock.Now())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Created(w, listing)
}

// Get handles GET /api/v1/waivers/{id}
func (h *WaiverHandler) Get(w http.ResponseWriter, r *http.Request) {
	listing, err := h.auction.GetListing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, listing)
}

type placeBidRequest struct {
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// Bid handles POST /api/v1/waivers/{id}/bids
func (h *WaiverHandler) Bid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	receipt, err := h.auction.PlaceBid(r.Context(), chi.URLParam(r, "id"), req.BidderID, req.Amount, h.clock.Now())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Created(w, receipt)
}

// Resolve handles POST /api/v1/waivers/{id}/resolve
func (h *WaiverHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	res, err := h.auction.ResolveWaiver(r.Context(), chi.URLParam(r, "id"), h.clock.Now())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, res)
}

type cancelListingRequest struct {
	OwnerID string `json:"owner_id"`
}

// Cancel handles POST /api/v1/waivers/{id}/cancel
func (h *WaiverHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelListingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	listing, err := h.auction.CancelListing(r.Context(), chi.URLParam(r, "id"), req.OwnerID, h.clock.Now())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, listing)
}
