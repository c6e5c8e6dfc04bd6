package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"grit-ledger-api/internal/model"
	"grit-ledger-api/internal/service"
	"grit-ledger-api/pkg/apierror"
	"grit-ledger-api/pkg/response"
)

// PlayerHandler handles player, item and journal requests.
type PlayerHandler struct {
	wallet *service.WalletService
	clock  service.Clock
	logger *slog.Logger
}

// NewPlayerHandler creates a new player handler.
func NewPlayerHandler(wallet *service.WalletService, clock service.Clock, logger *slog.Logger) *PlayerHandler {
	return &PlayerHandler{wallet: wallet, clock: clock, logger: componentLogger(logger, "player_handler")}
}

type registerPlayerRequest struct {
	Name         string          `json:"name"`
	StartingGrit decimal.Decimal `json:"starting_grit"`
}

// Register handles POST /api/v1/players
func (h *PlayerHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerPlayerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	p, err := h.wallet.RegisterPlayer(r.Context(), req.Name, req.StartingGrit, h.clock.Now())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Created(w, p)
}

// Get handles GET /api/v1/players/{id}
func (h *PlayerHandler) Get(w http.ResponseWriter, r *http.Request) {
	state, err := h.wallet.GetPlayer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, state)
}

type grantRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Grant handles POST /api/v1/players/{id}/grant
func (h *PlayerHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	p, err := h.wallet.Grant(r.Context(), chi.URLParam(r, "id"), req.Amount, h.clock.Now())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, p)
}

// Journal handles GET /api/v1/players/{id}/journal?limit=N
func (h *PlayerHandler) Journal(w http.ResponseWriter, r *http.Request) {
	limit := service.DefaultJournalLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, r, h.logger, apierror.BadRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, service.MaxJournalLimit)
	}
	entries, err := h.wallet.Journal(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSONWithMeta(w, http.StatusOK, entries, limit, len(entries))
}

type mintItemRequest struct {
	OwnerID string       `json:"owner_id"`
	Name    string       `json:"name"`
	Rarity  model.Rarity `json:"rarity"`
}

// MintItem handles POST /api/v1/items
func (h *PlayerHandler) MintItem(w http.ResponseWriter, r *http.Request) {
	var req mintItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	item, err := h.wallet.MintItem(r.Context(), req.OwnerID, req.Name, req.Rarity, h.clock.Now())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Created(w, item)
}
