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

// RideHandler handles squad ride requests.
type RideHandler struct {
	squad  *service.SquadService
	clock  service.Clock
	logger *slog.Logger
}

// NewRideHandler creates a new ride handler.
func NewRideHandler(squad *service.SquadService, clock service.Clock, logger *slog.Logger) *RideHandler {
	return &RideHandler{squad: squad, clock: clock, logger: componentLogger(logger, "ride_handler")}
}

type legRequest struct {
	GameID       string `json:"game_id"`
	Pick         string `json:"pick"`
	AmericanOdds int64  `json:"american_odds"`
}

type createRideRequest struct {
	DriverID string          `json:"driver_id"`
	Legs     []legRequest    `json:"legs"`
	Stake    decimal.Decimal `json:"stake"`
	MinStake decimal.Decimal `json:"min_stake"`
}

// Create handles POST /api/v1/rides
func (h *RideHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	legs := make([]service.LegInput, 0, len(req.Legs))
	for _, l := range req.Legs {
		legs = append(legs, service.LegInput{GameID: l.GameID, Pick: l.Pick, AmericanOdds: l.AmericanOdds})
	}
	ride, err := h.squad.CreateRide(r.Context(), service.CreateRideInput{
		DriverID: req.DriverID,
		Legs:     legs,
		Stake:    req.Stake,
		MinStake: req.MinStake,
	}, h.clock.Now())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Created(w, ride)
}

// Get handles GET /api/v1/rides/{id}
func (h *RideHandler) Get(w http.ResponseWriter, r *http.Request) {
	ride, err := h.squad.GetRide(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, ride)
}

type joinRideRequest struct {
	PlayerID string          `json:"player_id"`
	Stake    decimal.Decimal `json:"stake"`
}

// Join handles POST /api/v1/rides/{id}/join
func (h *RideHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	ride, err := h.squad.JoinRide(r.Context(), chi.URLParam(r, "id"), req.PlayerID, req.Stake, h.clock.Now())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, ride)
}

type resolveLegRequest struct {
	Outcome model.LegStatus `json:"outcome"`
}

// ResolveLeg handles POST /api/v1/rides/{id}/legs/{index}
func (h *RideHandler) ResolveLeg(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, r, h.logger, apierror.BadRequest("invalid leg index").WithDetails(apierror.FieldError{
			Field:   "index",
			Message: "must be an integer",
		}))
		return
	}
	var req resolveLegRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	ride, err := h.squad.ResolveLeg(r.Context(), chi.URLParam(r, "id"), index, req.Outcome)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, ride)
}

// Settle handles POST /api/v1/rides/{id}/settle
func (h *RideHandler) Settle(w http.ResponseWriter, r *http.Request) {
	res, err := h.squad.SettleRide(r.Context(), chi.URLParam(r, "id"), h.clock.Now())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, res)
}
