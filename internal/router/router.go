package router

import (
	"log/slog"
	"net/http"

	"grit-ledger-api/internal/handler"
	"grit-ledger-api/internal/middleware"
	"grit-ledger-api/pkg/apierror"
	"grit-ledger-api/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler        *handler.Handler
	AdminHandler   *handler.AdminHandler
	PlayerHandler  *handler.PlayerHandler
	WaiverHandler  *handler.WaiverHandler
	TradeHandler   *handler.TradeHandler
	RideHandler    *handler.RideHandler
	LoanHandler    *handler.LoanHandler
	AuthMiddleware func(http.Handler) http.Handler
	Idempotency    func(http.Handler) http.Handler
	Logger         *slog.Logger
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key", middleware.IdempotencyHeader},
		ExposedHeaders:   []string{"X-Request-ID", "Idempotent-Replayed"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, apierror.NotFound("no route for "+r.Method+" "+r.URL.Path))
	})

	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
		}

		r.Group(func(r chi.Router) {
			if cfg.AuthMiddleware != nil {
				r.Use(cfg.AuthMiddleware)
			}
			if cfg.Idempotency != nil {
				r.Use(cfg.Idempotency)
			}

			if h := cfg.PlayerHandler; h != nil {
				r.Post("/players", h.Register)
				r.Route("/players/{id}", func(r chi.Router) {
					r.Get("/", h.Get)
					r.Post("/grant", h.Grant)
					r.Get("/journal", h.Journal)
				})
				r.Post("/items", h.MintItem)
			}

			if h := cfg.WaiverHandler; h != nil {
				r.Post("/waivers", h.List)
				r.Route("/waivers/{id}", func(r chi.Router) {
					r.Get("/", h.Get)
					r.Post("/bids", h.Bid)
					r.Post("/resolve", h.Resolve)
					r.Post("/cancel", h.Cancel)
				})
			}

			if h := cfg.TradeHandler; h != nil {
				r.Post("/trades", h.Propose)
				r.Route("/trades/{id}", func(r chi.Router) {
					r.Get("/", h.Get)
					r.Post("/accept", h.Accept)
					r.Post("/confirm", h.Confirm)
					r.Post("/reject", h.Reject)
					r.Post("/cancel", h.Cancel)
				})
			}

			if h := cfg.RideHandler; h != nil {
				r.Post("/rides", h.Create)
				r.Route("/rides/{id}", func(r chi.Router) {
					r.Get("/", h.Get)
					r.Post("/join", h.Join)
					r.Post("/legs/{index}", h.ResolveLeg)
					r.Post("/settle", h.Settle)
				})
			}

			if h := cfg.LoanHandler; h != nil {
				r.Post("/loans", h.Issue)
				r.Route("/loans/{id}", func(r chi.Router) {
					r.Get("/", h.Get)
					r.Post("/repay", h.Repay)
					r.Post("/check-default", h.CheckDefault)
				})
			}

			if cfg.AdminHandler != nil {
				r.Get("/admin/stats", cfg.AdminHandler.GetStats)
			}
		})
	})

	return r
}
