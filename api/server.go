/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Latency histogram by route pattern
  5. CORS:       Cross-origin requests for the game frontend
  6. Auth:       Bearer JWT on /api routes (except /api/ws)

ROUTE GROUPS:
  /api/clans/{id}/*     Clan reads, stock votes, redeem
  /api/users/{username} Player profiles
  /api/admin/*          Stock rates (admin)
  /api/scenarios/*      Demo worlds (admin)
  /api/ws               Realtime events
  /health, /metrics     Operations

PERMISSIONS:
  Any player may read a clan's money. The clan document, transaction
  history and every /transfer route require membership of the clan in the
  path, or an admin/mod role; the engine then applies the leader and quorum
  rules.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/freshy/clanwars/auth"
	"github.com/freshy/clanwars/ledger"
)

// RouterOptions holds the pieces of the router that live outside Handler.
type RouterOptions struct {
	Auth           *auth.Issuer
	AllowedOrigins []string
	// Realtime serves the WebSocket endpoint; nil disables /api/ws.
	Realtime http.HandlerFunc
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		if opts.Realtime != nil {
			r.Get("/ws", opts.Realtime)
		}

		r.Group(func(r chi.Router) {
			r.Use(opts.Auth.Middleware(h.Store))

			// Clan routes
			r.Route("/clans/{id}", func(r chi.Router) {
				r.Get("/money", h.GetClanMoney)

				r.Group(func(r chi.Router) {
					r.Use(requireClanAccess)
					r.Get("/", h.GetClan)
					r.Get("/transactions", h.GetClanTransactions)

					r.Route("/transfer", func(r chi.Router) {
						r.Get("/stock", h.GetPendingStock)
						r.Post("/stock", h.CreateStock)
						r.Patch("/stock", h.ConfirmStock)
						r.Delete("/stock", h.RejectStock)
						r.Post("/redeem", h.Redeem)
					})
				})
			})

			// User routes
			r.Route("/users/{username}", func(r chi.Router) {
				r.Get("/", h.GetUser)
				r.Get("/properties", h.GetUserProperties)
			})

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)
				r.Put("/admin/stocks/{symbol}", h.PutStockRate)

				r.Route("/scenarios", func(r chi.Router) {
					r.Get("/", h.ListScenarios)
					r.Get("/current", h.GetCurrentScenario)
					r.Post("/load", h.LoadScenario)
				})
			})
		})
	})

	return r
}

// requireClanAccess allows members of the clan in the path, admins and mods.
func requireClanAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, DenialResponse{Message: "Unauthorized"})
			return
		}
		if user.ClanID != ledger.ClanID(chi.URLParam(r, "id")) && !user.Elevated() {
			writeJSON(w, http.StatusForbidden, DenialResponse{Message: "You are not a member of this clan"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, DenialResponse{Message: "Unauthorized"})
			return
		}
		if !user.IsAdmin() {
			writeJSON(w, http.StatusForbidden, DenialResponse{Message: "admin only"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
