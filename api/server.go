/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. AccessLog:  One logrus entry per request
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend
  5. Account:    /api only; X-Account-ID into the request context

ROUTE GROUPS:
  /healthz                  Liveness, no account needed
  /api/groups/*             Groups and memberships
  /api/clients/*            Clients, statements, bulk payments
  /api/auctions/*           Auctions and their obligations
  /api/payments/*           Obligations and receipts
  /api/payment-logs/*       Rollback
  /api/reports/*            Pending rollups
  /api/scenarios/*          Demo data

SECURITY NOTE:
  The account header is trusted as-is. Authentication belongs to the
  identity provider in front of this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/warp/chit-ledger/ledger"
)

// AccountHeader carries the caller's account id.
const AccountHeader = "X-Account-ID"

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(AccessLog(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", AccountHeader},
		ExposedHeaders: []string{"Content-Disposition"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireAccount)

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", h.ListGroups)
			r.Post("/", h.CreateGroup)
			r.Get("/{id}", h.GetGroup)
			r.Put("/{id}", h.EditGroup)
			r.Delete("/{id}", h.DeleteGroup)
			r.Get("/{id}/members", h.ListMembers)
			r.Post("/{id}/members", h.AddMember)
		})

		r.Delete("/members/{id}", h.RemoveMember)

		r.Route("/clients", func(r chi.Router) {
			r.Post("/", h.CreateClient)
			r.Get("/{id}/statement", h.GetStatement)
			r.Post("/{id}/payments", h.AllocatePayment)
		})

		r.Route("/auctions", func(r chi.Router) {
			r.Get("/", h.ListAuctions)
			r.Post("/", h.CreateAuction)
			r.Get("/{id}", h.GetAuction)
			r.Put("/{id}", h.UpdateAuction)
			r.Delete("/{id}", h.DeleteAuction)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Get("/{id}/logs", h.ListPaymentLogs)
			r.Get("/{id}/verify", h.VerifyPayment)
		})

		r.Delete("/payment-logs/{id}", h.RollbackPaymentLog)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/pending", h.PendingByGroupAndMonth)
			r.Get("/pending-by-client", h.PendingByClient)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// RequireAccount rejects requests without an account header and stores the
// account in the request context otherwise.
func RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := r.Header.Get(AccountHeader)
		if account == "" {
			writeError(w, http.StatusUnauthorized, "Missing account", ledger.ErrNoAccount)
			return
		}
		next.ServeHTTP(w, r.WithContext(ledger.WithAccount(r.Context(), ledger.AccountID(account))))
	})
}

// AccessLog logs one entry per request with status, size and latency.
func AccessLog(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				entry := log.WithFields(logrus.Fields{
					"request_id": middleware.GetReqID(r.Context()),
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     ww.Status(),
					"bytes":      ww.BytesWritten(),
					"duration":   time.Since(start).String(),
					"account":    r.Header.Get(AccountHeader),
				})
				if ww.Status() >= http.StatusInternalServerError {
					entry.Warn("request failed")
					return
				}
				entry.Info("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
