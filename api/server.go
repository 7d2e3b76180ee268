/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:    Unique ID per request for tracing
  2. RequestLogger: One zerolog line per request
  3. Recoverer:    Panic recovery (500 instead of crash)
  4. CORS:         Cross-origin requests for frontend
  5. Authenticate: Bearer token on every /api route except scenarios

ROUTE GROUPS:
  /healthz              Liveness and store ping
  /api/employees/*      Employees, salary, hold account, own withdrawals
  /api/withdrawals/*    Withdrawal review
  /api/scenarios/*      Demo scenarios (development only)

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
	"github.com/rs/zerolog"
)

// DefaultCORSOrigins are the local frontend dev servers.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	if len(corsOrigins) == 0 {
		corsOrigins = DefaultCORSOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Scenario routes hand out demo tokens, so they sit outside auth.
		if h.DevMode {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)

			// Employee routes
			r.Route("/employees", func(r chi.Router) {
				r.Get("/", h.ListEmployees)
				r.Post("/", h.SaveEmployee)
				r.Get("/{id}", h.GetEmployee)
				r.Put("/{id}/attendance/{month}", h.RecordAttendance)

				r.Get("/{id}/salary", h.ListSalaryRecords)
				r.Get("/{id}/salary/{month}/preview", h.PreviewSalary)
				r.Post("/{id}/salary/{month}/process", h.ProcessSalary)
				r.Get("/{id}/salary/{month}/payslip", h.Payslip)

				r.Get("/{id}/hold", h.GetHoldSnapshot)
				r.Get("/{id}/hold/entries", h.ListHoldEntries)
				r.Get("/{id}/withdrawals", h.ListEmployeeWithdrawals)
				r.Post("/{id}/withdrawals", h.CreateWithdrawal)
			})

			// Withdrawal review routes
			r.Route("/withdrawals", func(r chi.Router) {
				r.Get("/", h.ListWithdrawals)
				r.Post("/{id}/approve", h.ApproveWithdrawal)
				r.Post("/{id}/reject", h.RejectWithdrawal)
			})
		})
	})

	return r
}

// RequestLogger logs method, path, status and latency of every request.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event := logger.Info()
			if status >= http.StatusInternalServerError {
				event = logger.Error()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
