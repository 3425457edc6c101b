package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smartattend/internal/transport/http/shared"
	"smartattend/pkg/platform/middleware/auth"
	"smartattend/pkg/platform/middleware/request"
)

// HealthChecker reports readiness of one backing dependency.
type HealthChecker func(ctx context.Context) error

// Services bundles the domain services the router exposes.
type Services struct {
	Attendance AttendanceService
	Time       TimeService
	Escalation EscalationService
	Ledger     LedgerService
}

// NewRouter wires all routes. Domain routes sit behind request context and
// actor authentication; health and metrics stay open.
func NewRouter(svcs Services, validator *auth.Validator, logger *slog.Logger, health map[string]HealthChecker) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(request.Context)

	r.Get("/healthz", handleHealth(health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireActor(validator, logger))

		(&attendanceHandler{svc: svcs.Attendance, logger: logger}).register(r)
		(&timeHandler{svc: svcs.Time, logger: logger}).register(r)
		(&escalationHandler{svc: svcs.Escalation, logger: logger}).register(r)
		(&ledgerHandler{svc: svcs.Ledger, logger: logger}).register(r)
	})

	return r
}

func handleHealth(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		result := make(map[string]string, len(checks)+1)
		result["status"] = "ok"
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check(r.Context()); err != nil {
				result[name] = err.Error()
				result["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
		shared.WriteJSON(w, status, result)
	}
}
