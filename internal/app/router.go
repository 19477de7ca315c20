package app

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gunjou/api-ukai-syndrome/internal/app/observability"
	"github.com/gunjou/api-ukai-syndrome/internal/auth"
	"github.com/gunjou/api-ukai-syndrome/internal/monitor"
	"github.com/gunjou/api-ukai-syndrome/internal/tryout"
)

// Deps carries the wired services the router mounts.
type Deps struct {
	DB       *sql.DB
	Service  *tryout.Service
	Verifier *auth.Verifier
	Hub      *monitor.Hub
	Limiter  *IPRateLimiter
}

func NewRouter(cfg Config, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	metrics := observability.NewCollector(deps.DB)
	r.Use(metrics.Middleware)

	limiter := deps.Limiter
	if limiter == nil {
		limiter = NewIPRateLimiter(cfg.AttemptRateLimitPerMin, time.Minute)
	}

	tryoutHandler := tryout.NewHandler(deps.Service)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if deps.DB != nil {
			if err := deps.DB.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"ok":false}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", metrics.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(deps.Verifier.RequireAuth)
		api.Use(observability.CaptureUser)

		api.Group(func(peserta chi.Router) {
			peserta.Use(auth.RequireRoles(auth.RolePeserta))

			peserta.Get("/tryouts/{examID}/remaining-attempts", tryoutHandler.RemainingAttempts)
			peserta.Get("/attempts/{token}", tryoutHandler.GetAttempt)
			peserta.Get("/attempts/{token}/questions", tryoutHandler.Questions)

			peserta.Group(func(mut chi.Router) {
				mut.Use(RateLimitMiddleware(limiter))
				mut.Post("/tryouts/{examID}/attempts/start", tryoutHandler.Start)
				mut.Put("/attempts/{token}/answers/{ordinal}", tryoutHandler.RecordAnswer)
				mut.Post("/attempts/{token}/submit", tryoutHandler.Submit)
			})
		})

		api.Group(func(staff chi.Router) {
			staff.Use(auth.RequireRoles(auth.RoleAdmin, auth.RoleMentor))
			staff.Get("/tryouts/{examID}/leaderboard", tryoutHandler.Leaderboard)
			staff.Get("/tryouts/{examID}/statistics", tryoutHandler.Statistics)
			staff.Delete("/admin/attempts/{id}", tryoutHandler.DeleteAttempt)
			staff.Get("/ws/exams/{examID}/leaderboard", deps.Hub.LeaderboardFeed)
		})
	})

	return r
}
