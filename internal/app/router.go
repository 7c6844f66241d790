package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"examportal/internal/app/observability"
	"examportal/internal/auth"
	"examportal/internal/exam"
	"examportal/internal/notify"
	"examportal/internal/question"
	"examportal/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Router is the HTTP surface plus the services whose background work must
// finish before shutdown.
type Router struct {
	http.Handler
	examSvc *exam.Service
}

// DrainNotifications waits for submission notices still in flight, or
// until ctx is done.
func (r *Router) DrainNotifications(ctx context.Context) error {
	return r.examSvc.Drain(ctx)
}

func NewRouter(cfg Config, db *sql.DB, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	collector := observability.NewCollector(db, log.Named("http"))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware())
	r.Use(collector.Middleware)

	authSvc := auth.NewService(db, auth.ServiceConfig{
		SessionTTL: time.Duration(cfg.SessionTTLHours) * time.Hour,
	})
	authHandler := auth.NewHandler(authSvc)

	catalog := question.NewService(db)
	questionHandler := question.NewHandler(catalog)

	notifier := notify.New(notify.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	}, authSvc, catalog, log.Named("notify"))

	examSvc := exam.NewService(exam.NewSQLRepository(db), exam.ServiceConfig{
		Logger:           log.Named("exam"),
		Notifier:         notifier,
		ElapsedTolerance: time.Duration(cfg.ElapsedToleranceSecs) * time.Second,
	})
	examHandler := exam.NewHandler(examSvc)

	reportSvc := report.NewService(report.NewSQLReader(db), log.Named("report"))
	reportHandler := report.NewHandler(reportSvc)

	loginLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))

		api.Get("/auth/csrf", CSRFTokenHandler(cfg.IsProduction()))
		api.With(RateLimitMiddleware(loginLimiter)).Post("/auth/login", authHandler.Login)

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)

			secure.Get("/tests/{testID}/questions", questionHandler.ListForTest)

			secure.Post("/sessions/start", examHandler.Start)
			secure.Put("/sessions/{sessionID}/answers/{questionID}", examHandler.SaveAnswer)
			secure.Post("/sessions/{sessionID}/submit", examHandler.Submit)
			secure.Get("/sessions/{sessionID}/report", reportHandler.Mine)
			secure.Get("/sessions/{sessionID}/report.xlsx", reportHandler.MineExcel)
			secure.Get("/me/sessions", examHandler.MySessions)

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles(auth.RoleAdmin))
				admin.Get("/admin/users/{userID}/sessions/{sessionID}/report", reportHandler.ForUser)
				admin.Get("/admin/submissions/count", examHandler.SubmissionCount)
			})
		})
	})

	return &Router{Handler: r, examSvc: examSvc}
}
