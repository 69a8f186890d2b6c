package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"testlms/internal/app/apiresp"
	"testlms/internal/app/observability"
	"testlms/internal/app/tracing"
	"testlms/internal/auth"
	"testlms/internal/db"
	"testlms/internal/exam"
	"testlms/internal/masterdata"
	"testlms/internal/question"
	"testlms/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func NewRouter(cfg Config, conn *sql.DB, driver db.Driver, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	metrics := observability.NewMetrics(conn)

	r := chi.NewRouter()
	r.Use(observability.RequestID)
	r.Use(middleware.RealIP)
	r.Use(tracing.Middleware(otel.GetTracerProvider()))
	r.Use(metrics.Middleware(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authHandler := auth.NewHandler(auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer))

	questionSvc := question.NewService(conn)
	questionHandler := question.NewHandler(questionSvc, log)

	examSvc := exam.NewService(conn, driver, questionSvc, log, cfg.ExamConfig())
	examSvc.SetRecorder(metrics)
	examHandler := exam.NewHandler(examSvc, log)

	reportHandler := report.NewHandler(report.NewService(conn), log)
	masterdataHandler := masterdata.NewHandler(masterdata.NewService(conn, log), log)

	limiter := NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := conn.PingContext(ctx); err != nil {
			apiresp.WriteError(w, r, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		apiresp.WriteOK(w, r, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Use(observability.TagUser)
			secure.Use(RateLimitMiddleware(limiter))
			secure.Get("/me", authHandler.Me)

			secure.Group(func(staff chi.Router) {
				staff.Use(authHandler.RequireRoles(auth.RoleAdmin, auth.RoleTeacher))

				staff.Post("/questions", questionHandler.Create)
				staff.Get("/questions", questionHandler.List)
				staff.Post("/questions/import", questionHandler.Import)
				staff.Get("/questions/import/template", questionHandler.ImportTemplate)
				staff.Get("/questions/{id}", questionHandler.Get)
				staff.Delete("/questions/{id}", questionHandler.Delete)

				staff.Post("/tests", examHandler.CreateTest)
				staff.Get("/tests/{id}", examHandler.GetTest)
				staff.Delete("/tests/{id}", examHandler.DeleteTest)
				staff.Post("/tests/{id}/questions", examHandler.AddQuestion)
				staff.Delete("/tests/{id}/questions/{questionID}", examHandler.RemoveQuestion)
				staff.Post("/tests/{id}/generate", examHandler.Generate)
				staff.Get("/groups/{groupID}/tests", examHandler.ListGroupTests)

				staff.Post("/topics", masterdataHandler.CreateTopic)
				staff.Get("/topics", masterdataHandler.ListTopics)
				staff.Post("/groups", masterdataHandler.CreateGroup)
				staff.Get("/groups", masterdataHandler.ListGroups)
				staff.Delete("/groups/{groupID}", masterdataHandler.DeleteGroup)
				staff.Get("/groups/{groupID}/members", masterdataHandler.ListMembers)
				staff.Post("/groups/{groupID}/members", masterdataHandler.AddMember)
				staff.Post("/groups/{groupID}/members/import", masterdataHandler.ImportMembers)
				staff.Delete("/groups/{groupID}/members/{userID}", masterdataHandler.RemoveMember)

				staff.Get("/results/tests/{id}", reportHandler.ByTest)
				staff.Get("/results/tests/{id}/summary", reportHandler.Summary)
				staff.Get("/results/tests/{id}/export", reportHandler.Export)
				staff.Get("/results/users/{id}", reportHandler.ByUser)
				staff.Get("/results/groups/{id}", reportHandler.ByGroup)
				staff.Get("/results/{id}/answers", reportHandler.Answers)
			})

			secure.Group(func(student chi.Router) {
				student.Use(authHandler.RequireRoles(auth.RoleStudent))

				student.Get("/student/tests/{id}", examHandler.StudentTest)
				student.Post("/attempts/start", examHandler.Start)
				student.Post("/attempts/{id}/submit", examHandler.Submit)
				student.Get("/student/training", examHandler.ListTraining)
				student.Get("/student/training/{id}", examHandler.GetTraining)
				student.Post("/student/training/{id}/submit", examHandler.SubmitTraining)
				student.Get("/student/results", reportHandler.StudentResults)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteError(w, r, http.StatusNotFound, "not found")
	})

	return r
}
