package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rollmark/rollmark/internal/database"
	"github.com/rollmark/rollmark/internal/facematch"
	"github.com/rollmark/rollmark/internal/ledger"
	"github.com/rollmark/rollmark/internal/oracle"
	"github.com/rollmark/rollmark/internal/rollup"
	"github.com/rollmark/rollmark/internal/web/handlers"
	"github.com/rollmark/rollmark/internal/web/middleware"
)

func (s *Server) setupRoutes(stores Stores, ledgerSvc *ledger.Service, rollups *rollup.Service, oracleClient *oracle.Client, index *database.RosterIndex) {
	matchCfg := facematch.MatchConfig{
		Metric:             facematch.Metric(s.config.Matching.Metric),
		ConfidentThreshold: s.config.Matching.ConfidentThreshold,
		UncertainThreshold: s.config.Matching.UncertainThreshold,
	}
	qrTTL := time.Duration(s.config.Auth.QRTokenLifetime) * time.Second

	// Create handlers
	subjectsHandler := handlers.NewSubjectsHandler(stores.Subjects)
	studentsHandler := handlers.NewStudentsHandler(stores.Students, oracleClient, index, matchCfg)
	attendanceHandler := handlers.NewAttendanceHandler(stores.Subjects, ledgerSvc, oracleClient, s.tokens, matchCfg, qrTTL)
	analyticsHandler := handlers.NewAnalyticsHandler(stores.Subjects, stores.Alerts, rollups)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Student self-service routes: the QR token carries its own proof,
		// identify is the kiosk flow.
		r.Post("/attendance/qr/redeem", attendanceHandler.QRRedeem)
		r.Post("/students/identify", studentsHandler.Identify)

		// All other routes require a teacher bearer token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.tokens))

			// Subjects and rosters
			r.Post("/subjects", subjectsHandler.Create)
			r.Get("/subjects", subjectsHandler.List)
			r.Get("/subjects/{id}", subjectsHandler.Get)
			r.Get("/subjects/{id}/roster", subjectsHandler.Roster)
			r.Post("/subjects/{id}/students", subjectsHandler.Enroll)
			r.Delete("/subjects/{id}/students/{studentId}", subjectsHandler.Unenroll)

			// Students and face enrollment
			r.Post("/students", studentsHandler.Create)
			r.Get("/students/search", studentsHandler.Search)
			r.Get("/students/{id}", studentsHandler.Get)
			r.Post("/students/{id}/face", studentsHandler.EnrollFace)

			// Attendance
			r.Post("/attendance/mark", attendanceHandler.Mark)
			r.Post("/attendance/confirm", attendanceHandler.Confirm)
			r.Post("/attendance/qr/generate", attendanceHandler.QRGenerate)

			// Analytics
			r.Get("/analytics/dashboard", analyticsHandler.Dashboard)
			r.Get("/analytics/subjects/{id}", analyticsHandler.Subject)
			r.Get("/analytics/trend", analyticsHandler.Trend)
			r.Get("/analytics/monthly-summary", analyticsHandler.MonthlySummary)
			r.Get("/analytics/class-risk", analyticsHandler.ClassRisk)
			r.Get("/analytics/top-performers", analyticsHandler.TopPerformers)
			r.Get("/analytics/alerts", analyticsHandler.Alerts)
		})
	})
}
