package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rollmark/rollmark/internal/constants"
	"github.com/rollmark/rollmark/internal/database"
	"github.com/rollmark/rollmark/internal/rollup"
	"github.com/rollmark/rollmark/internal/web/middleware"
)

// defaultRangeDays is how far back analytics queries look when the caller
// gives no explicit range.
const defaultRangeDays = 30

// AnalyticsHandler serves the read-only rollup endpoints.
type AnalyticsHandler struct {
	subjects database.SubjectStore
	alerts   database.AlertStore
	rollups  *rollup.Service
}

// NewAnalyticsHandler creates an analytics handler.
func NewAnalyticsHandler(subjects database.SubjectStore, alerts database.AlertStore, rollups *rollup.Service) *AnalyticsHandler {
	return &AnalyticsHandler{
		subjects: subjects,
		alerts:   alerts,
		rollups:  rollups,
	}
}

// teacherSubjectIDs lists the authenticated teacher's subject IDs.
func (h *AnalyticsHandler) teacherSubjectIDs(r *http.Request) ([]string, error) {
	subjects, err := h.subjects.ListSubjectsByTeacher(r.Context(), middleware.TeacherFromContext(r.Context()))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(subjects))
	for _, subject := range subjects {
		ids = append(ids, subject.ID)
	}
	return ids, nil
}

// dateRange reads from/to query params, defaulting to the last
// defaultRangeDays days.
func dateRange(r *http.Request) (string, string) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	now := time.Now()
	if to == "" {
		to = now.Format(constants.DateLayout)
	}
	if from == "" {
		from = now.AddDate(0, 0, -defaultRangeDays).Format(constants.DateLayout)
	}
	return from, to
}

// Dashboard handles GET /analytics/dashboard: today's headline numbers
// across the teacher's subjects, falling back to the running week.
func (h *AnalyticsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ids, err := h.teacherSubjectIDs(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	stats, err := h.rollups.Dashboard(r.Context(), ids, time.Now())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Subject handles GET /analytics/subjects/{id}: class average, risk count
// and the per-student leaderboards for one subject.
func (h *AnalyticsHandler) Subject(w http.ResponseWriter, r *http.Request) {
	roster, err := h.subjects.GetRoster(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.rollups.RosterLeaderboards(roster))
}

// Trend handles GET /analytics/trend?from&to: the per-date attendance
// series across the teacher's subjects.
func (h *AnalyticsHandler) Trend(w http.ResponseWriter, r *http.Request) {
	ids, err := h.teacherSubjectIDs(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	from, to := dateRange(r)
	points, err := h.rollups.Trend(r.Context(), ids, from, to)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"trend": points})
}

// MonthlySummary handles GET /analytics/monthly-summary?from&to.
func (h *AnalyticsHandler) MonthlySummary(w http.ResponseWriter, r *http.Request) {
	ids, err := h.teacherSubjectIDs(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	from, to := dateRange(r)
	groups, err := h.rollups.Monthly(r.Context(), ids, from, to)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"months": groups})
}

// ClassRisk handles GET /analytics/class-risk?from&to: subjects below the
// at-risk cutoff, worst first.
func (h *AnalyticsHandler) ClassRisk(w http.ResponseWriter, r *http.Request) {
	ids, err := h.teacherSubjectIDs(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	from, to := dateRange(r)
	risky, err := h.rollups.AtRisk(r.Context(), ids, from, to)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"at_risk": risky})
}

// TopPerformers handles GET /analytics/top-performers?from&to.
func (h *AnalyticsHandler) TopPerformers(w http.ResponseWriter, r *http.Request) {
	ids, err := h.teacherSubjectIDs(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	from, to := dateRange(r)
	top, err := h.rollups.TopPerformers(r.Context(), ids, from, to, constants.LeaderboardSize)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"top_performers": top})
}

// Alerts handles GET /analytics/alerts?subject_id: low-attendance alerts
// recorded by the monthly scan.
func (h *AnalyticsHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alerts.ListAlerts(r.Context(), r.URL.Query().Get("subject_id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if alerts == nil {
		alerts = []database.Alert{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}
