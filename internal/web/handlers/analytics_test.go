package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rollmark/rollmark/internal/constants"
	"github.com/rollmark/rollmark/internal/database"
	"github.com/rollmark/rollmark/internal/rollup"
)

func newAnalyticsHandler(t *testing.T) (*AnalyticsHandler, *analyticsFixture) {
	t.Helper()
	store := seededStore(t)
	today := time.Now().Format(constants.DateLayout)
	store.SeedDaily(database.DailyRecord{SubjectID: "subj1", Date: today, Present: 18, Absent: 2, Total: 20})

	h := NewAnalyticsHandler(store, store, rollup.NewService(store, 75.0))
	return h, &analyticsFixture{today: today}
}

type analyticsFixture struct {
	today string
}

func TestDashboard(t *testing.T) {
	h, _ := newAnalyticsHandler(t)

	rec := httptest.NewRecorder()
	h.Dashboard(rec, jsonRequest(t, http.MethodGet, "/api/v1/analytics/dashboard", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var stats rollup.DashboardStats
	decodeBody(t, rec, &stats)
	if stats.Timeframe != "today" || stats.AttendanceRate != 90 {
		t.Errorf("unexpected dashboard stats: %+v", stats)
	}
}

func TestTrend(t *testing.T) {
	h, fix := newAnalyticsHandler(t)

	rec := httptest.NewRecorder()
	h.Trend(rec, jsonRequest(t, http.MethodGet, "/api/v1/analytics/trend", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Trend []rollup.TrendPoint `json:"trend"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Trend) != 1 || resp.Trend[0].Date != fix.today {
		t.Errorf("unexpected trend: %+v", resp.Trend)
	}
}

func TestTrend_InvalidRange(t *testing.T) {
	h, _ := newAnalyticsHandler(t)

	rec := httptest.NewRecorder()
	h.Trend(rec, jsonRequest(t, http.MethodGet, "/api/v1/analytics/trend?from=2024-05-01&to=2024-04-01", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSubjectAnalytics(t *testing.T) {
	h, _ := newAnalyticsHandler(t)

	req := requestWithChiParams(
		jsonRequest(t, http.MethodGet, "/api/v1/analytics/subjects/subj1", nil),
		map[string]string{"id": "subj1"},
	)
	rec := httptest.NewRecorder()
	h.Subject(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var stats rollup.RosterStats
	decodeBody(t, rec, &stats)
	// Nobody has per-student marks yet, so both enrolled students sit at 0%.
	if stats.RiskCount != 2 {
		t.Errorf("expected 2 at-risk students, got %d", stats.RiskCount)
	}
}

func TestSubjectAnalytics_NotFound(t *testing.T) {
	h, _ := newAnalyticsHandler(t)

	req := requestWithChiParams(
		jsonRequest(t, http.MethodGet, "/api/v1/analytics/subjects/missing", nil),
		map[string]string{"id": "missing"},
	)
	rec := httptest.NewRecorder()
	h.Subject(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestClassRiskAndTopPerformers(t *testing.T) {
	h, _ := newAnalyticsHandler(t)

	rec := httptest.NewRecorder()
	h.ClassRisk(rec, jsonRequest(t, http.MethodGet, "/api/v1/analytics/class-risk", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("class-risk failed: %d", rec.Code)
	}
	var risk struct {
		AtRisk []rollup.SubjectTotals `json:"at_risk"`
	}
	decodeBody(t, rec, &risk)
	// subj1 runs at 90%, above the cutoff.
	if len(risk.AtRisk) != 0 {
		t.Errorf("expected no at-risk subjects, got %+v", risk.AtRisk)
	}

	rec = httptest.NewRecorder()
	h.TopPerformers(rec, jsonRequest(t, http.MethodGet, "/api/v1/analytics/top-performers", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("top-performers failed: %d", rec.Code)
	}
	var top struct {
		TopPerformers []rollup.SubjectTotals `json:"top_performers"`
	}
	decodeBody(t, rec, &top)
	if len(top.TopPerformers) != 1 || top.TopPerformers[0].SubjectID != "subj1" {
		t.Errorf("unexpected top performers: %+v", top.TopPerformers)
	}
}

func TestAlertsEndpoint(t *testing.T) {
	store := seededStore(t)
	h := NewAnalyticsHandler(store, store, rollup.NewService(store, 75.0))

	if err := store.SaveAlert(context.Background(), &database.Alert{
		ID: "a1", SubjectID: "subj1", Month: "2024-03", Percentage: 60,
	}); err != nil {
		t.Fatalf("save alert: %v", err)
	}

	rec := httptest.NewRecorder()
	h.Alerts(rec, jsonRequest(t, http.MethodGet, "/api/v1/analytics/alerts?subject_id=subj1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Alerts []database.Alert `json:"alerts"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Alerts) != 1 || resp.Alerts[0].Month != "2024-03" {
		t.Errorf("unexpected alerts: %+v", resp.Alerts)
	}
}
