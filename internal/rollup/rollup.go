// Package rollup derives weekly, monthly and trend statistics from the
// daily ledger. Everything here is read-side computation; the only
// invariants are the ones the ledger already guarantees.
package rollup

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rollmark/rollmark/internal/constants"
	"github.com/rollmark/rollmark/internal/database"
)

// Service aggregates daily records. Stateless apart from the reader and
// the at-risk policy cutoff.
type Service struct {
	reader           database.LedgerReader
	atRiskPercentage float64
}

// NewService creates a rollup service. atRiskPercentage is the cutoff
// below which a subject or student counts as at risk.
func NewService(reader database.LedgerReader, atRiskPercentage float64) *Service {
	return &Service{reader: reader, atRiskPercentage: atRiskPercentage}
}

// TrendPoint is one date's aggregate across the requested subjects.
type TrendPoint struct {
	Date       string  `json:"date"`
	Present    int     `json:"present"`
	Absent     int     `json:"absent"`
	Late       int     `json:"late"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// GroupSummary is an aggregate over a week or month for one subject.
type GroupSummary struct {
	SubjectID         string  `json:"subjectId"`
	Group             string  `json:"group"` // "YYYY-MM" or "YYYY-Www"
	Present           int     `json:"totalPresent"`
	Absent            int     `json:"totalAbsent"`
	Late              int     `json:"totalLate"`
	Total             int     `json:"totalStudents"`
	DaysRecorded      int     `json:"daysRecorded"`
	AveragePercentage float64 `json:"averagePercentage"`
}

// SubjectTotals is the whole-range aggregate for one subject.
type SubjectTotals struct {
	SubjectID    string  `json:"subjectId"`
	Present      int     `json:"totalPresent"`
	Absent       int     `json:"totalAbsent"`
	Late         int     `json:"totalLate"`
	Total        int     `json:"totalStudents"`
	Percentage   float64 `json:"attendancePercentage"`
	AtRisk       bool    `json:"atRisk"`
	LastRecorded string  `json:"lastRecorded"`
}

// DashboardStats is the headline aggregate for a teacher's dashboard:
// today's numbers, falling back to the running week when today is empty.
type DashboardStats struct {
	Timeframe      string `json:"timeframe"` // "today" or "week"
	AttendanceRate int    `json:"attendanceRate"`
	Absent         int    `json:"absent"`
	Late           int    `json:"late"`
}

// StudentScore is one student's attendance percentage for leaderboards.
type StudentScore struct {
	StudentID string  `json:"id"`
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
}

// RosterStats summarizes one subject's roster for the analytics endpoint.
type RosterStats struct {
	ClassAverage   float64        `json:"attendance"`
	RiskCount      int            `json:"riskCount"`
	TotalPresent   int            `json:"totalPresent"`
	TotalAbsent    int            `json:"totalAbsent"`
	TotalLate      int            `json:"totalLate"`
	BestPerforming []StudentScore `json:"bestPerforming"`
	NeedsSupport   []StudentScore `json:"needsSupport"`
}

// validateRange checks both dates parse and from does not exceed to.
func validateRange(from, to string) error {
	fromDate, err := time.Parse(constants.DateLayout, from)
	if err != nil {
		return fmt.Errorf("%w: invalid date %q, want YYYY-MM-DD", database.ErrInvalidArgument, from)
	}
	toDate, err := time.Parse(constants.DateLayout, to)
	if err != nil {
		return fmt.Errorf("%w: invalid date %q, want YYYY-MM-DD", database.ErrInvalidArgument, to)
	}
	if fromDate.After(toDate) {
		return fmt.Errorf("%w: range start %s is after end %s", database.ErrInvalidArgument, from, to)
	}
	return nil
}

// Trend returns the per-date aggregate across subjects within [from, to].
func (s *Service) Trend(ctx context.Context, subjectIDs []string, from, to string) ([]TrendPoint, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}

	records, err := s.reader.GetDailyRecords(ctx, subjectIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("reading daily records: %w", err)
	}

	byDate := make(map[string]*TrendPoint)
	for _, rec := range records {
		p := byDate[rec.Date]
		if p == nil {
			p = &TrendPoint{Date: rec.Date}
			byDate[rec.Date] = p
		}
		p.Present += rec.Present
		p.Absent += rec.Absent
		p.Late += rec.Late
		p.Total += rec.Total
	}

	points := make([]TrendPoint, 0, len(byDate))
	for _, p := range byDate {
		p.Percentage = percentage(p.Present, p.Total, 1)
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points, nil
}

// Monthly groups records per subject per calendar month.
func (s *Service) Monthly(ctx context.Context, subjectIDs []string, from, to string) ([]GroupSummary, error) {
	return s.grouped(ctx, subjectIDs, from, to, monthKey)
}

// Weekly groups records per subject per ISO week.
func (s *Service) Weekly(ctx context.Context, subjectIDs []string, from, to string) ([]GroupSummary, error) {
	return s.grouped(ctx, subjectIDs, from, to, weekKey)
}

func (s *Service) grouped(ctx context.Context, subjectIDs []string, from, to string, key func(string) string) ([]GroupSummary, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}

	records, err := s.reader.GetDailyRecords(ctx, subjectIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("reading daily records: %w", err)
	}

	type groupID struct{ subject, group string }
	groups := make(map[groupID]*GroupSummary)
	for _, rec := range records {
		id := groupID{rec.SubjectID, key(rec.Date)}
		g := groups[id]
		if g == nil {
			g = &GroupSummary{SubjectID: id.subject, Group: id.group}
			groups[id] = g
		}
		g.Present += rec.Present
		g.Absent += rec.Absent
		g.Late += rec.Late
		g.Total += rec.Total
		g.DaysRecorded++
	}

	out := make([]GroupSummary, 0, len(groups))
	for _, g := range groups {
		g.AveragePercentage = percentage(g.Present, g.Total, 2)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group > out[j].Group // newest first
		}
		return out[i].SubjectID < out[j].SubjectID
	})
	return out, nil
}

// Totals aggregates the whole range per subject, flagging at-risk subjects.
func (s *Service) Totals(ctx context.Context, subjectIDs []string, from, to string) ([]SubjectTotals, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}

	records, err := s.reader.GetDailyRecords(ctx, subjectIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("reading daily records: %w", err)
	}

	bySubject := make(map[string]*SubjectTotals)
	for _, rec := range records {
		t := bySubject[rec.SubjectID]
		if t == nil {
			t = &SubjectTotals{SubjectID: rec.SubjectID}
			bySubject[rec.SubjectID] = t
		}
		t.Present += rec.Present
		t.Absent += rec.Absent
		t.Late += rec.Late
		t.Total += rec.Total
		if rec.Date > t.LastRecorded {
			t.LastRecorded = rec.Date
		}
	}

	out := make([]SubjectTotals, 0, len(bySubject))
	for _, t := range bySubject {
		t.Percentage = percentage(t.Present, t.Total, 2)
		t.AtRisk = t.Percentage < s.atRiskPercentage
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Percentage > out[j].Percentage })
	return out, nil
}

// AtRisk returns subjects whose aggregate percentage falls strictly below
// the policy cutoff, worst first.
func (s *Service) AtRisk(ctx context.Context, subjectIDs []string, from, to string) ([]SubjectTotals, error) {
	totals, err := s.Totals(ctx, subjectIDs, from, to)
	if err != nil {
		return nil, err
	}

	risky := make([]SubjectTotals, 0)
	for _, t := range totals {
		if t.AtRisk {
			risky = append(risky, t)
		}
	}
	sort.Slice(risky, func(i, j int) bool { return risky[i].Percentage < risky[j].Percentage })
	return risky, nil
}

// TopPerformers returns the best subjects by percentage, capped at limit.
func (s *Service) TopPerformers(ctx context.Context, subjectIDs []string, from, to string, limit int) ([]SubjectTotals, error) {
	totals, err := s.Totals(ctx, subjectIDs, from, to)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(totals) > limit {
		totals = totals[:limit]
	}
	return totals, nil
}

// Dashboard computes today's aggregate across subjects, falling back to
// the running week (Monday..today) when today has no marks yet.
func (s *Service) Dashboard(ctx context.Context, subjectIDs []string, now time.Time) (DashboardStats, error) {
	today := now.Format(constants.DateLayout)

	todayPoints, err := s.Trend(ctx, subjectIDs, today, today)
	if err != nil {
		return DashboardStats{}, err
	}
	if len(todayPoints) == 1 && todayPoints[0].Total > 0 {
		p := todayPoints[0]
		return DashboardStats{
			Timeframe:      "today",
			AttendanceRate: int(float64(p.Present) / float64(p.Total) * 100),
			Absent:         p.Absent,
			Late:           p.Late,
		}, nil
	}

	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday closes the week
	}
	weekStart := now.AddDate(0, 0, -(weekday - 1)).Format(constants.DateLayout)

	weekPoints, err := s.Trend(ctx, subjectIDs, weekStart, today)
	if err != nil {
		return DashboardStats{}, err
	}
	var present, absent, late, total int
	for _, p := range weekPoints {
		present += p.Present
		absent += p.Absent
		late += p.Late
		total += p.Total
	}
	if total == 0 {
		return DashboardStats{Timeframe: "today"}, nil
	}
	return DashboardStats{
		Timeframe:      "week",
		AttendanceRate: int(float64(present) / float64(total) * 100),
		Absent:         absent,
		Late:           late,
	}, nil
}

// RosterLeaderboards summarizes a subject's roster: class average, count of
// at-risk students, totals and the best/needs-support leaderboards.
func (s *Service) RosterLeaderboards(roster []database.RosterEntry) RosterStats {
	stats := RosterStats{
		BestPerforming: []StudentScore{},
		NeedsSupport:   []StudentScore{},
	}

	scores := make([]StudentScore, 0, len(roster))
	var sum float64
	var counted int
	for _, entry := range roster {
		score := StudentScore{
			StudentID: entry.StudentID,
			Name:      entry.StudentName,
			Score:     percentage(entry.Present, entry.Total, 1),
		}
		scores = append(scores, score)

		stats.TotalPresent += entry.Present
		stats.TotalAbsent += entry.Absent
		stats.TotalLate += entry.Late
		if entry.Total > 0 {
			sum += score.Score
			counted++
		}
		if score.Score < s.atRiskPercentage {
			stats.RiskCount++
		}
	}

	if counted > 0 {
		stats.ClassAverage = round(sum/float64(counted), 1)
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	stats.BestPerforming = append(stats.BestPerforming, top(scores, constants.LeaderboardSize)...)

	sort.Slice(scores, func(i, j int) bool { return scores[i].Score < scores[j].Score })
	stats.NeedsSupport = append(stats.NeedsSupport, top(scores, constants.LeaderboardSize)...)

	return stats
}

func top(scores []StudentScore, n int) []StudentScore {
	if len(scores) > n {
		scores = scores[:n]
	}
	out := make([]StudentScore, len(scores))
	copy(out, scores)
	return out
}

// monthKey maps an ISO date to its "YYYY-MM" calendar month.
func monthKey(date string) string {
	if len(date) < len(constants.MonthLayout) {
		return date
	}
	return date[:len(constants.MonthLayout)]
}

// weekKey maps an ISO date to its ISO week, "YYYY-Www".
func weekKey(date string) string {
	t, err := time.Parse(constants.DateLayout, date)
	if err != nil {
		return date
	}
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// percentage computes present/total*100 rounded to the given number of
// decimals, 0 when total is 0.
func percentage(present, total int, decimals int) float64 {
	if total == 0 {
		return 0
	}
	return round(float64(present)/float64(total)*100, decimals)
}

func round(v float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(v*factor) / factor
}
