// Package scheduler runs the recurring low-attendance scan. On the first of
// each month it aggregates the previous month per subject and records an
// alert for every subject below the risk cutoff.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rollmark/rollmark/internal/constants"
	"github.com/rollmark/rollmark/internal/database"
	"github.com/rollmark/rollmark/internal/rollup"
)

// monthlyCron fires at 06:00 on the first day of every month.
const monthlyCron = "0 6 1 * *"

// Scheduler owns the gocron instance and the scan dependencies.
type Scheduler struct {
	subjects database.SubjectStore
	alerts   database.AlertStore
	rollups  *rollup.Service
	cutoff   float64
	cron     *gocron.Scheduler
}

// New creates a scheduler. cutoff is the percentage below which a subject
// gets an alert.
func New(subjects database.SubjectStore, alerts database.AlertStore, rollups *rollup.Service, cutoff float64, location *time.Location) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	return &Scheduler{
		subjects: subjects,
		alerts:   alerts,
		rollups:  rollups,
		cutoff:   cutoff,
		cron:     gocron.NewScheduler(location),
	}
}

// Start registers the monthly job and starts the scheduler in the
// background.
func (s *Scheduler) Start() error {
	_, err := s.cron.Cron(monthlyCron).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.ScanPreviousMonth(ctx, time.Now()); err != nil {
			log.Printf("Monthly attendance scan failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule monthly scan: %w", err)
	}
	s.cron.StartAsync()
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// ScanPreviousMonth aggregates the month before now per subject and saves
// an alert for every subject whose percentage falls below the cutoff.
func (s *Scheduler) ScanPreviousMonth(ctx context.Context, now time.Time) error {
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	from := firstOfMonth.AddDate(0, -1, 0)
	to := firstOfMonth.AddDate(0, 0, -1)
	month := from.Format(constants.MonthLayout)

	subjects, err := s.subjects.ListSubjects(ctx)
	if err != nil {
		return fmt.Errorf("list subjects: %w", err)
	}
	ids := make([]string, 0, len(subjects))
	for _, subject := range subjects {
		ids = append(ids, subject.ID)
	}

	risky, err := s.rollups.AtRisk(ctx, ids,
		from.Format(constants.DateLayout), to.Format(constants.DateLayout))
	if err != nil {
		return fmt.Errorf("aggregate month %s: %w", month, err)
	}

	for _, totals := range risky {
		alert := database.Alert{
			SubjectID:  totals.SubjectID,
			Month:      month,
			Percentage: totals.Percentage,
		}
		if err := s.alerts.SaveAlert(ctx, &alert); err != nil {
			return fmt.Errorf("save alert for %s: %w", totals.SubjectID, err)
		}
		log.Printf("Low attendance alert: subject %s at %.2f%% for %s", totals.SubjectID, totals.Percentage, month)
	}
	return nil
}
