// Package ledger implements the daily attendance ledger: confirmed
// present/absent marks with an at-most-once-per-day guarantee per student.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rollmark/rollmark/internal/constants"
	"github.com/rollmark/rollmark/internal/database"
)

// Service validates confirm calls and applies them through the store's
// atomic mark operation. The service itself holds no mutable state; the
// idempotence guard lives in the store so it survives process restarts.
type Service struct {
	writer         database.LedgerWriter
	location       *time.Location
	futureSkewDays int
}

// NewService creates a ledger service. The location pins what "today"
// means for defaulted dates and the future-skew check.
func NewService(writer database.LedgerWriter, location *time.Location, futureSkewDays int) *Service {
	if location == nil {
		location = time.UTC
	}
	return &Service{
		writer:         writer,
		location:       location,
		futureSkewDays: futureSkewDays,
	}
}

// Today returns the current calendar date in the school timezone.
func (s *Service) Today() string {
	return time.Now().In(s.location).Format(constants.DateLayout)
}

// Confirm applies present/absent marks for a subject on a date. Students
// whose guard already equals the date are skipped; the returned outcome
// counts only the marks actually applied. Re-invoking Confirm for the same
// subject/date/students is a successful no-op, never a conflict.
//
// A student listed in both sets rejects the whole call before any effect.
func (s *Service) Confirm(ctx context.Context, subjectID, date string, present, absent []string) (database.MarkOutcome, error) {
	if subjectID == "" {
		return database.MarkOutcome{}, fmt.Errorf("%w: subject_id required", database.ErrInvalidArgument)
	}

	if date == "" {
		date = s.Today()
	}
	if err := s.validateDate(date); err != nil {
		return database.MarkOutcome{}, err
	}

	if dup := firstOverlap(present, absent); dup != "" {
		return database.MarkOutcome{}, fmt.Errorf(
			"%w: student %s listed as both present and absent", database.ErrInvalidArgument, dup)
	}

	return s.writer.ApplyMarks(ctx, subjectID, date, dedupe(present), dedupe(absent))
}

// MarkPresent marks a single student present for today, used by the QR
// redemption flow. Returns true when the mark applied and false when the
// student was already marked today. A student not enrolled in the subject
// returns ErrNotFound rather than a silent no-op.
func (s *Service) MarkPresent(ctx context.Context, subjectID, studentID string) (bool, error) {
	if subjectID == "" || studentID == "" {
		return false, fmt.Errorf("%w: subject_id and student_id required", database.ErrInvalidArgument)
	}

	outcome, err := s.writer.ApplyMarks(ctx, subjectID, s.Today(), []string{studentID}, nil)
	if err != nil {
		return false, err
	}
	return outcome.PresentApplied == 1, nil
}

// validateDate checks the date parses and does not point further into the
// future than the configured skew allows.
func (s *Service) validateDate(date string) error {
	parsed, err := time.ParseInLocation(constants.DateLayout, date, s.location)
	if err != nil {
		return fmt.Errorf("%w: invalid date %q, want YYYY-MM-DD", database.ErrInvalidArgument, date)
	}

	limit := time.Now().In(s.location).AddDate(0, 0, s.futureSkewDays)
	if parsed.After(limit) {
		return fmt.Errorf("%w: date %s is in the future", database.ErrInvalidArgument, date)
	}
	return nil
}

// firstOverlap returns a student ID present in both sets, or "".
func firstOverlap(a, b []string) string {
	seen := make(map[string]bool, len(a))
	for _, id := range a {
		seen[id] = true
	}
	for _, id := range b {
		if seen[id] {
			return id
		}
	}
	return ""
}

// dedupe removes repeated IDs while preserving order. A student repeated
// within one set must still count once.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
