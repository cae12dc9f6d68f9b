// Package mock provides an in-memory implementation of the database
// interfaces for handler and service tests. The ledger semantics mirror the
// PostgreSQL implementation, including the last-marked idempotence guard.
package mock

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rollmark/rollmark/internal/database"
	"github.com/rollmark/rollmark/internal/facematch"
)

// Store is an in-memory implementation of SubjectStore, StudentStore,
// LedgerWriter, LedgerReader and AlertStore.
type Store struct {
	mu       sync.Mutex
	subjects map[string]*database.Subject
	students map[string]*database.Student
	faces    []database.ReferenceFace
	roster   map[string]map[string]*database.RosterEntry // subjectID -> studentID
	daily    map[string]*database.DailyRecord            // subjectID + "|" + date
	alerts   []database.Alert
	nextFace int64

	// Error injection for failure-path tests.
	ApplyMarksError error
	GetSubjectError error
	DailyRangeError error
	GetStudentError error
	CandidatesError error
	AddFaceError    error
	CreateError     error
}

// NewStore creates an empty mock store.
func NewStore() *Store {
	return &Store{
		subjects: make(map[string]*database.Subject),
		students: make(map[string]*database.Student),
		roster:   make(map[string]map[string]*database.RosterEntry),
		daily:    make(map[string]*database.DailyRecord),
		nextFace: 1,
	}
}

func (s *Store) CreateSubject(ctx context.Context, subject *database.Subject) error {
	if s.CreateError != nil {
		return s.CreateError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *subject
	s.subjects[subject.ID] = &cp
	if s.roster[subject.ID] == nil {
		s.roster[subject.ID] = make(map[string]*database.RosterEntry)
	}
	return nil
}

func (s *Store) GetSubject(ctx context.Context, subjectID string) (*database.Subject, error) {
	if s.GetSubjectError != nil {
		return nil, s.GetSubjectError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.subjects[subjectID]
	if !ok {
		return nil, fmt.Errorf("subject %s: %w", subjectID, database.ErrNotFound)
	}
	cp := *subject
	return &cp, nil
}

func (s *Store) ListSubjects(ctx context.Context) ([]database.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]database.Subject, 0, len(s.subjects))
	for _, subject := range s.subjects {
		out = append(out, *subject)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListSubjectsByTeacher(ctx context.Context, teacherID string) ([]database.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.Subject
	for _, subject := range s.subjects {
		for _, tid := range subject.TeacherIDs {
			if tid == teacherID {
				out = append(out, *subject)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) EnrollStudent(ctx context.Context, subjectID, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects[subjectID]; !ok {
		return fmt.Errorf("subject %s: %w", subjectID, database.ErrNotFound)
	}
	student, ok := s.students[studentID]
	if !ok {
		return fmt.Errorf("student %s: %w", studentID, database.ErrNotFound)
	}
	if s.roster[subjectID] == nil {
		s.roster[subjectID] = make(map[string]*database.RosterEntry)
	}
	if _, exists := s.roster[subjectID][studentID]; exists {
		return nil
	}
	s.roster[subjectID][studentID] = &database.RosterEntry{
		SubjectID:   subjectID,
		StudentID:   studentID,
		StudentName: student.Name,
	}
	return nil
}

func (s *Store) UnenrollStudent(ctx context.Context, subjectID, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.roster[subjectID]
	if !ok {
		return fmt.Errorf("subject %s: %w", subjectID, database.ErrNotFound)
	}
	delete(entries, studentID)
	return nil
}

func (s *Store) GetRoster(ctx context.Context, subjectID string) ([]database.RosterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects[subjectID]; !ok {
		return nil, fmt.Errorf("subject %s: %w", subjectID, database.ErrNotFound)
	}
	var out []database.RosterEntry
	for _, e := range s.roster[subjectID] {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (s *Store) GetCandidates(ctx context.Context, subjectID string) ([]database.Candidate, error) {
	if s.CandidatesError != nil {
		return nil, s.CandidatesError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects[subjectID]; !ok {
		return nil, fmt.Errorf("subject %s: %w", subjectID, database.ErrNotFound)
	}
	var out []database.Candidate
	for studentID := range s.roster[subjectID] {
		student := s.students[studentID]
		if student == nil || !student.Verified {
			continue
		}
		var embeddings [][]float32
		for _, f := range s.faces {
			if f.StudentID == studentID {
				embeddings = append(embeddings, f.Embedding)
			}
		}
		if len(embeddings) == 0 {
			continue
		}
		out = append(out, database.Candidate{
			StudentID:  studentID,
			Name:       student.Name,
			Roll:       student.Roll,
			Embeddings: embeddings,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (s *Store) CreateStudent(ctx context.Context, student *database.Student) error {
	if s.CreateError != nil {
		return s.CreateError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *student
	s.students[student.ID] = &cp
	return nil
}

func (s *Store) GetStudent(ctx context.Context, studentID string) (*database.Student, error) {
	if s.GetStudentError != nil {
		return nil, s.GetStudentError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	student, ok := s.students[studentID]
	if !ok {
		return nil, fmt.Errorf("student %s: %w", studentID, database.ErrNotFound)
	}
	cp := *student
	return &cp, nil
}

func (s *Store) FindStudentsByName(ctx context.Context, name string) ([]database.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalized := facematch.NormalizeStudentName(name)
	var out []database.Student
	for _, student := range s.students {
		if facematch.NormalizeStudentName(student.Name) == normalized {
			out = append(out, *student)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AddReferenceFace(ctx context.Context, studentID string, embedding []float32) (*database.ReferenceFace, error) {
	if s.AddFaceError != nil {
		return nil, s.AddFaceError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	student, ok := s.students[studentID]
	if !ok {
		return nil, fmt.Errorf("student %s: %w", studentID, database.ErrNotFound)
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("empty embedding: %w", database.ErrInvalidArgument)
	}
	face := database.ReferenceFace{
		ID:        s.nextFace,
		StudentID: studentID,
		Embedding: embedding,
		Dim:       len(embedding),
		CreatedAt: time.Now(),
	}
	s.nextFace++
	s.faces = append(s.faces, face)
	student.Verified = true
	return &face, nil
}

func (s *Store) ListReferenceFaces(ctx context.Context) ([]database.ReferenceFace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]database.ReferenceFace, len(s.faces))
	copy(out, s.faces)
	return out, nil
}

// ApplyMarks mirrors the PostgreSQL test-and-set: a student is skipped when
// the stored last-marked date already equals the target date, and the daily
// record only accumulates the marks that actually applied.
func (s *Store) ApplyMarks(ctx context.Context, subjectID, date string, present, absent []string) (database.MarkOutcome, error) {
	if s.ApplyMarksError != nil {
		return database.MarkOutcome{}, s.ApplyMarksError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subjects[subjectID]; !ok {
		return database.MarkOutcome{}, fmt.Errorf("subject %s: %w", subjectID, database.ErrNotFound)
	}

	// Unknown or unenrolled students reject the call up front, before any
	// mark applies; mirrors the enrollment check in the PostgreSQL path.
	for _, studentID := range append(append([]string{}, present...), absent...) {
		if _, ok := s.roster[subjectID][studentID]; !ok {
			return database.MarkOutcome{}, fmt.Errorf(
				"student %s not enrolled in subject %s: %w", studentID, subjectID, database.ErrNotFound)
		}
	}

	var outcome database.MarkOutcome
	for _, studentID := range present {
		if s.applyMark(subjectID, studentID, date, true) {
			outcome.PresentApplied++
		}
	}
	for _, studentID := range absent {
		if s.applyMark(subjectID, studentID, date, false) {
			outcome.AbsentApplied++
		}
	}

	if outcome.PresentApplied > 0 || outcome.AbsentApplied > 0 {
		key := subjectID + "|" + date
		rec := s.daily[key]
		if rec == nil {
			rec = &database.DailyRecord{SubjectID: subjectID, Date: date}
			s.daily[key] = rec
		}
		rec.Present += outcome.PresentApplied
		rec.Absent += outcome.AbsentApplied
		rec.Total = rec.Present + rec.Absent
	}
	return outcome, nil
}

func (s *Store) applyMark(subjectID, studentID, date string, present bool) bool {
	entry, ok := s.roster[subjectID][studentID]
	if !ok || entry.LastMarkedAt == date {
		return false
	}
	if present {
		entry.Present++
	} else {
		entry.Absent++
	}
	entry.Total = entry.Present + entry.Absent
	entry.LastMarkedAt = date
	if entry.Total > 0 {
		entry.Percentage = math.Round(float64(entry.Present)/float64(entry.Total)*1000) / 10
	} else {
		entry.Percentage = 0
	}
	return true
}

func (s *Store) GetDailyRecords(ctx context.Context, subjectIDs []string, from, to string) ([]database.DailyRecord, error) {
	if s.DailyRangeError != nil {
		return nil, s.DailyRangeError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(subjectIDs))
	for _, id := range subjectIDs {
		wanted[id] = true
	}

	var out []database.DailyRecord
	for _, rec := range s.daily {
		if !wanted[rec.SubjectID] {
			continue
		}
		// ISO date strings compare correctly as plain strings.
		if rec.Date < from || rec.Date > to {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].SubjectID < out[j].SubjectID
	})
	return out, nil
}

func (s *Store) SaveAlert(ctx context.Context, alert *database.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, *alert)
	return nil
}

func (s *Store) ListAlerts(ctx context.Context, subjectID string) ([]database.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.Alert
	for _, a := range s.alerts {
		if subjectID == "" || a.SubjectID == subjectID {
			out = append(out, a)
		}
	}
	return out, nil
}

// SeedDaily inserts a daily record directly, bypassing the ledger guard.
// Rollup tests use it to set up history without replaying marks.
func (s *Store) SeedDaily(rec database.DailyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := rec
	s.daily[rec.SubjectID+"|"+rec.Date] = &cp
}

// SetLastMarked overrides a roster entry's guard date, for tests that need
// to simulate marks from earlier days.
func (s *Store) SetLastMarked(subjectID, studentID, date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.roster[subjectID][studentID]; ok {
		entry.LastMarkedAt = date
	}
}

// RosterEntry returns a copy of one roster entry for assertions.
func (s *Store) RosterEntry(subjectID, studentID string) (database.RosterEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.roster[subjectID][studentID]
	if !ok {
		return database.RosterEntry{}, false
	}
	return *entry, true
}

// DailyRecord returns a copy of one daily record for assertions.
func (s *Store) DailyRecord(subjectID, date string) (database.DailyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.daily[subjectID+"|"+date]
	if !ok {
		return database.DailyRecord{}, false
	}
	return *rec, true
}
