package database

import (
	"context"
)

// SubjectStore manages subjects and their rosters.
type SubjectStore interface {
	// CreateSubject stores a new subject.
	CreateSubject(ctx context.Context, subject *Subject) error
	// GetSubject retrieves a subject by ID, ErrNotFound if missing.
	GetSubject(ctx context.Context, subjectID string) (*Subject, error)
	// ListSubjects returns every subject, used by the alert scan.
	ListSubjects(ctx context.Context) ([]Subject, error)
	// ListSubjectsByTeacher returns all subjects a teacher owns.
	ListSubjectsByTeacher(ctx context.Context, teacherID string) ([]Subject, error)
	// EnrollStudent adds a student to a subject's roster with zeroed counters.
	// Enrolling an already-enrolled student is a no-op.
	EnrollStudent(ctx context.Context, subjectID, studentID string) error
	// UnenrollStudent removes a student's roster entry.
	UnenrollStudent(ctx context.Context, subjectID, studentID string) error
	// GetRoster returns all roster entries for a subject.
	GetRoster(ctx context.Context, subjectID string) ([]RosterEntry, error)
	// GetCandidates returns the verified, embedding-bearing students of a
	// subject in the shape the matcher consumes.
	GetCandidates(ctx context.Context, subjectID string) ([]Candidate, error)
}

// StudentStore manages students and their reference face embeddings.
type StudentStore interface {
	// CreateStudent stores a new student.
	CreateStudent(ctx context.Context, student *Student) error
	// GetStudent retrieves a student by ID, ErrNotFound if missing.
	GetStudent(ctx context.Context, studentID string) (*Student, error)
	// FindStudentsByName returns students whose normalized name matches.
	FindStudentsByName(ctx context.Context, name string) ([]Student, error)
	// AddReferenceFace appends a reference embedding for a student and marks
	// the student verified in the same operation.
	AddReferenceFace(ctx context.Context, studentID string, embedding []float32) (*ReferenceFace, error)
	// ListReferenceFaces returns every stored reference face, used to build
	// the identify index at startup.
	ListReferenceFaces(ctx context.Context) ([]ReferenceFace, error)
}

// LedgerWriter applies confirmed attendance marks.
type LedgerWriter interface {
	// ApplyMarks increments present/absent counters for the given students
	// on the given date, skipping any student whose last-marked guard
	// already equals that date. The per-student updates and the daily record
	// upsert happen atomically: the counts added to the daily record are
	// exactly the marks that passed the guard. Referencing a student not
	// enrolled in the subject fails the whole call with ErrNotFound.
	ApplyMarks(ctx context.Context, subjectID, date string, present, absent []string) (MarkOutcome, error)
}

// LedgerReader provides read access for rollups and analytics.
type LedgerReader interface {
	// GetDailyRecords returns daily records for the subjects within the
	// inclusive [from, to] date range, ordered by date.
	GetDailyRecords(ctx context.Context, subjectIDs []string, from, to string) ([]DailyRecord, error)
}

// AlertStore records low-attendance alerts found by the scheduler.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *Alert) error
	ListAlerts(ctx context.Context, subjectID string) ([]Alert, error)
}
