package database

import (
	"time"
)

// Subject is a taught class that owns its roster and daily attendance records.
type Subject struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Code       string    `json:"code"`
	TeacherIDs []string  `json:"teacher_ids"`
	CreatedAt  time.Time `json:"created_at"`
}

// Student is an enrollable person. Verified flips to true when the first
// reference face embedding is stored.
type Student struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Roll      string    `json:"roll"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

// ReferenceFace is one stored reference embedding for a student. Students
// accumulate several over repeated enrollments; matching treats the closest
// one as the student's score.
type ReferenceFace struct {
	ID        int64     `json:"id"`
	StudentID string    `json:"student_id"`
	Embedding []float32 `json:"-"`
	Dim       int       `json:"dim"`
	CreatedAt time.Time `json:"created_at"`
}

// RosterEntry is a student's attendance state within one subject.
// LastMarkedAt (a "YYYY-MM-DD" date string, empty when never marked) is the
// idempotence guard: no counter may be incremented twice for the same date.
// Percentage is a derived cache equal to round(present/total*100, 1) when
// total > 0 and 0 otherwise; Total always equals Present + Absent.
type RosterEntry struct {
	SubjectID    string  `json:"subject_id"`
	StudentID    string  `json:"student_id"`
	StudentName  string  `json:"student_name"`
	Present      int     `json:"present"`
	Absent       int     `json:"absent"`
	Late         int     `json:"late"`
	Total        int     `json:"total"`
	Percentage   float64 `json:"percentage"`
	LastMarkedAt string  `json:"last_marked_at"`
}

// DailyRecord is the per-subject per-date aggregate, keyed by
// (subject_id, "YYYY-MM-DD"). Total always equals Present + Absent; Late is
// informational and does not take part in that sum.
type DailyRecord struct {
	SubjectID string `json:"subject_id"`
	Date      string `json:"date"`
	Present   int    `json:"present"`
	Absent    int    `json:"absent"`
	Late      int    `json:"late"`
	Total     int    `json:"total"`
}

// MarkOutcome reports how many marks a confirm call actually applied after
// the idempotence guard filtered out already-marked students.
type MarkOutcome struct {
	PresentApplied int `json:"present_applied"`
	AbsentApplied  int `json:"absent_applied"`
}

// Candidate is a verified student offered to the matcher, with all stored
// reference embeddings.
type Candidate struct {
	StudentID  string      `json:"student_id"`
	Name       string      `json:"name"`
	Roll       string      `json:"roll"`
	Embeddings [][]float32 `json:"-"`
}

// Alert records a low-attendance finding from the monthly scheduler scan.
type Alert struct {
	ID         string    `json:"id"`
	SubjectID  string    `json:"subject_id"`
	Month      string    `json:"month"`
	Percentage float64   `json:"percentage"`
	CreatedAt  time.Time `json:"created_at"`
}
