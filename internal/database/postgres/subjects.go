package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rollmark/rollmark/internal/database"
)

// SubjectRepository provides PostgreSQL-backed subject and roster storage.
type SubjectRepository struct {
	pool *Pool
}

// NewSubjectRepository creates a new PostgreSQL subject repository.
func NewSubjectRepository(pool *Pool) *SubjectRepository {
	return &SubjectRepository{pool: pool}
}

// CreateSubject stores a new subject.
func (r *SubjectRepository) CreateSubject(ctx context.Context, subject *database.Subject) error {
	query := `
		INSERT INTO subjects (id, name, code, teacher_ids)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query, subject.ID, subject.Name, subject.Code, pq.Array(subject.TeacherIDs))
	if err != nil {
		return fmt.Errorf("insert subject: %w", err)
	}
	return nil
}

// GetSubject retrieves a subject by ID.
func (r *SubjectRepository) GetSubject(ctx context.Context, subjectID string) (*database.Subject, error) {
	query := `
		SELECT id, name, code, teacher_ids, created_at
		FROM subjects
		WHERE id = $1
	`

	var subject database.Subject
	err := r.pool.QueryRow(ctx, query, subjectID).Scan(
		&subject.ID,
		&subject.Name,
		&subject.Code,
		pq.Array(&subject.TeacherIDs),
		&subject.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subject %s: %w", subjectID, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query subject: %w", err)
	}
	return &subject, nil
}

// ListSubjects returns every subject, ordered by name.
func (r *SubjectRepository) ListSubjects(ctx context.Context) ([]database.Subject, error) {
	query := `
		SELECT id, name, code, teacher_ids, created_at
		FROM subjects
		ORDER BY name
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	return scanSubjects(rows)
}

// ListSubjectsByTeacher returns all subjects a teacher owns, ordered by name.
func (r *SubjectRepository) ListSubjectsByTeacher(ctx context.Context, teacherID string) ([]database.Subject, error) {
	query := `
		SELECT id, name, code, teacher_ids, created_at
		FROM subjects
		WHERE $1 = ANY(teacher_ids)
		ORDER BY name
	`

	rows, err := r.pool.Query(ctx, query, teacherID)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	return scanSubjects(rows)
}

func scanSubjects(rows *sql.Rows) ([]database.Subject, error) {
	var subjects []database.Subject
	for rows.Next() {
		var subject database.Subject
		if err := rows.Scan(
			&subject.ID,
			&subject.Name,
			&subject.Code,
			pq.Array(&subject.TeacherIDs),
			&subject.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, subject)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return subjects, nil
}

// EnrollStudent adds a student to the roster with zeroed counters. Enrolling
// an already-enrolled student is a no-op that keeps existing counters.
func (r *SubjectRepository) EnrollStudent(ctx context.Context, subjectID, studentID string) error {
	if err := r.subjectExists(ctx, subjectID); err != nil {
		return err
	}

	query := `
		INSERT INTO subject_students (subject_id, student_id)
		VALUES ($1, $2)
		ON CONFLICT (subject_id, student_id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, subjectID, studentID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("student %s: %w", studentID, database.ErrNotFound)
		}
		return fmt.Errorf("enroll student: %w", err)
	}
	return nil
}

// UnenrollStudent removes a student's roster entry.
func (r *SubjectRepository) UnenrollStudent(ctx context.Context, subjectID, studentID string) error {
	if err := r.subjectExists(ctx, subjectID); err != nil {
		return err
	}

	_, err := r.pool.Exec(ctx,
		"DELETE FROM subject_students WHERE subject_id = $1 AND student_id = $2",
		subjectID, studentID,
	)
	if err != nil {
		return fmt.Errorf("unenroll student: %w", err)
	}
	return nil
}

// GetRoster returns all roster entries for a subject, ordered by student name.
func (r *SubjectRepository) GetRoster(ctx context.Context, subjectID string) ([]database.RosterEntry, error) {
	if err := r.subjectExists(ctx, subjectID); err != nil {
		return nil, err
	}

	query := `
		SELECT ss.subject_id, ss.student_id, s.name,
		       ss.present, ss.absent, ss.late, ss.total, ss.percentage,
		       COALESCE(to_char(ss.last_marked_at, 'YYYY-MM-DD'), '')
		FROM subject_students ss
		JOIN students s ON s.id = ss.student_id
		WHERE ss.subject_id = $1
		ORDER BY s.name, ss.student_id
	`

	rows, err := r.pool.Query(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	var roster []database.RosterEntry
	for rows.Next() {
		var entry database.RosterEntry
		if err := rows.Scan(
			&entry.SubjectID,
			&entry.StudentID,
			&entry.StudentName,
			&entry.Present,
			&entry.Absent,
			&entry.Late,
			&entry.Total,
			&entry.Percentage,
			&entry.LastMarkedAt,
		); err != nil {
			return nil, fmt.Errorf("scan roster entry: %w", err)
		}
		roster = append(roster, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}
	return roster, nil
}

// GetCandidates returns the verified, embedding-bearing students of a subject
// with all their reference embeddings.
func (r *SubjectRepository) GetCandidates(ctx context.Context, subjectID string) ([]database.Candidate, error) {
	if err := r.subjectExists(ctx, subjectID); err != nil {
		return nil, err
	}

	query := `
		SELECT s.id, s.name, s.roll, rf.embedding
		FROM subject_students ss
		JOIN students s ON s.id = ss.student_id AND s.verified
		JOIN reference_faces rf ON rf.student_id = s.id
		WHERE ss.subject_id = $1
		ORDER BY s.id, rf.id
	`

	rows, err := r.pool.Query(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []database.Candidate
	for rows.Next() {
		var (
			id, name, roll string
			vec            pgvector.Vector
		)
		if err := rows.Scan(&id, &name, &roll, &vec); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}

		// Rows arrive grouped by student; fold embeddings into one candidate.
		if n := len(candidates); n > 0 && candidates[n-1].StudentID == id {
			candidates[n-1].Embeddings = append(candidates[n-1].Embeddings, vec.Slice())
			continue
		}
		candidates = append(candidates, database.Candidate{
			StudentID:  id,
			Name:       name,
			Roll:       roll,
			Embeddings: [][]float32{vec.Slice()},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return candidates, nil
}

func (r *SubjectRepository) subjectExists(ctx context.Context, subjectID string) error {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM subjects WHERE id = $1)", subjectID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check subject exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("subject %s: %w", subjectID, database.ErrNotFound)
	}
	return nil
}

// isForeignKeyViolation reports whether the error is a PostgreSQL foreign key
// violation (class 23503).
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
