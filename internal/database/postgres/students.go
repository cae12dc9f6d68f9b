package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/rollmark/rollmark/internal/database"
	"github.com/rollmark/rollmark/internal/facematch"
)

// StudentRepository provides PostgreSQL-backed student and reference face
// storage.
type StudentRepository struct {
	pool *Pool
}

// NewStudentRepository creates a new PostgreSQL student repository.
func NewStudentRepository(pool *Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

// CreateStudent stores a new student.
func (r *StudentRepository) CreateStudent(ctx context.Context, student *database.Student) error {
	query := `
		INSERT INTO students (id, name, roll, verified)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query, student.ID, student.Name, student.Roll, student.Verified)
	if err != nil {
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

// GetStudent retrieves a student by ID.
func (r *StudentRepository) GetStudent(ctx context.Context, studentID string) (*database.Student, error) {
	query := `
		SELECT id, name, roll, verified, created_at
		FROM students
		WHERE id = $1
	`

	var student database.Student
	err := r.pool.QueryRow(ctx, query, studentID).Scan(
		&student.ID,
		&student.Name,
		&student.Roll,
		&student.Verified,
		&student.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("student %s: %w", studentID, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query student: %w", err)
	}
	return &student, nil
}

// FindStudentsByName returns students whose normalized name matches the
// given name. Normalization happens in Go and in SQL the same way:
// lowercase, no diacritics, collapsed whitespace.
func (r *StudentRepository) FindStudentsByName(ctx context.Context, name string) ([]database.Student, error) {
	normalized := facematch.NormalizeStudentName(name)

	query := `
		SELECT id, name, roll, verified, created_at
		FROM students
		WHERE LOWER(regexp_replace(unaccent(name), '\s+', ' ', 'g')) = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, normalized)
	if err != nil {
		return nil, fmt.Errorf("query students by name: %w", err)
	}
	defer rows.Close()

	var students []database.Student
	for rows.Next() {
		var student database.Student
		if err := rows.Scan(
			&student.ID,
			&student.Name,
			&student.Roll,
			&student.Verified,
			&student.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, student)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return students, nil
}

// AddReferenceFace appends a reference embedding for a student and marks the
// student verified in the same transaction.
func (r *StudentRepository) AddReferenceFace(ctx context.Context, studentID string, embedding []float32) (*database.ReferenceFace, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("empty embedding: %w", database.ErrInvalidArgument)
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	face := database.ReferenceFace{
		StudentID: studentID,
		Embedding: embedding,
		Dim:       len(embedding),
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO reference_faces (student_id, embedding, dim)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, studentID, pgvector.NewVector(embedding), len(embedding)).Scan(&face.ID, &face.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("student %s: %w", studentID, database.ErrNotFound)
		}
		return nil, fmt.Errorf("insert reference face: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE students SET verified = TRUE WHERE id = $1", studentID); err != nil {
		return nil, fmt.Errorf("mark student verified: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reference face: %w", err)
	}
	return &face, nil
}

// ListReferenceFaces returns every stored reference face, used to build the
// identify index at startup.
func (r *StudentRepository) ListReferenceFaces(ctx context.Context) ([]database.ReferenceFace, error) {
	query := `
		SELECT id, student_id, embedding, dim, created_at
		FROM reference_faces
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query reference faces: %w", err)
	}
	defer rows.Close()

	var faces []database.ReferenceFace
	for rows.Next() {
		var (
			face database.ReferenceFace
			vec  pgvector.Vector
		)
		if err := rows.Scan(&face.ID, &face.StudentID, &vec, &face.Dim, &face.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reference face: %w", err)
		}
		face.Embedding = vec.Slice()
		faces = append(faces, face)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reference faces: %w", err)
	}
	return faces, nil
}
