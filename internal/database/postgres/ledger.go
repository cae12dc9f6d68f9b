package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/rollmark/rollmark/internal/database"
)

// LedgerRepository provides PostgreSQL-backed attendance mark storage.
//
// The idempotence guard is the last_marked_at column on subject_students:
// the counter increments and the guard check happen in one UPDATE, so a
// student marked for a date can never be counted for that date again, no
// matter how many confirms race or retry.
type LedgerRepository struct {
	pool *Pool
}

// NewLedgerRepository creates a new PostgreSQL ledger repository.
func NewLedgerRepository(pool *Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// markPresentQuery increments counters for students whose guard does not
// already hold the target date. Column references on the right-hand side
// read the pre-update values, so present + 1 and total + 1 describe the row
// this statement produces.
const markPresentQuery = `
	UPDATE subject_students SET
		present = present + 1,
		total = total + 1,
		percentage = ROUND((present + 1)::numeric / (total + 1) * 100, 1),
		last_marked_at = $2::date
	WHERE subject_id = $1
	  AND student_id = ANY($3)
	  AND last_marked_at IS DISTINCT FROM $2::date
	RETURNING student_id
`

const markAbsentQuery = `
	UPDATE subject_students SET
		absent = absent + 1,
		total = total + 1,
		percentage = ROUND(present::numeric / (total + 1) * 100, 1),
		last_marked_at = $2::date
	WHERE subject_id = $1
	  AND student_id = ANY($3)
	  AND last_marked_at IS DISTINCT FROM $2::date
	RETURNING student_id
`

// ApplyMarks applies present and absent marks for a subject on a date. Both
// guarded updates and the daily record upsert run in one transaction; the
// daily record accumulates exactly the marks that passed the guard. A
// referenced student missing from the roster fails the whole call with
// ErrNotFound.
func (r *LedgerRepository) ApplyMarks(ctx context.Context, subjectID, date string, present, absent []string) (database.MarkOutcome, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return database.MarkOutcome{}, err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM subjects WHERE id = $1)", subjectID,
	).Scan(&exists); err != nil {
		return database.MarkOutcome{}, fmt.Errorf("check subject exists: %w", err)
	}
	if !exists {
		return database.MarkOutcome{}, fmt.Errorf("subject %s: %w", subjectID, database.ErrNotFound)
	}

	// Every referenced student must sit on the roster. Without this check a
	// stale or forged student ID would match zero rows and look exactly like
	// an already-marked no-op.
	referenced := make([]string, 0, len(present)+len(absent))
	referenced = append(referenced, present...)
	referenced = append(referenced, absent...)
	if len(referenced) > 0 {
		var enrolled int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM subject_students WHERE subject_id = $1 AND student_id = ANY($2)",
			subjectID, pq.Array(referenced),
		).Scan(&enrolled); err != nil {
			return database.MarkOutcome{}, fmt.Errorf("check enrollment: %w", err)
		}
		if enrolled != len(referenced) {
			return database.MarkOutcome{}, fmt.Errorf(
				"student not enrolled in subject %s: %w", subjectID, database.ErrNotFound)
		}
	}

	var outcome database.MarkOutcome
	if outcome.PresentApplied, err = applyMarkSet(ctx, tx, markPresentQuery, subjectID, date, present); err != nil {
		return database.MarkOutcome{}, fmt.Errorf("apply present marks: %w", err)
	}
	if outcome.AbsentApplied, err = applyMarkSet(ctx, tx, markAbsentQuery, subjectID, date, absent); err != nil {
		return database.MarkOutcome{}, fmt.Errorf("apply absent marks: %w", err)
	}

	if outcome.PresentApplied > 0 || outcome.AbsentApplied > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO daily_records (subject_id, date, present, absent, total)
			VALUES ($1, $2::date, $3, $4, $3 + $4)
			ON CONFLICT (subject_id, date) DO UPDATE SET
				present = daily_records.present + EXCLUDED.present,
				absent = daily_records.absent + EXCLUDED.absent,
				total = daily_records.total + EXCLUDED.total
		`, subjectID, date, outcome.PresentApplied, outcome.AbsentApplied)
		if err != nil {
			return database.MarkOutcome{}, fmt.Errorf("upsert daily record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return database.MarkOutcome{}, fmt.Errorf("commit marks: %w", err)
	}
	return outcome, nil
}

// applyMarkSet runs one guarded update and counts the rows that changed.
func applyMarkSet(ctx context.Context, tx *sql.Tx, query, subjectID, date string, students []string) (int, error) {
	if len(students) == 0 {
		return 0, nil
	}

	rows, err := tx.QueryContext(ctx, query, subjectID, date, pq.Array(students))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	applied := 0
	for rows.Next() {
		var studentID string
		if err := rows.Scan(&studentID); err != nil {
			return 0, err
		}
		applied++
	}
	return applied, rows.Err()
}

// GetDailyRecords returns daily records for the subjects within the
// inclusive [from, to] range, ordered by date.
func (r *LedgerRepository) GetDailyRecords(ctx context.Context, subjectIDs []string, from, to string) ([]database.DailyRecord, error) {
	query := `
		SELECT subject_id, to_char(date, 'YYYY-MM-DD'), present, absent, late, total
		FROM daily_records
		WHERE subject_id = ANY($1)
		  AND date BETWEEN $2::date AND $3::date
		ORDER BY date, subject_id
	`

	rows, err := r.pool.Query(ctx, query, pq.Array(subjectIDs), from, to)
	if err != nil {
		return nil, fmt.Errorf("query daily records: %w", err)
	}
	defer rows.Close()

	var records []database.DailyRecord
	for rows.Next() {
		var rec database.DailyRecord
		if err := rows.Scan(&rec.SubjectID, &rec.Date, &rec.Present, &rec.Absent, &rec.Late, &rec.Total); err != nil {
			return nil, fmt.Errorf("scan daily record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily records: %w", err)
	}
	return records, nil
}
