package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rollmark/rollmark/internal/database"
)

// AlertRepository provides PostgreSQL-backed storage for low-attendance
// alerts produced by the monthly scheduler scan.
type AlertRepository struct {
	pool *Pool
}

// NewAlertRepository creates a new PostgreSQL alert repository.
func NewAlertRepository(pool *Pool) *AlertRepository {
	return &AlertRepository{pool: pool}
}

// SaveAlert stores an alert, assigning an ID when missing. Re-scanning the
// same subject and month updates the recorded percentage instead of adding
// a duplicate row.
func (r *AlertRepository) SaveAlert(ctx context.Context, alert *database.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO alerts (id, subject_id, month, percentage, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_id, month) DO UPDATE SET
			percentage = EXCLUDED.percentage,
			created_at = EXCLUDED.created_at
	`
	_, err := r.pool.Exec(ctx, query, alert.ID, alert.SubjectID, alert.Month, alert.Percentage, alert.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("subject %s: %w", alert.SubjectID, database.ErrNotFound)
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// ListAlerts returns alerts, newest first. An empty subjectID returns all.
func (r *AlertRepository) ListAlerts(ctx context.Context, subjectID string) ([]database.Alert, error) {
	query := `
		SELECT id, subject_id, month, percentage, created_at
		FROM alerts
		WHERE $1 = '' OR subject_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []database.Alert
	for rows.Next() {
		var alert database.Alert
		if err := rows.Scan(&alert.ID, &alert.SubjectID, &alert.Month, &alert.Percentage, &alert.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}
