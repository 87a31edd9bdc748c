// execution_repository.go implements ExecutionRepository, the append-only
// store for task execution records. Records are written once and never
// updated or deleted by the core.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/serverfleet/serverfleet/internal/db/models"
)

// ExecutionRepository handles execution record database operations.
type ExecutionRepository struct {
	db *sql.DB
}

// NewExecutionRepository creates a new ExecutionRepository.
func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Append writes one execution record. ID and timestamp are assigned here.
func (r *ExecutionRepository) Append(ctx context.Context, rec *models.ExecutionRecord) error {
	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now()

	query := `
		INSERT INTO execution_records (
			id, instance_id, user_id, job_id, task_name,
			user_message, user_trace, admin_message, admin_trace, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.InstanceID, rec.UserID, rec.JobID, rec.TaskName,
		rec.UserMessage, rec.UserTrace, rec.AdminMessage, rec.AdminTrace, rec.CreatedAt,
	)
	return err
}

// ListForInstance retrieves the records of one instance, newest first.
// When userVisibleOnly is set, only records carrying a user message or trace
// are returned; admin-only records stay hidden.
func (r *ExecutionRepository) ListForInstance(ctx context.Context, instanceID string, userVisibleOnly bool) ([]*models.ExecutionRecord, error) {
	query := `
		SELECT id, instance_id, user_id, job_id, task_name,
		       user_message, user_trace, admin_message, admin_trace, created_at
		FROM execution_records
		WHERE instance_id = $1
	`
	if userVisibleOnly {
		query += ` AND (user_message IS NOT NULL OR user_trace IS NOT NULL)`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*models.ExecutionRecord, 0)
	for rows.Next() {
		rec := &models.ExecutionRecord{}
		err := rows.Scan(
			&rec.ID, &rec.InstanceID, &rec.UserID, &rec.JobID, &rec.TaskName,
			&rec.UserMessage, &rec.UserTrace, &rec.AdminMessage, &rec.AdminTrace, &rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
