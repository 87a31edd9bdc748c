// instance_repository.go implements InstanceRepository, the persistence layer
// for provisioned server instances: creation, fold updates from task results,
// soft/hard deletion, and the queries the throttle and maintenance sweeps
// depend on.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/serverfleet/serverfleet/internal/db/models"
)

// InstanceRepository handles server instance database operations.
type InstanceRepository struct {
	db *sql.DB
}

// NewInstanceRepository creates a new InstanceRepository.
func NewInstanceRepository(db *sql.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

const instanceColumns = `
	id, user_id, template_id, usage, user_message, removal_at,
	server_id, server_name, server_address, server_user, server_password,
	server_state, notify_before_destroy, info_mail_sent, prolong_secret,
	marked_for_deletion, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*models.ServerInstance, error) {
	s := &models.ServerInstance{}
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.TemplateID,
		&s.Usage,
		&s.UserMessage,
		&s.RemovalAt,
		&s.ServerID,
		&s.ServerName,
		&s.ServerAddress,
		&s.ServerUser,
		&s.ServerPassword,
		&s.ServerState,
		&s.NotifyBeforeDestroy,
		&s.InfoMailSent,
		&s.ProlongSecret,
		&s.MarkedForDeletion,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts a new instance row. ID and timestamps are assigned here.
func (r *InstanceRepository) Create(ctx context.Context, s *models.ServerInstance) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now

	query := `
		INSERT INTO server_instances (
			id, user_id, template_id, usage, user_message, removal_at,
			server_id, server_name, server_address, server_user, server_password,
			server_state, notify_before_destroy, info_mail_sent, prolong_secret,
			marked_for_deletion, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.UserID, s.TemplateID, s.Usage, s.UserMessage, s.RemovalAt,
		s.ServerID, s.ServerName, s.ServerAddress, s.ServerUser, s.ServerPassword,
		s.ServerState, s.NotifyBeforeDestroy, s.InfoMailSent, s.ProlongSecret,
		s.MarkedForDeletion, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

// GetByID retrieves an instance by id. Returns (nil, nil) when absent.
func (r *InstanceRepository) GetByID(ctx context.Context, instanceID string) (*models.ServerInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM server_instances WHERE id = $1`
	s, err := scanInstance(r.db.QueryRowContext(ctx, query, instanceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// Update persists all mutable instance fields. Last write wins; there is no
// optimistic locking (see the concurrency notes in the dispatch package).
func (r *InstanceRepository) Update(ctx context.Context, s *models.ServerInstance) error {
	s.UpdatedAt = time.Now()
	query := `
		UPDATE server_instances SET
			usage = $2, user_message = $3, removal_at = $4,
			server_id = $5, server_name = $6, server_address = $7,
			server_user = $8, server_password = $9, server_state = $10,
			notify_before_destroy = $11, info_mail_sent = $12,
			prolong_secret = $13, marked_for_deletion = $14, updated_at = $15
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.Usage, s.UserMessage, s.RemovalAt,
		s.ServerID, s.ServerName, s.ServerAddress,
		s.ServerUser, s.ServerPassword, s.ServerState,
		s.NotifyBeforeDestroy, s.InfoMailSent,
		s.ProlongSecret, s.MarkedForDeletion, s.UpdatedAt,
	)
	return err
}

// HardDelete removes the instance row. Execution records referencing it keep
// existing with their instance_id nulled by the foreign key.
func (r *InstanceRepository) HardDelete(ctx context.Context, instanceID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM server_instances WHERE id = $1`, instanceID)
	return err
}

// HasActive reports whether the user already owns a live (not
// marked-for-deletion) instance of the template.
func (r *InstanceRepository) HasActive(ctx context.Context, userID, templateID string) (bool, error) {
	query := `
		SELECT COUNT(*) FROM server_instances
		WHERE user_id = $1 AND template_id = $2 AND NOT marked_for_deletion
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, templateID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountInCreation counts instances of the template that have no backend
// server id yet. This is the throttle's proxy for in-flight creations; it is
// best-effort and may transiently overshoot by one.
func (r *InstanceRepository) CountInCreation(ctx context.Context, templateID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM server_instances
		WHERE template_id = $1 AND server_id IS NULL
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, templateID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListDueForRemoval returns every instance whose removal deadline has passed.
func (r *InstanceRepository) ListDueForRemoval(ctx context.Context, now time.Time) ([]*models.ServerInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM server_instances WHERE removal_at <= $1`
	return r.list(ctx, query, now)
}

// ListDueForNotification returns instances that opted into the pre-deletion
// notification, have not been notified yet, and whose removal deadline is at
// or before cutoff.
func (r *InstanceRepository) ListDueForNotification(ctx context.Context, cutoff time.Time) ([]*models.ServerInstance, error) {
	query := `
		SELECT ` + instanceColumns + ` FROM server_instances
		WHERE notify_before_destroy AND NOT info_mail_sent AND removal_at <= $1
	`
	return r.list(ctx, query, cutoff)
}

// MarkNotified records that the prolong notification was handled: the secret
// is stored and info_mail_sent set regardless of delivery outcome.
func (r *InstanceRepository) MarkNotified(ctx context.Context, instanceID, prolongSecret string) error {
	query := `
		UPDATE server_instances
		SET info_mail_sent = TRUE, prolong_secret = $2, updated_at = $3
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, instanceID, prolongSecret, time.Now())
	return err
}

func (r *InstanceRepository) list(ctx context.Context, query string, args ...any) ([]*models.ServerInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instances := make([]*models.ServerInstance, 0)
	for rows.Next() {
		s, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, s)
	}
	return instances, rows.Err()
}
