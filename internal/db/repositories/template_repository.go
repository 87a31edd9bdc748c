// template_repository.go implements TemplateRepository, providing read access
// to server templates. Templates are managed out-of-band (admin tooling);
// the core only ever reads them.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/serverfleet/serverfleet/internal/db/models"
)

// TemplateRepository handles server template database operations.
type TemplateRepository struct {
	db *sql.DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `
	id, name, description, user_message, max_parallel_executions,
	remove_after_minutes, notify_before_destroy, allowed_groups,
	prolong_by_days, provider_reference, template_params, created_at
`

func scanTemplate(row *sql.Row) (*models.ServerTemplate, error) {
	t := &models.ServerTemplate{}
	var paramsJSON []byte

	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Description,
		&t.UserMessage,
		&t.MaxParallelExecutions,
		&t.RemoveAfterMinutes,
		&t.NotifyBeforeDestroy,
		pq.Array(&t.AllowedGroups),
		&t.ProlongByDays,
		&t.ProviderReference,
		&paramsJSON,
		&t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if paramsJSON != nil {
		if err := json.Unmarshal(paramsJSON, &t.TemplateParams); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// GetByID retrieves a template by id. Returns (nil, nil) when absent.
func (r *TemplateRepository) GetByID(ctx context.Context, templateID string) (*models.ServerTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM server_templates WHERE id = $1`
	return scanTemplate(r.db.QueryRowContext(ctx, query, templateID))
}
