// Package directions reads and configures campaign directions: the business lines
// creatives are grouped under and the CRM key stages tracked for each.
package directions

import (
	"context"
	"errors"
	"fmt"

	"leadsync_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("direction not found")

type Direction struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	Name           string
	ClientQuestion *string
	KeyStages      domain.KeyStages
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Exists reports whether the direction belongs to the account.
func (r *Repository) Exists(ctx context.Context, accountID uuid.UUID, directionID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM directions WHERE id = $1 AND owning_account_id = $2)
	`, directionID, accountID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check direction: %w", err)
	}
	return exists, nil
}

func (r *Repository) GetByID(ctx context.Context, accountID uuid.UUID, directionID uuid.UUID) (Direction, error) {
	var (
		d        Direction
		pipeline [domain.KeyStageSlots]*int64
		status   [domain.KeyStageSlots]*int64
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, owning_account_id, name, client_question,
			key_stage_1_pipeline_id, key_stage_1_status_id,
			key_stage_2_pipeline_id, key_stage_2_status_id,
			key_stage_3_pipeline_id, key_stage_3_status_id
		FROM directions
		WHERE id = $1 AND owning_account_id = $2
	`, directionID, accountID).Scan(
		&d.ID, &d.AccountID, &d.Name, &d.ClientQuestion,
		&pipeline[0], &status[0],
		&pipeline[1], &status[1],
		&pipeline[2], &status[2],
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Direction{}, ErrNotFound
	}
	if err != nil {
		return Direction{}, fmt.Errorf("get direction: %w", err)
	}
	for i := range d.KeyStages {
		if pipeline[i] != nil && status[i] != nil {
			d.KeyStages[i] = &domain.StageRef{PipelineID: *pipeline[i], StatusID: *status[i]}
		}
	}
	return d, nil
}

// GetKeyStages returns the configured key stages of a direction.
func (r *Repository) GetKeyStages(ctx context.Context, accountID uuid.UUID, directionID uuid.UUID) (domain.KeyStages, error) {
	d, err := r.GetByID(ctx, accountID, directionID)
	if err != nil {
		return domain.KeyStages{}, err
	}
	return d.KeyStages, nil
}

// UpdateKeyStages replaces all three slots; unset slots are cleared.
func (r *Repository) UpdateKeyStages(ctx context.Context, accountID uuid.UUID, directionID uuid.UUID, stages domain.KeyStages) error {
	args := []any{directionID, accountID}
	for _, s := range stages {
		if s == nil {
			args = append(args, nil, nil)
			continue
		}
		args = append(args, s.PipelineID, s.StatusID)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE directions SET
			key_stage_1_pipeline_id = $3, key_stage_1_status_id = $4,
			key_stage_2_pipeline_id = $5, key_stage_2_status_id = $6,
			key_stage_3_pipeline_id = $7, key_stage_3_status_id = $8,
			updated_at = now()
		WHERE id = $1 AND owning_account_id = $2
	`, args...)
	if err != nil {
		return fmt.Errorf("update key stages: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
