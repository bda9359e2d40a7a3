package attribution

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads creative mappings, references, direction questions and channels.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new attribution repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) FindCreativeByAdID(ctx context.Context, accountID uuid.UUID, adID string) (CreativeMapping, error) {
	var m CreativeMapping
	err := r.pool.QueryRow(ctx, `
		SELECT creative_id, direction_id
		FROM creative_attribution_mappings
		WHERE owning_account_id = $1 AND ad_id = $2
	`, accountID, adID).Scan(&m.CreativeID, &m.DirectionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return CreativeMapping{}, ErrNotFound
	}
	return m, err
}

func (r *Repository) ListCreativeReferences(ctx context.Context, accountID uuid.UUID) ([]CreativeReference, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT reference, creative_id, direction_id
		FROM creative_references
		WHERE owning_account_id = $1
		ORDER BY length(reference) DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make([]CreativeReference, 0)
	for rows.Next() {
		var ref CreativeReference
		if err := rows.Scan(&ref.Reference, &ref.CreativeID, &ref.DirectionID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *Repository) ListDirectionQuestions(ctx context.Context, accountID uuid.UUID) ([]DirectionQuestion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, client_question
		FROM directions
		WHERE owning_account_id = $1 AND client_question IS NOT NULL AND btrim(client_question) <> ''
		ORDER BY created_at ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := make([]DirectionQuestion, 0)
	for rows.Next() {
		var q DirectionQuestion
		if err := rows.Scan(&q.DirectionID, &q.Name, &q.Question); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (r *Repository) FindChannelID(ctx context.Context, accountID uuid.UUID, businessLineID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM messaging_channels
		WHERE owning_account_id = $1 AND business_line_id = $2
	`, accountID, businessLineID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	return id, err
}

var _ Store = (*Repository)(nil)
