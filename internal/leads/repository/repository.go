package repository

import (
	"context"
	"errors"
	"time"

	"leadsync_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("lead not found")

const (
	FunnelStageNewLead = "new_lead"
	StatusActive       = "active"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Lead struct {
	ID                   uuid.UUID
	AccountID            uuid.UUID
	ContactID            string
	CreativeID           *uuid.UUID
	DirectionID          *uuid.UUID
	ChannelID            *uuid.UUID
	Confidence           domain.Confidence
	Similarity           *float64
	FunnelStage          string
	Status               string
	IsQualified          bool
	QualifiedSource      domain.QualifiedSource
	QualifiedAt          *time.Time
	BookingRecordID      *string
	CRMLeadID            *int64
	CurrentPipelineID    *int64
	CurrentStatusID      *int64
	ReachedKeyStages     [domain.KeyStageSlots]bool
	NeedsManualMatch     bool
	CumulativeSaleAmount float64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Attribution returns the lead's stored attribution.
func (l Lead) Attribution() domain.Attribution {
	return domain.Attribution{
		CreativeID:  l.CreativeID,
		DirectionID: l.DirectionID,
		ChannelID:   l.ChannelID,
		Confidence:  l.Confidence,
		Similarity:  l.Similarity,
	}
}

// Qualification returns the lead's stored qualification state.
func (l Lead) Qualification() domain.QualificationState {
	return domain.QualificationState{
		IsQualified:      l.IsQualified,
		Source:           l.QualifiedSource,
		BookingRecordID:  l.BookingRecordID,
		CRMLeadID:        l.CRMLeadID,
		PipelineID:       l.CurrentPipelineID,
		StatusID:         l.CurrentStatusID,
		ReachedKeyStages: l.ReachedKeyStages,
	}
}

const leadColumns = `
	id, owning_account_id, canonical_contact_id, creative_id, direction_id, messaging_channel_id,
	attribution_confidence, attribution_similarity, funnel_stage, status,
	is_qualified, qualified_source, qualified_at, booking_record_id,
	crm_lead_id, current_pipeline_id, current_status_id,
	reached_key_stage_1, reached_key_stage_2, reached_key_stage_3,
	needs_manual_match, cumulative_sale_amount::float8, created_at, updated_at`

func scanLead(row pgx.Row) (Lead, error) {
	var (
		lead       Lead
		confidence int16
		source     string
	)
	err := row.Scan(
		&lead.ID, &lead.AccountID, &lead.ContactID, &lead.CreativeID, &lead.DirectionID, &lead.ChannelID,
		&confidence, &lead.Similarity, &lead.FunnelStage, &lead.Status,
		&lead.IsQualified, &source, &lead.QualifiedAt, &lead.BookingRecordID,
		&lead.CRMLeadID, &lead.CurrentPipelineID, &lead.CurrentStatusID,
		&lead.ReachedKeyStages[0], &lead.ReachedKeyStages[1], &lead.ReachedKeyStages[2],
		&lead.NeedsManualMatch, &lead.CumulativeSaleAmount, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, err
	}
	lead.Confidence = domain.Confidence(confidence)
	lead.QualifiedSource = domain.QualifiedSource(source)
	return lead, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID, accountID uuid.UUID) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE id = $1 AND owning_account_id = $2
	`, id, accountID))
}

func (r *Repository) GetByContact(ctx context.Context, accountID uuid.UUID, contactID string) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE owning_account_id = $1 AND canonical_contact_id = $2
	`, accountID, contactID))
}
