package repository

import (
	"context"
	"errors"

	"leadsync_backend/internal/leads/domain"

	"github.com/google/uuid"
)

type InsertLeadParams struct {
	AccountID   uuid.UUID
	ContactID   string
	Attribution domain.Attribution
}

// InsertIfAbsent creates the lead for (account, contact) unless one already exists.
// The boolean is true only when this call inserted the row.
func (r *Repository) InsertIfAbsent(ctx context.Context, params InsertLeadParams) (Lead, bool, error) {
	attr := params.Attribution
	lead, err := scanLead(r.pool.QueryRow(ctx, `
		INSERT INTO leads (
			owning_account_id, canonical_contact_id, creative_id, direction_id, messaging_channel_id,
			attribution_confidence, attribution_similarity, funnel_stage, status, needs_manual_match
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (owning_account_id, canonical_contact_id) DO NOTHING
		RETURNING `+leadColumns,
		params.AccountID, params.ContactID, attr.CreativeID, attr.DirectionID, attr.ChannelID,
		int16(attr.Confidence), attr.Similarity, FunnelStageNewLead, StatusActive, attr.Confidence.NeedsManualMatch(),
	))
	if errors.Is(err, ErrNotFound) {
		return Lead{}, false, nil
	}
	if err != nil {
		return Lead{}, false, err
	}
	return lead, true, nil
}

// UpgradeAttribution overwrites attribution only if the stored confidence is still expected.
func (r *Repository) UpgradeAttribution(ctx context.Context, leadID uuid.UUID, expected domain.Confidence, attr domain.Attribution, needsManualMatch bool) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET creative_id = $3,
			direction_id = $4,
			messaging_channel_id = COALESCE($5, messaging_channel_id),
			attribution_confidence = $6,
			attribution_similarity = $7,
			needs_manual_match = $8,
			updated_at = now()
		WHERE id = $1 AND attribution_confidence = $2
	`, leadID, int16(expected), attr.CreativeID, attr.DirectionID, attr.ChannelID, int16(attr.Confidence), attr.Similarity, needsManualMatch)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FillAttribution sets each non-nil field only where the column is still NULL and the
// stored confidence has not moved. It affects zero rows when nothing is left to fill.
func (r *Repository) FillAttribution(ctx context.Context, leadID uuid.UUID, attr domain.Attribution) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET creative_id = COALESCE(creative_id, $3),
			direction_id = COALESCE(direction_id, $4),
			messaging_channel_id = COALESCE(messaging_channel_id, $5),
			attribution_similarity = CASE WHEN direction_id IS NULL THEN COALESCE(attribution_similarity, $6) ELSE attribution_similarity END,
			updated_at = now()
		WHERE id = $1
			AND attribution_confidence = $2
			AND (
				(creative_id IS NULL AND $3::uuid IS NOT NULL) OR
				(direction_id IS NULL AND $4::uuid IS NOT NULL) OR
				(messaging_channel_id IS NULL AND $5::uuid IS NOT NULL)
			)
	`, leadID, int16(attr.Confidence), attr.CreativeID, attr.DirectionID, attr.ChannelID, attr.Similarity)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ForceAttribution applies an operator's manual match unconditionally.
func (r *Repository) ForceAttribution(ctx context.Context, leadID uuid.UUID, accountID uuid.UUID, attr domain.Attribution) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `
		UPDATE leads
		SET creative_id = $3,
			direction_id = $4,
			attribution_confidence = $5,
			attribution_similarity = NULL,
			needs_manual_match = false,
			updated_at = now()
		WHERE id = $1 AND owning_account_id = $2
		RETURNING `+leadColumns,
		leadID, accountID, attr.CreativeID, attr.DirectionID, int16(attr.Confidence),
	))
}
