package repository

import (
	"context"
	"errors"
	"fmt"

	"leadsync_backend/internal/leads/domain"
	"leadsync_backend/platform/phone"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// suffixScanLimit bounds the candidate set of a suffix-tolerant phone lookup.
const suffixScanLimit = 25

func (r *Repository) FindByCRMLeadID(ctx context.Context, accountID uuid.UUID, crmLeadID int64) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE owning_account_id = $1 AND crm_lead_id = $2
		ORDER BY created_at ASC
		LIMIT 1
	`, accountID, crmLeadID))
}

// FindByContactSuffix finds the oldest lead whose contact id and contactID are
// suffixes of one another. Candidates are narrowed in SQL and confirmed with
// phone.SuffixMatch.
func (r *Repository) FindByContactSuffix(ctx context.Context, accountID uuid.UUID, contactID string) (Lead, error) {
	if len(contactID) < 7 {
		return Lead{}, ErrNotFound
	}
	tail := contactID[len(contactID)-7:]
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE owning_account_id = $1
			AND right(canonical_contact_id, 7) = $2
			AND (canonical_contact_id LIKE '%' || $3 OR $3 LIKE '%' || canonical_contact_id)
		ORDER BY created_at ASC
		LIMIT $4
	`, accountID, tail, contactID, suffixScanLimit)
	if err != nil {
		return Lead{}, err
	}
	defer rows.Close()

	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return Lead{}, err
		}
		if phone.SuffixMatch(lead.ContactID, contactID) {
			return lead, nil
		}
	}
	if err := rows.Err(); err != nil {
		return Lead{}, err
	}
	return Lead{}, ErrNotFound
}

// ApplyCRMState writes a reconciled CRM state. plannedOnBooking says the plan was made
// from a booking-qualified lead; otherwise the write is skipped when a booking qualified
// the lead in the meantime and the caller re-reads and re-plans.
func (r *Repository) ApplyCRMState(ctx context.Context, leadID uuid.UUID, state domain.QualificationState, plannedOnBooking bool) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET crm_lead_id = $2,
			current_pipeline_id = $3,
			current_status_id = $4,
			is_qualified = $5,
			qualified_source = $6,
			qualified_at = CASE
				WHEN $5 AND NOT is_qualified THEN now()
				WHEN NOT $5 THEN NULL
				ELSE qualified_at
			END,
			reached_key_stage_1 = reached_key_stage_1 OR $7,
			reached_key_stage_2 = reached_key_stage_2 OR $8,
			reached_key_stage_3 = reached_key_stage_3 OR $9,
			updated_at = now()
		WHERE id = $1 AND ($10 OR qualified_source <> 'booking')
	`, leadID, state.CRMLeadID, state.PipelineID, state.StatusID, state.IsQualified, string(state.Source),
		state.ReachedKeyStages[0], state.ReachedKeyStages[1], state.ReachedKeyStages[2], plannedOnBooking)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ApplyBookingQualification marks the lead qualified by a booking. Idempotent: a lead
// already qualified by a booking keeps its first booking_record_id.
func (r *Repository) ApplyBookingQualification(ctx context.Context, leadID uuid.UUID, recordID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET is_qualified = true,
			qualified_source = 'booking',
			qualified_at = CASE WHEN is_qualified THEN qualified_at ELSE now() END,
			booking_record_id = COALESCE(booking_record_id, $2),
			updated_at = now()
		WHERE id = $1
			AND NOT (is_qualified AND qualified_source = 'booking' AND booking_record_id IS NOT NULL)
	`, leadID, recordID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RequalifyStage recomputes is_qualified for every non-booking lead currently at stage.
// Returns the number of leads whose flag actually changed.
func (r *Repository) RequalifyStage(ctx context.Context, accountID uuid.UUID, stage domain.StageRef, isQualified bool) (int64, error) {
	source := domain.QualifiedSourceNone
	if isQualified {
		source = domain.QualifiedSourceCRM
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET is_qualified = $4,
			qualified_source = $5,
			qualified_at = CASE WHEN $4 THEN now() ELSE NULL END,
			updated_at = now()
		WHERE owning_account_id = $1
			AND current_pipeline_id = $2
			AND current_status_id = $3
			AND qualified_source <> 'booking'
			AND is_qualified <> $4
	`, accountID, stage.PipelineID, stage.StatusID, isQualified, string(source))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) AddSaleAmount(ctx context.Context, leadID uuid.UUID, amount float64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET cumulative_sale_amount = cumulative_sale_amount + $2, updated_at = now()
		WHERE id = $1
	`, leadID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListStageHistory(ctx context.Context, leadID uuid.UUID) ([]domain.StageRef, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT pipeline_id, status_id
		FROM lead_stage_history
		WHERE lead_id = $1
		ORDER BY first_seen_at ASC
	`, leadID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.StageRef, error) {
		var s domain.StageRef
		err := row.Scan(&s.PipelineID, &s.StatusID)
		return s, err
	})
}

func (r *Repository) RecordStage(ctx context.Context, leadID uuid.UUID, stage domain.StageRef) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO lead_stage_history (lead_id, pipeline_id, status_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (lead_id, pipeline_id, status_id) DO NOTHING
	`, leadID, stage.PipelineID, stage.StatusID)
	if err != nil {
		return fmt.Errorf("record stage %s: %w", stage, err)
	}
	return nil
}

// IsNotFound reports whether err means no lead matched.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
