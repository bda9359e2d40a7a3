package qualification

import (
	"context"
	"errors"
	"fmt"

	"leadsync_backend/internal/crm"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists the stage registry, CRM connections and booking data.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const stageColumns = `
	id, owning_account_id, pipeline_id, pipeline_name, status_id, status_name,
	color, sort_order, is_qualified_stage, updated_at`

func scanStage(row pgx.Row) (RegistryStage, error) {
	var s RegistryStage
	err := row.Scan(&s.ID, &s.AccountID, &s.PipelineID, &s.PipelineName, &s.StatusID, &s.StatusName,
		&s.Color, &s.SortOrder, &s.IsQualifiedStage, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RegistryStage{}, ErrStageNotFound
	}
	return s, err
}

func (r *Repository) ListStages(ctx context.Context, accountID uuid.UUID) ([]RegistryStage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+stageColumns+`
		FROM pipeline_stages
		WHERE owning_account_id = $1
		ORDER BY pipeline_id, sort_order, status_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (RegistryStage, error) {
		return scanStage(row)
	})
}

func (r *Repository) GetStage(ctx context.Context, accountID uuid.UUID, stageID uuid.UUID) (RegistryStage, error) {
	return scanStage(r.pool.QueryRow(ctx, `
		SELECT `+stageColumns+`
		FROM pipeline_stages
		WHERE id = $1 AND owning_account_id = $2
	`, stageID, accountID))
}

func (r *Repository) FindStage(ctx context.Context, accountID uuid.UUID, pipelineID, statusID int64) (RegistryStage, error) {
	return scanStage(r.pool.QueryRow(ctx, `
		SELECT `+stageColumns+`
		FROM pipeline_stages
		WHERE owning_account_id = $1 AND pipeline_id = $2 AND status_id = $3
	`, accountID, pipelineID, statusID))
}

// ApplyCatalog writes a catalog diff in one transaction. Updates never touch
// is_qualified_stage.
func (r *Repository) ApplyCatalog(ctx context.Context, accountID uuid.UUID, inserts, updates []RegistryStage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin catalog tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	batch := &pgx.Batch{}
	for _, s := range inserts {
		batch.Queue(`
			INSERT INTO pipeline_stages
				(owning_account_id, pipeline_id, pipeline_name, status_id, status_name, color, sort_order, is_qualified_stage)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (owning_account_id, pipeline_id, status_id) DO NOTHING
		`, accountID, s.PipelineID, s.PipelineName, s.StatusID, s.StatusName, s.Color, s.SortOrder, s.IsQualifiedStage)
	}
	for _, s := range updates {
		batch.Queue(`
			UPDATE pipeline_stages
			SET pipeline_name = $3, status_name = $4, color = $5, sort_order = $6, updated_at = now()
			WHERE id = $1 AND owning_account_id = $2
		`, s.ID, accountID, s.PipelineName, s.StatusName, s.Color, s.SortOrder)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("apply catalog: %w", err)
	}
	return tx.Commit(ctx)
}

// SetStageQualified updates the flag and reports whether it changed.
func (r *Repository) SetStageQualified(ctx context.Context, accountID uuid.UUID, stageID uuid.UUID, isQualified bool) (RegistryStage, bool, error) {
	var previous bool
	err := r.pool.QueryRow(ctx, `
		SELECT is_qualified_stage FROM pipeline_stages WHERE id = $1 AND owning_account_id = $2
	`, stageID, accountID).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return RegistryStage{}, false, ErrStageNotFound
	}
	if err != nil {
		return RegistryStage{}, false, fmt.Errorf("get stage: %w", err)
	}

	stage, err := scanStage(r.pool.QueryRow(ctx, `
		UPDATE pipeline_stages
		SET is_qualified_stage = $3,
			updated_at = CASE WHEN is_qualified_stage = $3 THEN updated_at ELSE now() END
		WHERE id = $1 AND owning_account_id = $2
		RETURNING `+stageColumns, stageID, accountID, isQualified))
	if err != nil {
		return RegistryStage{}, false, err
	}
	return stage, previous != isQualified, nil
}

func (r *Repository) GetConnection(ctx context.Context, accountID uuid.UUID) (crm.Connection, error) {
	var conn crm.Connection
	err := r.pool.QueryRow(ctx, `
		SELECT owning_account_id, base_url, access_token
		FROM crm_connections
		WHERE owning_account_id = $1 AND is_active
	`, accountID).Scan(&conn.AccountID, &conn.BaseURL, &conn.AccessToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return crm.Connection{}, ErrConnectionNotFound
	}
	if err != nil {
		return crm.Connection{}, fmt.Errorf("get crm connection: %w", err)
	}
	return conn, nil
}

func (r *Repository) ListActiveConnections(ctx context.Context) ([]crm.Connection, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT owning_account_id, base_url, access_token
		FROM crm_connections
		WHERE is_active
		ORDER BY owning_account_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list crm connections: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (crm.Connection, error) {
		var c crm.Connection
		err := row.Scan(&c.AccountID, &c.BaseURL, &c.AccessToken)
		return c, err
	})
}

// UpsertRecord stores the latest state of a booking record and returns it with its lead link.
func (r *Repository) UpsertRecord(ctx context.Context, rec BookingRecordRow) (BookingRecordRow, error) {
	var out BookingRecordRow
	err := r.pool.QueryRow(ctx, `
		INSERT INTO booking_records (owning_account_id, record_id, client_phone, cancelled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owning_account_id, record_id) DO UPDATE
		SET client_phone = CASE WHEN EXCLUDED.client_phone = '' THEN booking_records.client_phone ELSE EXCLUDED.client_phone END,
			cancelled = EXCLUDED.cancelled,
			updated_at = now()
		RETURNING owning_account_id, record_id, lead_id, client_phone, cancelled
	`, rec.AccountID, rec.RecordID, rec.ClientPhone, rec.Cancelled).Scan(
		&out.AccountID, &out.RecordID, &out.LeadID, &out.ClientPhone, &out.Cancelled)
	if err != nil {
		return BookingRecordRow{}, fmt.Errorf("upsert booking record: %w", err)
	}
	return out, nil
}

func (r *Repository) GetRecord(ctx context.Context, accountID uuid.UUID, recordID string) (BookingRecordRow, error) {
	var out BookingRecordRow
	err := r.pool.QueryRow(ctx, `
		SELECT owning_account_id, record_id, lead_id, client_phone, cancelled
		FROM booking_records
		WHERE owning_account_id = $1 AND record_id = $2
	`, accountID, recordID).Scan(&out.AccountID, &out.RecordID, &out.LeadID, &out.ClientPhone, &out.Cancelled)
	if errors.Is(err, pgx.ErrNoRows) {
		return BookingRecordRow{}, ErrRecordNotFound
	}
	if err != nil {
		return BookingRecordRow{}, fmt.Errorf("get booking record: %w", err)
	}
	return out, nil
}

// LinkRecordLead sets the record's lead once. Returns false when it was already linked.
func (r *Repository) LinkRecordLead(ctx context.Context, accountID uuid.UUID, recordID string, leadID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE booking_records
		SET lead_id = $3, updated_at = now()
		WHERE owning_account_id = $1 AND record_id = $2 AND lead_id IS NULL
	`, accountID, recordID, leadID)
	if err != nil {
		return false, fmt.Errorf("link booking record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertTransaction stores a transaction once. Returns false for a replay.
func (r *Repository) InsertTransaction(ctx context.Context, accountID uuid.UUID, transactionID, recordID string, amount float64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO booking_transactions (owning_account_id, transaction_id, record_id, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owning_account_id, transaction_id) DO NOTHING
	`, accountID, transactionID, recordID, amount)
	if err != nil {
		return false, fmt.Errorf("insert booking transaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimTransactions marks the record's unapplied transactions as applied and returns their
// total. With a non-empty transactionID only that transaction is claimed. Each transaction
// is claimed at most once.
func (r *Repository) ClaimTransactions(ctx context.Context, accountID uuid.UUID, recordID, transactionID string) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx, `
		WITH claimed AS (
			UPDATE booking_transactions
			SET applied = true
			WHERE owning_account_id = $1 AND record_id = $2
				AND ($3 = '' OR transaction_id = $3)
				AND NOT applied
			RETURNING amount
		)
		SELECT COALESCE(SUM(amount), 0)::float8 FROM claimed
	`, accountID, recordID, transactionID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("claim booking transactions: %w", err)
	}
	return total, nil
}
