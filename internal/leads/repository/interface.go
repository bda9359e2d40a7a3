package repository

import (
	"context"

	"leadsync_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// =====================================
// Segregated Interfaces (Interface Segregation Principle)
// =====================================

// LeadReader provides read-only access to lead data.
type LeadReader interface {
	GetByID(ctx context.Context, id uuid.UUID, accountID uuid.UUID) (Lead, error)
	GetByContact(ctx context.Context, accountID uuid.UUID, contactID string) (Lead, error)
}

// AttributionWriter applies attribution plans with conditional writes.
type AttributionWriter interface {
	InsertIfAbsent(ctx context.Context, params InsertLeadParams) (Lead, bool, error)
	UpgradeAttribution(ctx context.Context, leadID uuid.UUID, expected domain.Confidence, attr domain.Attribution, needsManualMatch bool) (bool, error)
	FillAttribution(ctx context.Context, leadID uuid.UUID, attr domain.Attribution) (bool, error)
	ForceAttribution(ctx context.Context, leadID uuid.UUID, accountID uuid.UUID, attr domain.Attribution) (Lead, error)
}

// QualificationStore reads and writes the qualification slice of leads.
type QualificationStore interface {
	LeadReader
	FindByCRMLeadID(ctx context.Context, accountID uuid.UUID, crmLeadID int64) (Lead, error)
	FindByContactSuffix(ctx context.Context, accountID uuid.UUID, contactID string) (Lead, error)
	ApplyCRMState(ctx context.Context, leadID uuid.UUID, state domain.QualificationState, plannedOnBooking bool) (bool, error)
	ApplyBookingQualification(ctx context.Context, leadID uuid.UUID, recordID string) (bool, error)
	RequalifyStage(ctx context.Context, accountID uuid.UUID, stage domain.StageRef, isQualified bool) (int64, error)
	AddSaleAmount(ctx context.Context, leadID uuid.UUID, amount float64) error
}

// StageHistoryStore records every CRM stage a lead was seen at.
type StageHistoryStore interface {
	ListStageHistory(ctx context.Context, leadID uuid.UUID) ([]domain.StageRef, error)
	RecordStage(ctx context.Context, leadID uuid.UUID, stage domain.StageRef) error
}

// LeadRepository is the full lead store.
type LeadRepository interface {
	LeadReader
	AttributionWriter
	QualificationStore
	StageHistoryStore
}

var _ LeadRepository = (*Repository)(nil)
