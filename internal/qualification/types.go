// Package qualification keeps lead qualification in step with the CRM pipeline and the
// booking system: pipeline catalog sync, stage overrides, per-lead reconciliation and
// booking/transaction ingestion.
package qualification

import (
	"errors"
	"time"

	"leadsync_backend/internal/leads/domain"

	"github.com/google/uuid"
)

var (
	ErrStageNotFound      = errors.New("pipeline stage not found")
	ErrConnectionNotFound = errors.New("crm connection not found")
	ErrRecordNotFound     = errors.New("booking record not found")
)

// RegistryStage is one row of the account's pipeline stage registry.
type RegistryStage struct {
	ID               uuid.UUID
	AccountID        uuid.UUID
	PipelineID       int64
	PipelineName     string
	StatusID         int64
	StatusName       string
	Color            string
	SortOrder        int
	IsQualifiedStage bool
	UpdatedAt        time.Time
}

func (s RegistryStage) Ref() domain.StageRef {
	return domain.StageRef{PipelineID: s.PipelineID, StatusID: s.StatusID}
}

type CatalogSyncResult struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

type SyncResult struct {
	Total      int `json:"total"`
	Updated    int `json:"updated"`
	Unmatched  int `json:"unmatched"`
	// Superseded counts deals skipped because a newer deal of the same lead was reconciled.
	Superseded int `json:"superseded"`
	Errors     int `json:"errors"`
}

type StageQualificationResult struct {
	Stage         RegistryStage
	LeadsAffected int64
	ResyncQueued  bool
}

// BookingEventKind distinguishes the two booking webhook payloads.
type BookingEventKind string

const (
	BookingRecord      BookingEventKind = "record"
	BookingTransaction BookingEventKind = "transaction"
)

// BookingEvent is a normalized booking-system notification.
type BookingEvent struct {
	Kind          BookingEventKind `json:"kind"`
	RecordID      string           `json:"recordId"`
	ClientPhone   string           `json:"clientPhone,omitempty"`
	Cancelled     bool             `json:"cancelled,omitempty"`
	TransactionID string           `json:"transactionId,omitempty"`
	Amount        float64          `json:"amount,omitempty"`
}

// BookingRecordRow is a stored booking record.
type BookingRecordRow struct {
	AccountID   uuid.UUID
	RecordID    string
	LeadID      *uuid.UUID
	ClientPhone string
	Cancelled   bool
}

type BookingResult struct {
	LeadID    *uuid.UUID
	Matched   bool
	Qualified bool
	Duplicate bool
}
