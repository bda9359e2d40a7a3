// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"leadsync_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Lead Domain Events
// =============================================================================

// LeadCreated is published when the first resolvable inbound event creates a lead.
type LeadCreated struct {
	BaseEvent
	LeadID      uuid.UUID  `json:"leadId"`
	AccountID   uuid.UUID  `json:"accountId"`
	ContactID   string     `json:"contactId"`
	CreativeID  *uuid.UUID `json:"creativeId,omitempty"`
	DirectionID *uuid.UUID `json:"directionId,omitempty"`
	Confidence  string     `json:"confidence"`
}

func (e LeadCreated) EventName() string { return "leads.lead.created" }

// LeadAttributionChanged is published when a stronger resolution overwrites attribution.
type LeadAttributionChanged struct {
	BaseEvent
	LeadID             uuid.UUID `json:"leadId"`
	AccountID          uuid.UUID `json:"accountId"`
	PreviousConfidence string    `json:"previousConfidence"`
	Confidence         string    `json:"confidence"`
	Manual             bool      `json:"manual"`
}

func (e LeadAttributionChanged) EventName() string { return "leads.attribution.changed" }

// =============================================================================
// Qualification Domain Events
// =============================================================================

// LeadQualificationChanged is published whenever is_qualified flips for a lead.
type LeadQualificationChanged struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	AccountID   uuid.UUID `json:"accountId"`
	IsQualified bool      `json:"isQualified"`
	Source      string    `json:"source"` // "booking", "crm"
	PipelineID  *int64    `json:"pipelineId,omitempty"`
	StatusID    *int64    `json:"statusId,omitempty"`
}

func (e LeadQualificationChanged) EventName() string { return "qualification.lead.changed" }

// StageQualificationChanged is published when an operator flips a stage's qualified flag.
type StageQualificationChanged struct {
	BaseEvent
	AccountID     uuid.UUID `json:"accountId"`
	PipelineID    int64     `json:"pipelineId"`
	StatusID      int64     `json:"statusId"`
	IsQualified   bool      `json:"isQualified"`
	LeadsAffected int64     `json:"leadsAffected"`
}

func (e StageQualificationChanged) EventName() string { return "qualification.stage.changed" }

// =============================================================================
// Escalation Domain Events
// =============================================================================

// ManualMatchRequired is published when a new lead could not be attributed with
// enough confidence and an operator has to pick the creative by hand.
type ManualMatchRequired struct {
	BaseEvent
	AccountID              uuid.UUID `json:"accountId"`
	LeadID                 uuid.UUID `json:"leadId"`
	ContactID              string    `json:"contactId"`
	CandidateDirectionName string    `json:"candidateDirectionName,omitempty"`
	SimilarityPercent      int       `json:"similarityPercent"`
	Confidence             string    `json:"confidence"`
}

func (e ManualMatchRequired) EventName() string { return "escalation.manual_match.required" }
