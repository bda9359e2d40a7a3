// Package service holds the lead write paths: attribution upsert and manual match.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadsync_backend/internal/events"
	"leadsync_backend/internal/leads/domain"
	"leadsync_backend/internal/leads/repository"
	"leadsync_backend/platform/apperr"
	"leadsync_backend/platform/logger"
	"leadsync_backend/platform/metrics"

	"github.com/google/uuid"
)

// maxUpsertAttempts is the initial plan plus one re-plan after a lost conditional write.
const maxUpsertAttempts = 2

// LeadStore is the subset of the lead repository the upsert engine writes through.
type LeadStore interface {
	GetByContact(ctx context.Context, accountID uuid.UUID, contactID string) (repository.Lead, error)
	InsertIfAbsent(ctx context.Context, params repository.InsertLeadParams) (repository.Lead, bool, error)
	UpgradeAttribution(ctx context.Context, leadID uuid.UUID, expected domain.Confidence, attr domain.Attribution, needsManualMatch bool) (bool, error)
	FillAttribution(ctx context.Context, leadID uuid.UUID, attr domain.Attribution) (bool, error)
}

type UpsertInput struct {
	ContactID   string
	AccountID   uuid.UUID
	Attribution domain.Attribution
}

type UpsertResult struct {
	LeadID  uuid.UUID
	Created bool
	Changed bool
	// Previous is the stored confidence before this upsert (none for new leads).
	Previous domain.Confidence
}

// UpsertEngine keeps exactly one lead per (account, contact) and merges attribution
// with conditional writes instead of locks.
type UpsertEngine struct {
	store   LeadStore
	bus     events.Bus
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewUpsertEngine(store LeadStore, bus events.Bus, m *metrics.Metrics, log *logger.Logger) *UpsertEngine {
	return &UpsertEngine{store: store, bus: bus, metrics: m, log: log}
}

// Upsert creates the lead or merges attribution into it. Re-applying the same input is a
// no-op and performs no write.
func (e *UpsertEngine) Upsert(ctx context.Context, in UpsertInput) (UpsertResult, error) {
	if strings.TrimSpace(in.ContactID) == "" || in.AccountID == uuid.Nil {
		return UpsertResult{}, apperr.Validation("contact id and account id are required").WithOp("leads.Upsert")
	}

	start := time.Now()
	result, outcome, err := e.upsert(ctx, in)
	if err != nil {
		e.metrics.ObserveUpsert("failed", time.Since(start))
		return UpsertResult{}, err
	}
	e.metrics.ObserveUpsert(outcome, time.Since(start))
	return result, nil
}

func (e *UpsertEngine) upsert(ctx context.Context, in UpsertInput) (UpsertResult, string, error) {
	for attempt := 1; attempt <= maxUpsertAttempts; attempt++ {
		lead, err := e.store.GetByContact(ctx, in.AccountID, in.ContactID)
		if errors.Is(err, repository.ErrNotFound) {
			created, ok, err := e.store.InsertIfAbsent(ctx, repository.InsertLeadParams{
				AccountID:   in.AccountID,
				ContactID:   in.ContactID,
				Attribution: in.Attribution,
			})
			if err != nil {
				return UpsertResult{}, "", apperr.Internal("insert lead", err).WithOp("leads.Upsert")
			}
			if ok {
				e.publishCreated(ctx, created)
				return UpsertResult{LeadID: created.ID, Created: true, Changed: true}, "created", nil
			}
			e.log.Debug("leads: concurrent insert, re-planning", "accountId", in.AccountID, "attempt", attempt)
			continue
		}
		if err != nil {
			return UpsertResult{}, "", apperr.Internal("load lead", err).WithOp("leads.Upsert")
		}

		plan := domain.PlanAttributionMerge(lead.Attribution(), in.Attribution)
		applied := false
		switch plan.Action {
		case domain.MergeNone:
			return UpsertResult{LeadID: lead.ID, Previous: lead.Confidence}, plan.Action.String(), nil
		case domain.MergeUpgrade:
			applied, err = e.store.UpgradeAttribution(ctx, lead.ID, plan.ExpectedConfidence, plan.Attribution, plan.NeedsManualMatch)
		case domain.MergeFill:
			applied, err = e.store.FillAttribution(ctx, lead.ID, plan.Attribution)
		}
		if err != nil {
			return UpsertResult{}, "", apperr.Internal("apply attribution", err).WithOp("leads.Upsert")
		}
		if applied {
			if plan.Action == domain.MergeUpgrade {
				e.bus.Publish(ctx, events.LeadAttributionChanged{
					BaseEvent:          events.NewBaseEvent(),
					LeadID:             lead.ID,
					AccountID:          lead.AccountID,
					PreviousConfidence: lead.Confidence.String(),
					Confidence:         plan.Attribution.Confidence.String(),
				})
			}
			return UpsertResult{LeadID: lead.ID, Changed: true, Previous: lead.Confidence}, plan.Action.String(), nil
		}
		e.log.Debug("leads: conditional write lost, re-planning", "leadId", lead.ID, "action", plan.Action.String(), "attempt", attempt)
	}

	err := fmt.Errorf("lead for contact changed concurrently %d times", maxUpsertAttempts)
	return UpsertResult{}, "", apperr.Internal("upsert lead", err).WithOp("leads.Upsert")
}

func (e *UpsertEngine) publishCreated(ctx context.Context, lead repository.Lead) {
	e.bus.Publish(ctx, events.LeadCreated{
		BaseEvent:   events.NewBaseEvent(),
		LeadID:      lead.ID,
		AccountID:   lead.AccountID,
		ContactID:   lead.ContactID,
		CreativeID:  lead.CreativeID,
		DirectionID: lead.DirectionID,
		Confidence:  lead.Confidence.String(),
	})
}
