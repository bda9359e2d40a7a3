package service

import (
	"context"
	"errors"

	"leadsync_backend/internal/events"
	"leadsync_backend/internal/leads/domain"
	"leadsync_backend/internal/leads/repository"
	"leadsync_backend/platform/apperr"

	"github.com/google/uuid"
)

// DirectionChecker confirms a direction belongs to the account.
type DirectionChecker interface {
	Exists(ctx context.Context, accountID uuid.UUID, directionID uuid.UUID) (bool, error)
}

// ManualMatchStore applies an operator's attribution decision.
type ManualMatchStore interface {
	GetByID(ctx context.Context, id uuid.UUID, accountID uuid.UUID) (repository.Lead, error)
	ForceAttribution(ctx context.Context, leadID uuid.UUID, accountID uuid.UUID, attr domain.Attribution) (repository.Lead, error)
}

// ManualMatcher resolves escalated leads by hand.
type ManualMatcher struct {
	store      ManualMatchStore
	directions DirectionChecker
	bus        events.Bus
}

func NewManualMatcher(store ManualMatchStore, directions DirectionChecker, bus events.Bus) *ManualMatcher {
	return &ManualMatcher{store: store, directions: directions, bus: bus}
}

type ManualMatchInput struct {
	AccountID   uuid.UUID
	LeadID      uuid.UUID
	DirectionID uuid.UUID
	CreativeID  *uuid.UUID
}

// Match assigns the chosen direction (and optionally creative) with exact confidence and
// clears needs_manual_match. An operator decision is authoritative and may replace any
// automatic attribution.
func (m *ManualMatcher) Match(ctx context.Context, in ManualMatchInput) (repository.Lead, error) {
	ok, err := m.directions.Exists(ctx, in.AccountID, in.DirectionID)
	if err != nil {
		return repository.Lead{}, apperr.Internal("check direction", err)
	}
	if !ok {
		return repository.Lead{}, apperr.NotFound("direction not found")
	}

	existing, err := m.store.GetByID(ctx, in.LeadID, in.AccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Lead{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return repository.Lead{}, apperr.Internal("load lead", err)
	}

	directionID := in.DirectionID
	lead, err := m.store.ForceAttribution(ctx, in.LeadID, in.AccountID, domain.Attribution{
		CreativeID:  in.CreativeID,
		DirectionID: &directionID,
		Confidence:  domain.ConfidenceExact,
	})
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Lead{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return repository.Lead{}, apperr.Internal("apply manual match", err)
	}

	m.bus.Publish(ctx, events.LeadAttributionChanged{
		BaseEvent:          events.NewBaseEvent(),
		LeadID:             lead.ID,
		AccountID:          lead.AccountID,
		PreviousConfidence: existing.Confidence.String(),
		Confidence:         lead.Confidence.String(),
		Manual:             true,
	})
	return lead, nil
}
