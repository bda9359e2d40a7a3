package service

import (
	"context"
	"testing"

	"leadsync_backend/internal/events"
	"leadsync_backend/internal/leads/domain"
	"leadsync_backend/internal/leads/repository"
	"leadsync_backend/platform/apperr"

	"github.com/google/uuid"
)

type fakeDirections struct {
	known map[uuid.UUID]bool
}

func (f fakeDirections) Exists(_ context.Context, _ uuid.UUID, id uuid.UUID) (bool, error) {
	return f.known[id], nil
}

type fakeManualStore struct {
	lead repository.Lead
}

func (f *fakeManualStore) GetByID(_ context.Context, id uuid.UUID, accountID uuid.UUID) (repository.Lead, error) {
	if id != f.lead.ID || accountID != f.lead.AccountID {
		return repository.Lead{}, repository.ErrNotFound
	}
	return f.lead, nil
}

func (f *fakeManualStore) ForceAttribution(_ context.Context, leadID uuid.UUID, accountID uuid.UUID, attr domain.Attribution) (repository.Lead, error) {
	if leadID != f.lead.ID || accountID != f.lead.AccountID {
		return repository.Lead{}, repository.ErrNotFound
	}
	f.lead.CreativeID = attr.CreativeID
	f.lead.DirectionID = attr.DirectionID
	f.lead.Confidence = attr.Confidence
	f.lead.NeedsManualMatch = false
	return f.lead, nil
}

func TestManualMatchSetsExactAndClearsFlag(t *testing.T) {
	direction := uuid.New()
	store := &fakeManualStore{lead: repository.Lead{
		ID:               uuid.New(),
		AccountID:        uuid.New(),
		Confidence:       domain.ConfidenceLow,
		NeedsManualMatch: true,
	}}
	bus := &recordingBus{}
	matcher := NewManualMatcher(store, fakeDirections{known: map[uuid.UUID]bool{direction: true}}, bus)

	lead, err := matcher.Match(context.Background(), ManualMatchInput{
		AccountID:   store.lead.AccountID,
		LeadID:      store.lead.ID,
		DirectionID: direction,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lead.Confidence != domain.ConfidenceExact || lead.NeedsManualMatch {
		t.Fatalf("expected exact attribution without manual flag, got %+v", lead)
	}
	if *lead.DirectionID != direction {
		t.Fatalf("direction not applied")
	}

	var changed *events.LeadAttributionChanged
	for _, e := range bus.events {
		if ev, ok := e.(events.LeadAttributionChanged); ok {
			changed = &ev
		}
	}
	if changed == nil || !changed.Manual || changed.PreviousConfidence != "low" {
		t.Fatalf("expected manual attribution event, got %+v", changed)
	}
}

func TestManualMatchUnknownDirection(t *testing.T) {
	store := &fakeManualStore{lead: repository.Lead{ID: uuid.New(), AccountID: uuid.New()}}
	matcher := NewManualMatcher(store, fakeDirections{}, &recordingBus{})

	_, err := matcher.Match(context.Background(), ManualMatchInput{
		AccountID:   store.lead.AccountID,
		LeadID:      store.lead.ID,
		DirectionID: uuid.New(),
	})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestManualMatchOtherAccountLead(t *testing.T) {
	direction := uuid.New()
	store := &fakeManualStore{lead: repository.Lead{ID: uuid.New(), AccountID: uuid.New()}}
	matcher := NewManualMatcher(store, fakeDirections{known: map[uuid.UUID]bool{direction: true}}, &recordingBus{})

	_, err := matcher.Match(context.Background(), ManualMatchInput{
		AccountID:   uuid.New(),
		LeadID:      store.lead.ID,
		DirectionID: direction,
	})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for foreign lead, got %v", err)
	}
}
