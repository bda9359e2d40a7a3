package qualification

import (
	"context"
	"errors"

	"leadsync_backend/internal/directions"
	"leadsync_backend/internal/events"
	"leadsync_backend/internal/leads/domain"
	"leadsync_backend/platform/apperr"

	"github.com/google/uuid"
)

// ListStages returns the account's stage registry.
func (s *Service) ListStages(ctx context.Context, accountID uuid.UUID) ([]RegistryStage, error) {
	stages, err := s.registry.ListStages(ctx, accountID)
	if err != nil {
		return nil, apperr.Internal("list stages", err)
	}
	return stages, nil
}

// SetStageQualification overrides a stage's qualified flag. Leads currently at the stage
// are requalified immediately from local state; a full re-sync is queued so that leads
// whose stage moved since the last pass catch up too.
func (s *Service) SetStageQualification(ctx context.Context, accountID uuid.UUID, stageID uuid.UUID, isQualified bool) (StageQualificationResult, error) {
	stage, changed, err := s.registry.SetStageQualified(ctx, accountID, stageID, isQualified)
	if errors.Is(err, ErrStageNotFound) {
		return StageQualificationResult{}, apperr.NotFound("pipeline stage not found")
	}
	if err != nil {
		return StageQualificationResult{}, apperr.Internal("update stage", err)
	}

	affected, err := s.leads.RequalifyStage(ctx, accountID, stage.Ref(), isQualified)
	if err != nil {
		return StageQualificationResult{}, apperr.Internal("requalify leads at stage", err)
	}

	result := StageQualificationResult{Stage: stage, LeadsAffected: affected}
	if changed || affected > 0 {
		s.bus.Publish(ctx, events.StageQualificationChanged{
			BaseEvent:     events.NewBaseEvent(),
			AccountID:     accountID,
			PipelineID:    stage.PipelineID,
			StatusID:      stage.StatusID,
			IsQualified:   isQualified,
			LeadsAffected: affected,
		})
	}

	if changed && s.resync != nil {
		if err := s.resync.EnqueueAccountResync(ctx, accountID); err != nil {
			s.log.Error("failed to enqueue account resync", "accountId", accountID, "error", err)
			s.metrics.IncBackgroundError("enqueue_resync")
		} else {
			result.ResyncQueued = true
		}
	}

	s.log.Info("stage qualification updated", "accountId", accountID, "stage", stage.Ref().String(),
		"isQualified", isQualified, "leadsAffected", affected)
	return result, nil
}

// ConfigureKeyStages replaces a direction's key stages. Every stage must already be in
// the registry.
func (s *Service) ConfigureKeyStages(ctx context.Context, accountID uuid.UUID, directionID uuid.UUID, stages []domain.StageRef) (domain.KeyStages, error) {
	registry, err := s.registry.ListStages(ctx, accountID)
	if err != nil {
		return domain.KeyStages{}, apperr.Internal("load stage registry", err)
	}
	known := make(map[domain.StageRef]struct{}, len(registry))
	for _, st := range registry {
		known[st.Ref()] = struct{}{}
	}

	keyStages, err := domain.ValidateKeyStages(stages, func(ref domain.StageRef) bool {
		_, ok := known[ref]
		return ok
	})
	if err != nil {
		return domain.KeyStages{}, apperr.Validation(err.Error())
	}

	err = s.directions.UpdateKeyStages(ctx, accountID, directionID, keyStages)
	if errors.Is(err, directions.ErrNotFound) {
		return domain.KeyStages{}, apperr.NotFound("direction not found")
	}
	if err != nil {
		return domain.KeyStages{}, apperr.Internal("update key stages", err)
	}
	return keyStages, nil
}
