package qualification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"leadsync_backend/internal/crm"
	"leadsync_backend/internal/directions"
	"leadsync_backend/internal/events"
	"leadsync_backend/internal/leads/domain"
	"leadsync_backend/internal/leads/repository"
	"leadsync_backend/platform/apperr"
	"leadsync_backend/platform/phone"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const maxReconcileAttempts = 2

// ReconcileLead applies a CRM snapshot to a lead. Returns whether the lead row changed.
func (s *Service) ReconcileLead(ctx context.Context, lead repository.Lead, snap crm.LeadSnapshot) (bool, error) {
	stage := domain.StageRef{PipelineID: snap.PipelineID, StatusID: snap.StatusID}

	stageQualified := false
	order := make(map[domain.StageRef]int)
	registered, err := s.registry.FindStage(ctx, lead.AccountID, stage.PipelineID, stage.StatusID)
	switch {
	case err == nil:
		stageQualified = registered.IsQualifiedStage
		order[stage] = registered.SortOrder
	case errors.Is(err, ErrStageNotFound):
		s.log.Debug("crm stage not in registry, treating as unqualified", "accountId", lead.AccountID, "stage", stage.String())
	default:
		return false, fmt.Errorf("find stage: %w", err)
	}

	var keyStages domain.KeyStages
	if lead.DirectionID != nil {
		keyStages, err = s.directions.GetKeyStages(ctx, lead.AccountID, *lead.DirectionID)
		if err != nil && !errors.Is(err, directions.ErrNotFound) {
			return false, fmt.Errorf("load key stages: %w", err)
		}
		if err := s.loadKeyStageOrder(ctx, lead.AccountID, stage, keyStages, order); err != nil {
			return false, err
		}
	}

	history, err := s.leads.ListStageHistory(ctx, lead.ID)
	if err != nil {
		return false, fmt.Errorf("load stage history: %w", err)
	}

	for attempt := 1; attempt <= maxReconcileAttempts; attempt++ {
		plan := domain.PlanCRMReconcile(domain.CRMReconcileInput{
			Current:        lead.Qualification(),
			CRMLeadID:      snap.ID,
			Stage:          stage,
			StageQualified: stageQualified,
			StageLost:      snap.StatusID == crm.LostStatusID,
			StageOrder:     order,
			KeyStages:      keyStages,
			History:        history,
		})

		if plan.RecordStage {
			if err := s.leads.RecordStage(ctx, lead.ID, stage); err != nil {
				return false, err
			}
			history = append(history, stage)
		}
		if !plan.Changed {
			return false, nil
		}

		applied, err := s.leads.ApplyCRMState(ctx, lead.ID, plan.Next, lead.QualifiedSource == domain.QualifiedSourceBooking)
		if err != nil {
			return false, fmt.Errorf("apply crm state: %w", err)
		}
		if applied {
			if plan.QualificationChanged {
				s.publishQualification(ctx, lead, plan.Next, string(domain.QualifiedSourceCRM))
			}
			return true, nil
		}

		// A booking qualified the lead after it was read.
		lead, err = s.leads.GetByID(ctx, lead.ID, lead.AccountID)
		if err != nil {
			return false, fmt.Errorf("reload lead: %w", err)
		}
	}
	return false, apperr.Conflict(fmt.Sprintf("lead %s changed concurrently during reconcile", lead.ID)).WithOp("qualification.ReconcileLead")
}

// loadKeyStageOrder adds the registry sort order of every key stage in the observed
// stage's pipeline to order.
func (s *Service) loadKeyStageOrder(ctx context.Context, accountID uuid.UUID, stage domain.StageRef, keyStages domain.KeyStages, order map[domain.StageRef]int) error {
	if _, ok := order[stage]; !ok {
		return nil
	}
	for _, ks := range keyStages {
		if ks == nil || ks.PipelineID != stage.PipelineID {
			continue
		}
		registered, err := s.registry.FindStage(ctx, accountID, ks.PipelineID, ks.StatusID)
		if errors.Is(err, ErrStageNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("find key stage: %w", err)
		}
		order[*ks] = registered.SortOrder
	}
	return nil
}

// leadDeals is every CRM deal of one sync pass that resolved to the same local lead.
type leadDeals struct {
	lead    repository.Lead
	current crm.LeadSnapshot
	older   []crm.LeadSnapshot
}

// SyncAccountLeads reconciles every CRM lead of the account (up to the configured limit)
// with its local lead. When several deals resolve to one lead only the most recently
// updated deal drives its state; the others only add their stages to the lead's stage
// history. Per-lead failures are counted and never abort the batch.
func (s *Service) SyncAccountLeads(ctx context.Context, accountID uuid.UUID) (SyncResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSync("leads", time.Since(start)) }()

	client, err := s.client(ctx, accountID)
	if errors.Is(err, ErrConnectionNotFound) {
		return SyncResult{}, apperr.NotFound("no active CRM connection for this account")
	}
	if err != nil {
		return SyncResult{}, apperr.Internal("load crm connection", err)
	}

	snapshots, err := client.ListLeads(ctx, s.cfg.GetCRMSyncMaxLeads())
	if err != nil {
		s.log.Error("crm lead fetch failed", "accountId", accountID, "error", err)
		return SyncResult{}, apperr.Upstream("fetch crm leads", err).WithOp("qualification.SyncAccountLeads")
	}

	result := SyncResult{Total: len(snapshots)}
	var (
		order  []uuid.UUID
		groups = make(map[uuid.UUID]*leadDeals)
	)
	for _, snap := range snapshots {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		lead, err := s.matchLead(ctx, accountID, snap)
		if errors.Is(err, repository.ErrNotFound) {
			result.Unmatched++
			continue
		}
		if err != nil {
			result.Errors++
			s.log.Error("crm lead match failed", "accountId", accountID, "crmLeadId", snap.ID, "error", err)
			continue
		}

		group, ok := groups[lead.ID]
		if !ok {
			groups[lead.ID] = &leadDeals{lead: lead, current: snap}
			order = append(order, lead.ID)
			continue
		}
		result.Superseded++
		if snap.UpdatedAt.After(group.current.UpdatedAt) {
			group.older = append(group.older, group.current)
			group.current = snap
		} else {
			group.older = append(group.older, snap)
		}
	}

	for _, leadID := range order {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		group := groups[leadID]

		if err := s.recordOlderDeals(ctx, group); err != nil {
			result.Errors++
			s.log.DatabaseError("qualification.recordOlderDeals", err, "accountId", accountID, "leadId", leadID)
			continue
		}

		changed, err := s.ReconcileLead(ctx, group.lead, group.current)
		if err != nil {
			result.Errors++
			s.log.Error("crm lead reconcile failed", "accountId", accountID, "crmLeadId", group.current.ID, "leadId", leadID, "error", err)
			continue
		}
		if changed {
			result.Updated++
		}
	}

	s.metrics.AddSyncLeads(result.Updated, result.Total-result.Updated-result.Errors, result.Errors)
	s.log.SyncSummary("crm_leads", accountID.String(), result.Total, result.Updated, result.Errors)
	return result, nil
}

// recordOlderDeals stores the stages of a lead's superseded deals so they count towards
// its key stages.
func (s *Service) recordOlderDeals(ctx context.Context, group *leadDeals) error {
	for _, snap := range group.older {
		stage := domain.StageRef{PipelineID: snap.PipelineID, StatusID: snap.StatusID}
		if err := s.leads.RecordStage(ctx, group.lead.ID, stage); err != nil {
			return err
		}
	}
	return nil
}

// matchLead finds the local lead for a CRM lead: by crm_lead_id, then by each contact
// phone exactly, then suffix-tolerantly.
func (s *Service) matchLead(ctx context.Context, accountID uuid.UUID, snap crm.LeadSnapshot) (repository.Lead, error) {
	lead, err := s.leads.FindByCRMLeadID(ctx, accountID, snap.ID)
	if !errors.Is(err, repository.ErrNotFound) {
		return lead, err
	}

	for _, raw := range snap.Phones {
		contactID, ok := phone.Canonical(raw, "")
		if !ok {
			continue
		}
		lead, err := s.findByContact(ctx, accountID, contactID)
		if !errors.Is(err, repository.ErrNotFound) {
			return lead, err
		}
	}
	return repository.Lead{}, repository.ErrNotFound
}

func (s *Service) findByContact(ctx context.Context, accountID uuid.UUID, contactID string) (repository.Lead, error) {
	lead, err := s.leads.GetByContact(ctx, accountID, contactID)
	if !errors.Is(err, repository.ErrNotFound) {
		return lead, err
	}
	return s.leads.FindByContactSuffix(ctx, accountID, contactID)
}

// SyncAllAccounts runs SyncAccountLeads for every active CRM connection, in parallel
// across accounts and sequentially within each. One account's failure does not stop the
// others; all failures are returned joined.
func (s *Service) SyncAllAccounts(ctx context.Context) error {
	conns, err := s.connections.ListActiveConnections(ctx)
	if err != nil {
		return fmt.Errorf("list crm connections: %w", err)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	limit := s.cfg.GetCRMSyncAccountParallelism()
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, conn := range conns {
		g.Go(func() error {
			if _, err := s.SyncAccountLeads(ctx, conn.AccountID); err != nil {
				s.metrics.IncBackgroundError("crm_sync")
				mu.Lock()
				errs = append(errs, fmt.Errorf("account %s: %w", conn.AccountID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (s *Service) publishQualification(ctx context.Context, lead repository.Lead, next domain.QualificationState, source string) {
	s.bus.Publish(ctx, events.LeadQualificationChanged{
		BaseEvent:   events.NewBaseEvent(),
		LeadID:      lead.ID,
		AccountID:   lead.AccountID,
		IsQualified: next.IsQualified,
		Source:      source,
		PipelineID:  next.PipelineID,
		StatusID:    next.StatusID,
	})
}
