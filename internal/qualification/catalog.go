package qualification

import (
	"context"
	"errors"
	"time"

	"leadsync_backend/internal/crm"
	"leadsync_backend/internal/leads/domain"
	"leadsync_backend/platform/apperr"

	"github.com/google/uuid"
)

// SyncPipelineCatalog mirrors the CRM's pipeline catalog into the registry. The catalog is
// fetched in full before anything is written; a fetch failure leaves the registry as it was.
// Stages removed from the CRM are kept so that history and key stages stay resolvable.
func (s *Service) SyncPipelineCatalog(ctx context.Context, accountID uuid.UUID) (CatalogSyncResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSync("catalog", time.Since(start)) }()

	client, err := s.client(ctx, accountID)
	if errors.Is(err, ErrConnectionNotFound) {
		return CatalogSyncResult{}, apperr.NotFound("no active CRM connection for this account")
	}
	if err != nil {
		return CatalogSyncResult{}, apperr.Internal("load crm connection", err)
	}

	fetched, err := client.ListStages(ctx)
	if err != nil {
		s.log.Error("pipeline catalog fetch failed", "accountId", accountID, "error", err)
		return CatalogSyncResult{}, apperr.Upstream("fetch pipeline catalog", err).WithOp("qualification.SyncPipelineCatalog")
	}

	existing, err := s.registry.ListStages(ctx, accountID)
	if err != nil {
		return CatalogSyncResult{}, apperr.Internal("load stage registry", err)
	}

	inserts, updates, unchanged := diffCatalog(existing, fetched)
	result := CatalogSyncResult{Inserted: len(inserts), Updated: len(updates), Unchanged: unchanged}
	if len(inserts) == 0 && len(updates) == 0 {
		return result, nil
	}

	if err := s.registry.ApplyCatalog(ctx, accountID, inserts, updates); err != nil {
		return CatalogSyncResult{}, apperr.Internal("apply pipeline catalog", err)
	}
	s.log.Info("pipeline catalog synced", "accountId", accountID,
		"inserted", result.Inserted, "updated", result.Updated, "unchanged", result.Unchanged)
	return result, nil
}

// diffCatalog splits the fetched catalog into new stages, stages whose display fields
// changed and a count of untouched ones. New stages are qualified only when they are the
// CRM's won status; existing stages keep their operator-set flag.
func diffCatalog(existing []RegistryStage, fetched []crm.Stage) (inserts, updates []RegistryStage, unchanged int) {
	byRef := make(map[domain.StageRef]RegistryStage, len(existing))
	for _, st := range existing {
		byRef[st.Ref()] = st
	}

	seen := make(map[domain.StageRef]struct{}, len(fetched))
	for _, f := range fetched {
		ref := domain.StageRef{PipelineID: f.PipelineID, StatusID: f.StatusID}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}

		cur, ok := byRef[ref]
		if !ok {
			inserts = append(inserts, RegistryStage{
				PipelineID:       f.PipelineID,
				PipelineName:     f.PipelineName,
				StatusID:         f.StatusID,
				StatusName:       f.StatusName,
				Color:            f.Color,
				SortOrder:        f.SortOrder,
				IsQualifiedStage: f.StatusID == crm.WonStatusID,
			})
			continue
		}

		if cur.PipelineName == f.PipelineName && cur.StatusName == f.StatusName &&
			cur.Color == f.Color && cur.SortOrder == f.SortOrder {
			unchanged++
			continue
		}
		cur.PipelineName = f.PipelineName
		cur.StatusName = f.StatusName
		cur.Color = f.Color
		cur.SortOrder = f.SortOrder
		updates = append(updates, cur)
	}
	return inserts, updates, unchanged
}
