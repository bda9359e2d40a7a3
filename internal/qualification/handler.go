package qualification

import (
	"context"
	"net/http"
	"time"

	"leadsync_backend/internal/leads/domain"
	"leadsync_backend/platform/apperr"
	"leadsync_backend/platform/httpkit"
	"leadsync_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errInvalidRequest     = "invalid request body"
	errValidation         = "validation error"
	errInvalidStageID     = "invalid stage ID"
	errInvalidDirectionID = "invalid direction ID"
)

// Operations is the service surface used by the admin handler.
type Operations interface {
	SyncPipelineCatalog(ctx context.Context, accountID uuid.UUID) (CatalogSyncResult, error)
	SyncAccountLeads(ctx context.Context, accountID uuid.UUID) (SyncResult, error)
	ListStages(ctx context.Context, accountID uuid.UUID) ([]RegistryStage, error)
	SetStageQualification(ctx context.Context, accountID uuid.UUID, stageID uuid.UUID, isQualified bool) (StageQualificationResult, error)
	ConfigureKeyStages(ctx context.Context, accountID uuid.UUID, directionID uuid.UUID, stages []domain.StageRef) (domain.KeyStages, error)
}

// Handler serves the CRM admin endpoints.
type Handler struct {
	svc Operations
	val *validator.Validator
}

func NewHandler(svc Operations, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

type StageResponse struct {
	ID               uuid.UUID `json:"id"`
	PipelineID       int64     `json:"pipelineId"`
	PipelineName     string    `json:"pipelineName"`
	StatusID         int64     `json:"statusId"`
	StatusName       string    `json:"statusName"`
	Color            string    `json:"color"`
	SortOrder        int       `json:"sortOrder"`
	IsQualifiedStage bool      `json:"isQualifiedStage"`
	UpdatedAt        string    `json:"updatedAt"`
}

type SetStageQualificationRequest struct {
	IsQualified *bool `json:"isQualified" validate:"required"`
}

type SetStageQualificationResponse struct {
	Stage         StageResponse `json:"stage"`
	LeadsAffected int64         `json:"leadsAffected"`
	ResyncQueued  bool          `json:"resyncQueued"`
}

type KeyStagesRequest struct {
	Stages []domain.StageRef `json:"stages" validate:"max=3,dive"`
}

type KeyStagesResponse struct {
	Stages []domain.StageRef `json:"stages"`
}

// HandleSyncPipelines fetches the CRM pipeline catalog into the registry.
// POST /api/v1/admin/crm/pipelines/sync
func (h *Handler) HandleSyncPipelines(c *gin.Context) {
	accountID, ok := getAccountID(c)
	if !ok {
		return
	}
	result, err := h.svc.SyncPipelineCatalog(c.Request.Context(), accountID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// HandleSyncLeads reconciles the account's CRM leads now.
// POST /api/v1/admin/crm/leads/sync
func (h *Handler) HandleSyncLeads(c *gin.Context) {
	accountID, ok := getAccountID(c)
	if !ok {
		return
	}
	result, err := h.svc.SyncAccountLeads(c.Request.Context(), accountID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// HandleListStages lists the stage registry.
// GET /api/v1/admin/crm/stages
func (h *Handler) HandleListStages(c *gin.Context) {
	accountID, ok := getAccountID(c)
	if !ok {
		return
	}
	stages, err := h.svc.ListStages(c.Request.Context(), accountID)
	if httpkit.HandleError(c, err) {
		return
	}
	out := make([]StageResponse, len(stages))
	for i, s := range stages {
		out[i] = toStageResponse(s)
	}
	httpkit.OK(c, out)
}

// HandleSetStageQualification overrides a stage's qualified flag.
// PATCH /api/v1/admin/crm/stages/:stageId
func (h *Handler) HandleSetStageQualification(c *gin.Context) {
	accountID, ok := getAccountID(c)
	if !ok {
		return
	}
	stageID, err := uuid.Parse(c.Param("stageId"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest(errInvalidStageID))
		return
	}
	var req SetStageQualificationRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	result, err := h.svc.SetStageQualification(c.Request.Context(), accountID, stageID, *req.IsQualified)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, SetStageQualificationResponse{
		Stage:         toStageResponse(result.Stage),
		LeadsAffected: result.LeadsAffected,
		ResyncQueued:  result.ResyncQueued,
	})
}

// HandleConfigureKeyStages replaces a direction's key stages.
// PUT /api/v1/admin/directions/:directionId/key-stages
func (h *Handler) HandleConfigureKeyStages(c *gin.Context) {
	accountID, ok := getAccountID(c)
	if !ok {
		return
	}
	directionID, err := uuid.Parse(c.Param("directionId"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest(errInvalidDirectionID))
		return
	}
	var req KeyStagesRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	stages, err := h.svc.ConfigureKeyStages(c.Request.Context(), accountID, directionID, req.Stages)
	if httpkit.HandleError(c, err) {
		return
	}
	out := KeyStagesResponse{Stages: []domain.StageRef{}}
	for _, s := range stages {
		if s != nil {
			out.Stages = append(out.Stages, *s)
		}
	}
	httpkit.OK(c, out)
}

func toStageResponse(s RegistryStage) StageResponse {
	return StageResponse{
		ID:               s.ID,
		PipelineID:       s.PipelineID,
		PipelineName:     s.PipelineName,
		StatusID:         s.StatusID,
		StatusName:       s.StatusName,
		Color:            s.Color,
		SortOrder:        s.SortOrder,
		IsQualifiedStage: s.IsQualifiedStage,
		UpdatedAt:        s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func getAccountID(c *gin.Context) (uuid.UUID, bool) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return uuid.UUID{}, false
	}
	return identity.AccountID(), true
}

func (h *Handler) bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, validator.FieldErrors(err))
		return false
	}
	return true
}
