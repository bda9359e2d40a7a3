// Package handler exposes the operator-facing lead endpoints.
package handler

import (
	"context"
	"net/http"

	"leadsync_backend/internal/leads/repository"
	"leadsync_backend/internal/leads/service"
	"leadsync_backend/platform/apperr"
	"leadsync_backend/platform/httpkit"
	"leadsync_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"
	errInvalidLeadID  = "invalid lead ID"
)

// Matcher applies manual attribution decisions.
type Matcher interface {
	Match(ctx context.Context, in service.ManualMatchInput) (repository.Lead, error)
}

type Handler struct {
	matcher Matcher
	val     *validator.Validator
}

func New(matcher Matcher, val *validator.Validator) *Handler {
	return &Handler{matcher: matcher, val: val}
}

type ManualMatchRequest struct {
	DirectionID uuid.UUID  `json:"directionId" validate:"required"`
	CreativeID  *uuid.UUID `json:"creativeId"`
}

type LeadResponse struct {
	ID                   uuid.UUID  `json:"id"`
	ContactID            string     `json:"contactId"`
	CreativeID           *uuid.UUID `json:"creativeId,omitempty"`
	DirectionID          *uuid.UUID `json:"directionId,omitempty"`
	ChannelID            *uuid.UUID `json:"channelId,omitempty"`
	Confidence           string     `json:"confidence"`
	NeedsManualMatch     bool       `json:"needsManualMatch"`
	IsQualified          bool       `json:"isQualified"`
	QualifiedSource      string     `json:"qualifiedSource"`
	ReachedKeyStages     []bool     `json:"reachedKeyStages"`
	CumulativeSaleAmount float64    `json:"cumulativeSaleAmount"`
}

// HandleManualMatch assigns a direction chosen by an operator to an escalated lead.
// POST /api/v1/admin/leads/:leadId/manual-match
func (h *Handler) HandleManualMatch(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	leadID, err := uuid.Parse(c.Param("leadId"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest(errInvalidLeadID))
		return
	}

	var req ManualMatchRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	lead, err := h.matcher.Match(c.Request.Context(), service.ManualMatchInput{
		AccountID:   identity.AccountID(),
		LeadID:      leadID,
		DirectionID: req.DirectionID,
		CreativeID:  req.CreativeID,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, toLeadResponse(lead))
}

func toLeadResponse(lead repository.Lead) LeadResponse {
	return LeadResponse{
		ID:                   lead.ID,
		ContactID:            lead.ContactID,
		CreativeID:           lead.CreativeID,
		DirectionID:          lead.DirectionID,
		ChannelID:            lead.ChannelID,
		Confidence:           lead.Confidence.String(),
		NeedsManualMatch:     lead.NeedsManualMatch,
		IsQualified:          lead.IsQualified,
		QualifiedSource:      string(lead.QualifiedSource),
		ReachedKeyStages:     lead.ReachedKeyStages[:],
		CumulativeSaleAmount: lead.CumulativeSaleAmount,
	}
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
