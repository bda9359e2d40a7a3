package escalation

import (
	"context"
	"errors"
	"net/http"

	"leadsync_backend/platform/apperr"
	"leadsync_backend/platform/httpkit"
	"leadsync_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

// RecipientRepository reads and writes recipients for the admin endpoints.
type RecipientRepository interface {
	RecipientStore
	SaveRecipients(ctx context.Context, rec Recipients) error
}

type Handler struct {
	repo RecipientRepository
	val  *validator.Validator
}

func NewHandler(repo RecipientRepository, val *validator.Validator) *Handler {
	return &Handler{repo: repo, val: val}
}

type RecipientsRequest struct {
	Phone string `json:"phone" validate:"omitempty,max=32"`
	Email string `json:"email" validate:"omitempty,email"`
}

type RecipientsResponse struct {
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// HandleGetRecipients returns where manual-match requests are delivered.
// GET /api/v1/admin/escalation/recipients
func (h *Handler) HandleGetRecipients(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	rec, err := h.repo.GetRecipients(c.Request.Context(), identity.AccountID())
	if errors.Is(err, ErrNoRecipients) {
		httpkit.OK(c, RecipientsResponse{})
		return
	}
	if httpkit.HandleError(c, wrapInternal(err)) {
		return
	}
	httpkit.OK(c, RecipientsResponse{Phone: rec.Phone, Email: rec.Email})
}

// HandlePutRecipients replaces the account's recipients.
// PUT /api/v1/admin/escalation/recipients
func (h *Handler) HandlePutRecipients(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	var req RecipientsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation error", validator.FieldErrors(err))
		return
	}

	rec := Recipients{AccountID: identity.AccountID(), Phone: req.Phone, Email: req.Email}
	if rec.Empty() {
		httpkit.HandleError(c, apperr.Validation("at least one of phone or email is required"))
		return
	}
	if httpkit.HandleError(c, wrapInternal(h.repo.SaveRecipients(c.Request.Context(), rec))) {
		return
	}
	httpkit.OK(c, RecipientsResponse{Phone: rec.Phone, Email: rec.Email})
}

func wrapInternal(err error) error {
	if err == nil {
		return nil
	}
	return apperr.Internal("escalation recipients", err)
}

var _ RecipientRepository = (*Repository)(nil)
