package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"leadsync_backend/platform/apperr"
	"leadsync_backend/platform/httpkit"
	"leadsync_backend/platform/logger"
	"leadsync_backend/platform/metrics"
	"leadsync_backend/platform/sanitize"
	"leadsync_backend/platform/validator"

	"github.com/gin-gonic/gin"
	playground "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	errInvalidRequest  = "invalid request body"
	errValidation      = "validation error"
	errUnknownProvider = "unknown provider"

	maxWebhookBody = 1 << 20
)

// KeyStore manages webhook API keys for the admin endpoints.
type KeyStore interface {
	Create(ctx context.Context, accountID uuid.UUID, name, keyHash, keyPrefix string, providers []string) (APIKey, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]APIKey, error)
	Revoke(ctx context.Context, keyID uuid.UUID, accountID uuid.UUID) error
}

// Handler handles webhook HTTP requests.
type Handler struct {
	adapters   map[string]Adapter
	dispatcher Dispatcher
	keys       KeyStore
	val        *validator.Validator
	metrics    *metrics.Metrics
	log        *logger.Logger
}

func NewHandler(adapters map[string]Adapter, dispatcher Dispatcher, keys KeyStore, val *validator.Validator, m *metrics.Metrics, log *logger.Logger) *Handler {
	if err := val.RegisterValidation("webhook_provider", keyProvider); err != nil {
		log.Error("register webhook_provider validation", "error", err)
	}
	return &Handler{adapters: adapters, dispatcher: dispatcher, keys: keys, val: val, metrics: m, log: log}
}

// AcceptedResponse acknowledges a delivery.
type AcceptedResponse struct {
	Accepted int `json:"accepted"`
}

// ---- Provider webhooks (API-key authenticated) ----

// HandleMessages acknowledges a messaging-provider delivery and dispatches its messages.
// POST /api/v1/webhook/messages/:provider
func (h *Handler) HandleMessages(c *gin.Context) {
	provider := c.Param("provider")
	adapter, ok := h.adapters[provider]
	if !ok {
		httpkit.Error(c, http.StatusNotFound, errUnknownProvider, nil)
		return
	}
	accountID, ok := authorizeProvider(c, provider)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.dropped(provider, "", "unreadable body")
		httpkit.Accepted(c, AcceptedResponse{})
		return
	}

	messages, err := adapter.Parse(body)
	if err != nil {
		h.dropped(provider, "", err.Error())
		httpkit.Accepted(c, AcceptedResponse{})
		return
	}

	accepted := 0
	for _, msg := range messages {
		if err := h.dispatcher.DispatchMessage(c.Request.Context(), MessageJob{AccountID: accountID, Message: msg}); err != nil {
			h.dropped(provider, msg.EventID, "dispatch failed: "+err.Error())
			continue
		}
		h.metrics.IncWebhook(provider, "accepted")
		accepted++
	}
	httpkit.Accepted(c, AcceptedResponse{Accepted: accepted})
}

// HandleBooking acknowledges a booking-system delivery and dispatches it.
// POST /api/v1/webhook/booking
func (h *Handler) HandleBooking(c *gin.Context) {
	accountID, ok := authorizeProvider(c, ProviderBooking)
	if !ok {
		return
	}

	var payload BookingPayload
	dec := json.NewDecoder(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err := dec.Decode(&payload); err != nil {
		h.dropped(ProviderBooking, "", "malformed body")
		httpkit.Accepted(c, AcceptedResponse{})
		return
	}
	if err := h.val.Struct(payload); err != nil {
		h.dropped(ProviderBooking, payload.EventID, "invalid payload: "+err.Error())
		httpkit.Accepted(c, AcceptedResponse{})
		return
	}

	if err := h.dispatcher.DispatchBooking(c.Request.Context(), BookingJob{AccountID: accountID, Payload: payload}); err != nil {
		h.dropped(ProviderBooking, payload.EventID, "dispatch failed: "+err.Error())
		httpkit.Accepted(c, AcceptedResponse{})
		return
	}
	h.metrics.IncWebhook(ProviderBooking, "accepted")
	httpkit.Accepted(c, AcceptedResponse{Accepted: 1})
}

func (h *Handler) dropped(provider, eventID, reason string) {
	h.metrics.IncWebhook(provider, "dropped")
	h.log.WebhookDropped(provider, eventID, reason)
}

// ---- Admin API Key Management (JWT authenticated) ----

type CreateAPIKeyRequest struct {
	Name      string   `json:"name" validate:"required,min=1,max=100"`
	Providers []string `json:"providers" validate:"max=4,dive,webhook_provider"`
}

// keyProvider accepts the provider routes an API key can be scoped to.
func keyProvider(fl playground.FieldLevel) bool {
	switch fl.Field().String() {
	case ProviderCloudAPI, ProviderEvolution, ProviderGeneric, ProviderBooking:
		return true
	}
	return false
}

type APIKeyResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	KeyPrefix string    `json:"keyPrefix"`
	Providers []string  `json:"providers"`
	IsActive  bool      `json:"isActive"`
	CreatedAt string    `json:"createdAt"`
}

// CreateAPIKeyResponse includes the plaintext key (shown only once).
type CreateAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

// HandleCreateAPIKey creates a new webhook API key.
// POST /api/v1/admin/webhook/keys
func (h *Handler) HandleCreateAPIKey(c *gin.Context) {
	var req CreateAPIKeyRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	accountID, ok := getAccountID(c)
	if !ok {
		return
	}

	plaintext, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		httpkit.Error(c, http.StatusInternalServerError, "failed to generate API key", nil)
		return
	}

	providers := req.Providers
	if providers == nil {
		providers = []string{}
	}

	name := sanitize.Text(req.Name)
	if name == "" {
		httpkit.HandleError(c, apperr.Validation(errValidation).WithDetails(map[string]string{"name": "required"}))
		return
	}

	key, err := h.keys.Create(c.Request.Context(), accountID, name, hash, prefix, providers)
	if httpkit.HandleError(c, err) {
		return
	}

	c.JSON(http.StatusCreated, CreateAPIKeyResponse{
		APIKeyResponse: toAPIKeyResponse(key),
		Key:            plaintext,
	})
}

// HandleListAPIKeys lists the account's webhook API keys.
// GET /api/v1/admin/webhook/keys
func (h *Handler) HandleListAPIKeys(c *gin.Context) {
	accountID, ok := getAccountID(c)
	if !ok {
		return
	}

	keys, err := h.keys.ListByAccount(c.Request.Context(), accountID)
	if httpkit.HandleError(c, err) {
		return
	}

	result := make([]APIKeyResponse, len(keys))
	for i, k := range keys {
		result[i] = toAPIKeyResponse(k)
	}
	httpkit.OK(c, result)
}

// HandleRevokeAPIKey deactivates a webhook API key.
// DELETE /api/v1/admin/webhook/keys/:keyId
func (h *Handler) HandleRevokeAPIKey(c *gin.Context) {
	accountID, ok := getAccountID(c)
	if !ok {
		return
	}
	keyID, err := uuid.Parse(c.Param("keyId"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid key ID"))
		return
	}

	if err := h.keys.Revoke(c.Request.Context(), keyID, accountID); err != nil {
		if errors.Is(err, ErrAPIKeyNotFound) {
			httpkit.Error(c, http.StatusNotFound, "API key not found", nil)
			return
		}
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func toAPIKeyResponse(key APIKey) APIKeyResponse {
	providers := key.Providers
	if providers == nil {
		providers = []string{}
	}
	return APIKeyResponse{
		ID:        key.ID,
		Name:      key.Name,
		KeyPrefix: key.KeyPrefix,
		Providers: providers,
		IsActive:  key.IsActive,
		CreatedAt: key.CreatedAt.UTC().Format(time.RFC3339),
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
