package webhook

import (
	apphttp "leadsync_backend/internal/http"
	"leadsync_backend/platform/logger"
	"leadsync_backend/platform/metrics"
	"leadsync_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the webhook bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	repo    *Repository
}

// NewModule creates the webhook module. dispatcher receives every acknowledged delivery.
func NewModule(pool *pgxpool.Pool, dispatcher Dispatcher, val *validator.Validator, m *metrics.Metrics, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	return &Module{
		handler: NewHandler(DefaultAdapters(), dispatcher, repo, val, m, log),
		repo:    repo,
	}
}

func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts webhook routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Provider webhooks (API key auth, no JWT)
	webhookGroup := ctx.V1.Group("/webhook")
	if ctx.WebhookRateLimiter != nil {
		webhookGroup.Use(ctx.WebhookRateLimiter.RateLimit())
	}
	webhookGroup.Use(APIKeyAuthMiddleware(m.repo))
	webhookGroup.POST("/messages/:provider", m.handler.HandleMessages)
	webhookGroup.POST("/booking", m.handler.HandleBooking)

	// Admin API key management (JWT auth + admin role)
	adminGroup := ctx.Admin.Group("/webhook/keys")
	adminGroup.POST("", m.handler.HandleCreateAPIKey)
	adminGroup.GET("", m.handler.HandleListAPIKeys)
	adminGroup.DELETE("/:keyId", m.handler.HandleRevokeAPIKey)
}

var _ apphttp.Module = (*Module)(nil)
