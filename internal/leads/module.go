// Package leads provides the lead bounded context module: the upsert engine used by
// inbound processing and the operator manual-match endpoint.
package leads

import (
	"leadsync_backend/internal/events"
	apphttp "leadsync_backend/internal/http"
	"leadsync_backend/internal/leads/handler"
	"leadsync_backend/internal/leads/repository"
	"leadsync_backend/internal/leads/service"
	"leadsync_backend/platform/logger"
	"leadsync_backend/platform/metrics"
	"leadsync_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	repo    *repository.Repository
	upsert  *service.UpsertEngine
	handler *handler.Handler
}

// NewModule creates the leads module with all its dependencies.
func NewModule(pool *pgxpool.Pool, directions service.DirectionChecker, eventBus events.Bus, m *metrics.Metrics, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	matcher := service.NewManualMatcher(repo, directions, eventBus)
	return &Module{
		repo:    repo,
		upsert:  service.NewUpsertEngine(repo, eventBus, m, log),
		handler: handler.New(matcher, val),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Repository exposes the lead store for the qualification module.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

// UpsertEngine exposes the upsert engine for inbound processing.
func (m *Module) UpsertEngine() *service.UpsertEngine {
	return m.upsert
}

// RegisterRoutes mounts lead routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Admin.POST("/leads/:leadId/manual-match", m.handler.HandleManualMatch)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
