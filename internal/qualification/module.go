package qualification

import (
	"leadsync_backend/internal/crm"
	"leadsync_backend/internal/events"
	apphttp "leadsync_backend/internal/http"
	"leadsync_backend/platform/config"
	"leadsync_backend/platform/logger"
	"leadsync_backend/platform/metrics"
	"leadsync_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the qualification bounded context module implementing http.Module.
type Module struct {
	service *Service
	handler *Handler
}

// NewModule wires the synchronizer to Postgres and the CRM client factory.
func NewModule(pool *pgxpool.Pool, leads LeadStore, directions DirectionStages, eventBus events.Bus, cfg config.CRMConfig, m *metrics.Metrics, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	factory := crm.NewFactory(cfg, m, log)
	svc := NewService(Deps{
		Leads:       leads,
		Registry:    repo,
		Connections: repo,
		Bookings:    repo,
		Directions:  directions,
		Clients:     func(conn crm.Connection) CRMClient { return factory.ForConnection(conn) },
		Bus:         eventBus,
		Config:      cfg,
		Metrics:     m,
		Log:         log,
	})
	return &Module{service: svc, handler: NewHandler(svc, val)}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "qualification"
}

// Service exposes the synchronizer for jobs and the booking webhook.
func (m *Module) Service() *Service {
	return m.service
}

// RegisterRoutes mounts CRM admin routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	crmGroup := ctx.Admin.Group("/crm")
	crmGroup.POST("/pipelines/sync", m.handler.HandleSyncPipelines)
	crmGroup.POST("/leads/sync", m.handler.HandleSyncLeads)
	crmGroup.GET("/stages", m.handler.HandleListStages)
	crmGroup.PATCH("/stages/:stageId", m.handler.HandleSetStageQualification)

	ctx.Admin.PUT("/directions/:directionId/key-stages", m.handler.HandleConfigureKeyStages)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
