package escalation

import (
	"leadsync_backend/internal/email"
	"leadsync_backend/internal/events"
	apphttp "leadsync_backend/internal/http"
	"leadsync_backend/platform/logger"
	"leadsync_backend/platform/metrics"
	"leadsync_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module wires the escalator, the notifier and the recipients admin endpoints.
type Module struct {
	escalator *Escalator
	notifier  *Notifier
	handler   *Handler
}

func NewModule(pool *pgxpool.Pool, eventBus events.Bus, wa WhatsAppSender, sender email.Sender, m *metrics.Metrics, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	notifier := NewNotifier(repo, wa, sender, m, log)
	notifier.RegisterHandlers(eventBus)
	return &Module{
		escalator: NewEscalator(eventBus, log),
		notifier:  notifier,
		handler:   NewHandler(repo, val),
	}
}

func (m *Module) Name() string { return "escalation" }

// Escalator is used by inbound processing.
func (m *Module) Escalator() *Escalator { return m.escalator }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Admin.GET("/escalation/recipients", m.handler.HandleGetRecipients)
	ctx.Admin.PUT("/escalation/recipients", m.handler.HandlePutRecipients)
}

var _ apphttp.Module = (*Module)(nil)
