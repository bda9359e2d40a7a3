package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"leadsync_backend/internal/email"
	"leadsync_backend/internal/events"
	"leadsync_backend/platform/logger"
	"leadsync_backend/platform/metrics"
	"leadsync_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	channelWhatsApp = "whatsapp"
	channelEmail    = "email"
)

// RecipientStore loads an account's escalation recipients.
type RecipientStore interface {
	GetRecipients(ctx context.Context, accountID uuid.UUID) (Recipients, error)
}

// WhatsAppSender sends WhatsApp messages.
type WhatsAppSender interface {
	SendMessage(ctx context.Context, phoneNumber string, message string) error
}

// Notifier delivers ManualMatchRequired events to the account's operators.
type Notifier struct {
	recipients RecipientStore
	whatsapp   WhatsAppSender
	email      email.Sender
	metrics    *metrics.Metrics
	log        *logger.Logger
}

func NewNotifier(recipients RecipientStore, wa WhatsAppSender, sender email.Sender, m *metrics.Metrics, log *logger.Logger) *Notifier {
	if sender == nil {
		sender = email.NoopSender{}
	}
	return &Notifier{recipients: recipients, whatsapp: wa, email: sender, metrics: m, log: log}
}

// RegisterHandlers subscribes the notifier to escalation events.
func (n *Notifier) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.ManualMatchRequired{}.EventName(), n)
}

// Handle implements events.Handler. Delivery failures are logged and counted; the
// returned error is always nil.
func (n *Notifier) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.ManualMatchRequired:
		n.handleManualMatchRequired(ctx, e)
	default:
		n.log.Warn("unhandled event type", "event", event.EventName())
	}
	return nil
}

func (n *Notifier) handleManualMatchRequired(ctx context.Context, e events.ManualMatchRequired) {
	log := n.log.WithContext(ctx)

	rec, err := n.recipients.GetRecipients(ctx, e.AccountID)
	if errors.Is(err, ErrNoRecipients) || (err == nil && rec.Empty()) {
		log.Warn("manual match not delivered: no recipients", "accountId", e.AccountID, "leadId", e.LeadID)
		n.metrics.IncEscalation("none", "skipped")
		return
	}
	if err != nil {
		log.DatabaseError("escalation.GetRecipients", err, "accountId", e.AccountID)
		n.metrics.IncEscalation("none", "failed")
		return
	}

	if strings.TrimSpace(rec.Phone) != "" && n.whatsapp != nil {
		n.deliver(ctx, channelWhatsApp, e, func(ctx context.Context) error {
			return n.whatsapp.SendMessage(ctx, rec.Phone, whatsAppMessage(e))
		})
	}
	if strings.TrimSpace(rec.Email) != "" {
		n.deliver(ctx, channelEmail, e, func(ctx context.Context) error {
			return n.email.SendManualMatchEmail(ctx, rec.Email, email.ManualMatchNotice{
				ContactID:              e.ContactID,
				CandidateDirectionName: e.CandidateDirectionName,
				SimilarityPercent:      e.SimilarityPercent,
				Confidence:             e.Confidence,
			})
		})
	}
}

func (n *Notifier) deliver(ctx context.Context, channel string, e events.ManualMatchRequired, send func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("manual match delivery panicked", "channel", channel, "leadId", e.LeadID, "panic", fmt.Sprint(r))
			n.metrics.IncEscalation(channel, "failed")
		}
	}()

	if err := send(ctx); err != nil {
		n.log.Error("manual match delivery failed", "channel", channel, "accountId", e.AccountID, "leadId", e.LeadID, "error", err)
		n.metrics.IncEscalation(channel, "failed")
		return
	}
	n.metrics.IncEscalation(channel, "sent")
}

func whatsAppMessage(e events.ManualMatchRequired) string {
	var b strings.Builder
	b.WriteString("New lead needs a manual match\n")
	fmt.Fprintf(&b, "Contact: %s\n", e.ContactID)
	if name := sanitize.Text(e.CandidateDirectionName); name != "" {
		fmt.Fprintf(&b, "Closest direction: %s (%d%% match)\n", name, e.SimilarityPercent)
	} else {
		b.WriteString("No direction candidate found\n")
	}
	fmt.Fprintf(&b, "Confidence: %s", e.Confidence)
	return b.String()
}

var _ events.Handler = (*Notifier)(nil)
