package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"leadsync_backend/internal/attribution"
	"leadsync_backend/internal/escalation"
	"leadsync_backend/internal/leads/service"
	"leadsync_backend/internal/qualification"
	"leadsync_backend/platform/apperr"
	"leadsync_backend/platform/logger"
	"leadsync_backend/platform/metrics"
	"leadsync_backend/platform/phone"

	"github.com/google/uuid"
)

// Resolver attributes an inbound message to a creative.
type Resolver interface {
	Resolve(ctx context.Context, in attribution.Input) (attribution.Result, error)
}

// LeadUpserter keeps one lead per contact.
type LeadUpserter interface {
	Upsert(ctx context.Context, in service.UpsertInput) (service.UpsertResult, error)
}

// Escalator requests a manual match.
type Escalator interface {
	Escalate(ctx context.Context, lead escalation.Subject, attempt attribution.Result)
}

// BookingApplier applies booking-system events to lead qualification.
type BookingApplier interface {
	ApplyBookingEvent(ctx context.Context, accountID uuid.UUID, ev qualification.BookingEvent) (qualification.BookingResult, error)
}

// Processor runs the inbound pipeline behind the webhook acknowledgment:
// normalize, resolve, upsert, escalate.
type Processor struct {
	resolver  Resolver
	leads     LeadUpserter
	escalator Escalator
	bookings  BookingApplier
	dedupe    *Deduplicator
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// ProcessorDeps groups the Processor collaborators.
type ProcessorDeps struct {
	Resolver  Resolver
	Leads     LeadUpserter
	Escalator Escalator
	Bookings  BookingApplier
	Dedupe    *Deduplicator
	Metrics   *metrics.Metrics
	Log       *logger.Logger
}

func NewProcessor(d ProcessorDeps) *Processor {
	return &Processor{
		resolver:  d.Resolver,
		leads:     d.Leads,
		escalator: d.Escalator,
		bookings:  d.Bookings,
		dedupe:    d.Dedupe,
		metrics:   d.Metrics,
		log:       d.Log,
	}
}

// ProcessMessage handles one inbound message. Messages that cannot be processed
// (outgoing, unresolvable contact, redelivery) are dropped with a logged reason and a
// nil error. A non-nil error means the job may be retried.
func (p *Processor) ProcessMessage(ctx context.Context, job MessageJob) error {
	msg := job.Message
	log := p.log.WithContext(ctx)

	if msg.FromMe {
		p.drop(msg.Provider, msg.EventID, "outgoing message")
		return nil
	}

	contactID, ok := phone.Canonical(msg.ContactID, msg.AltContactID)
	if !ok {
		p.drop(msg.Provider, msg.EventID, "unresolvable contact id")
		return nil
	}

	key := DeliveryKey(msg.Provider, job.AccountID, msg.EventID, fingerprint(msg))
	claimed, err := p.dedupe.Claim(ctx, key)
	if err != nil {
		log.Warn("webhook dedupe unavailable, processing anyway", "provider", msg.Provider, "error", err)
		claimed = true
	}
	if !claimed {
		p.metrics.IncWebhook(msg.Provider, "duplicate")
		log.Debug("webhook redelivery skipped", "provider", msg.Provider, "eventId", msg.EventID)
		return nil
	}

	result, err := p.resolver.Resolve(ctx, attribution.Input{
		Ad:               msg.Ad,
		MessageText:      msg.Text,
		AccountID:        job.AccountID,
		BusinessLineID:   msg.BusinessLineID,
		SkipTextFallback: msg.IsGroup,
	})
	if err != nil {
		p.dedupe.Release(ctx, key)
		p.metrics.IncWebhook(msg.Provider, "failed")
		return fmt.Errorf("resolve attribution: %w", err)
	}
	p.metrics.IncResolution(result.Confidence.String())

	upserted, err := p.leads.Upsert(ctx, service.UpsertInput{
		ContactID:   contactID,
		AccountID:   job.AccountID,
		Attribution: result.Attribution(),
	})
	if apperr.Is(err, apperr.KindValidation) {
		p.drop(msg.Provider, msg.EventID, err.Error())
		return nil
	}
	if err != nil {
		p.dedupe.Release(ctx, key)
		p.metrics.IncWebhook(msg.Provider, "failed")
		return fmt.Errorf("upsert lead: %w", err)
	}

	if upserted.Created {
		p.escalator.Escalate(ctx, escalation.Subject{
			LeadID:    upserted.LeadID,
			AccountID: job.AccountID,
			ContactID: contactID,
		}, result)
	}

	p.metrics.IncWebhook(msg.Provider, "processed")
	log.Debug("inbound message processed", "provider", msg.Provider, "accountId", job.AccountID,
		"leadId", upserted.LeadID, "created", upserted.Created, "changed", upserted.Changed,
		"confidence", result.Confidence.String())
	return nil
}

// ProcessBooking applies one booking-system event.
func (p *Processor) ProcessBooking(ctx context.Context, job BookingJob) error {
	body, _ := json.Marshal(job.Payload)
	key := DeliveryKey(ProviderBooking, job.AccountID, job.Payload.EventID, body)

	claimed, err := p.dedupe.Claim(ctx, key)
	if err != nil {
		p.log.WithContext(ctx).Warn("webhook dedupe unavailable, processing anyway", "provider", ProviderBooking, "error", err)
		claimed = true
	}
	if !claimed {
		p.metrics.IncWebhook(ProviderBooking, "duplicate")
		return nil
	}

	res, err := p.bookings.ApplyBookingEvent(ctx, job.AccountID, job.Payload.Event())
	if apperr.Is(err, apperr.KindValidation) {
		p.drop(ProviderBooking, job.Payload.EventID, err.Error())
		return nil
	}
	if err != nil {
		p.dedupe.Release(ctx, key)
		p.metrics.IncWebhook(ProviderBooking, "failed")
		return fmt.Errorf("apply booking event: %w", err)
	}

	outcome := "processed"
	if res.Duplicate {
		outcome = "duplicate"
	}
	p.metrics.IncWebhook(ProviderBooking, outcome)
	return nil
}

func (p *Processor) drop(provider, eventID, reason string) {
	p.metrics.IncWebhook(provider, "dropped")
	p.log.WebhookDropped(provider, eventID, reason)
}

// fingerprint identifies a message without a provider event id.
func fingerprint(msg InboundMessage) []byte {
	body, _ := json.Marshal(msg)
	return body
}
