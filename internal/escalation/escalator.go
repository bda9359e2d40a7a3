// Package escalation asks operators to attribute leads the resolver could not place with
// enough confidence. Escalate publishes an event; the Notifier delivers it over WhatsApp
// and email. Neither ever returns a delivery error to the inbound path.
package escalation

import (
	"context"
	"math"

	"leadsync_backend/internal/attribution"
	"leadsync_backend/internal/events"
	"leadsync_backend/platform/logger"

	"github.com/google/uuid"
)

// Subject is the lead an escalation is about.
type Subject struct {
	LeadID    uuid.UUID
	AccountID uuid.UUID
	ContactID string
}

type Escalator struct {
	bus events.Bus
	log *logger.Logger
}

func NewEscalator(bus events.Bus, log *logger.Logger) *Escalator {
	return &Escalator{bus: bus, log: log}
}

// Escalate requests a manual match for lead. Attempts resolved at high or exact
// confidence are ignored.
func (e *Escalator) Escalate(ctx context.Context, lead Subject, attempt attribution.Result) {
	if !attempt.Confidence.NeedsManualMatch() {
		return
	}

	percent := 0
	if attempt.Similarity != nil {
		percent = int(math.Round(*attempt.Similarity * 100))
	}

	e.log.Info("manual match requested", "accountId", lead.AccountID, "leadId", lead.LeadID,
		"confidence", attempt.Confidence.String(), "similarityPercent", percent)

	e.bus.Publish(ctx, events.ManualMatchRequired{
		BaseEvent:              events.NewBaseEvent(),
		AccountID:              lead.AccountID,
		LeadID:                 lead.LeadID,
		ContactID:              lead.ContactID,
		CandidateDirectionName: attempt.CandidateDirectionName,
		SimilarityPercent:      percent,
		Confidence:             attempt.Confidence.String(),
	})
}
