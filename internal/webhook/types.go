package webhook

import (
	"leadsync_backend/internal/attribution"
	"leadsync_backend/internal/qualification"

	"github.com/google/uuid"
)

// Messaging providers with an adapter.
const (
	ProviderCloudAPI  = "cloudapi"
	ProviderEvolution = "evolution"
	ProviderGeneric   = "generic"

	// ProviderBooking labels booking-system deliveries in logs and metrics.
	ProviderBooking = "booking"
)

// InboundMessage is a provider message normalized by an adapter.
type InboundMessage struct {
	Provider string `json:"provider"`
	EventID  string `json:"eventId"`
	// ContactID is the provider's raw sender identifier; AltContactID is the phone-based
	// identifier some providers send next to an opaque privacy id.
	ContactID      string                  `json:"contactId"`
	AltContactID   string                  `json:"altContactId,omitempty"`
	FromMe         bool                    `json:"fromMe"`
	IsGroup        bool                    `json:"isGroup"`
	Text           string                  `json:"text,omitempty"`
	BusinessLineID string                  `json:"businessLineId,omitempty"`
	Ad             *attribution.AdMetadata `json:"ad,omitempty"`
}

// MessageJob is one inbound message queued for processing.
type MessageJob struct {
	AccountID uuid.UUID      `json:"accountId"`
	Message   InboundMessage `json:"message"`
}

// BookingPayload is the booking-system webhook body.
type BookingPayload struct {
	EventID       string  `json:"eventId"`
	Kind          string  `json:"kind" validate:"required,oneof=record transaction"`
	RecordID      string  `json:"recordId" validate:"required,max=128"`
	ClientPhone   string  `json:"clientPhone" validate:"max=64"`
	Cancelled     bool    `json:"cancelled"`
	TransactionID string  `json:"transactionId" validate:"required_if=Kind transaction,max=128"`
	Amount        float64 `json:"amount"`
}

// Event converts the payload to the qualification booking event.
func (p BookingPayload) Event() qualification.BookingEvent {
	return qualification.BookingEvent{
		Kind:          qualification.BookingEventKind(p.Kind),
		RecordID:      p.RecordID,
		ClientPhone:   p.ClientPhone,
		Cancelled:     p.Cancelled,
		TransactionID: p.TransactionID,
		Amount:        p.Amount,
	}
}

// BookingJob is one booking event queued for processing.
type BookingJob struct {
	AccountID uuid.UUID      `json:"accountId"`
	Payload   BookingPayload `json:"payload"`
}
