package qualification

import (
	"context"
	"errors"
	"strings"

	"leadsync_backend/internal/leads/domain"
	"leadsync_backend/internal/leads/repository"
	"leadsync_backend/platform/apperr"
	"leadsync_backend/platform/phone"

	"github.com/google/uuid"
)

// ApplyBookingEvent ingests a booking-system record or transaction.
//
// A record is stored and matched to a lead by phone (exact, then suffix-tolerant). An
// active record qualifies the lead permanently with source booking; a cancellation is
// stored but never revokes. A record that matches no lead is kept and creates none.
// A transaction is stored once per transaction id and adds its amount to the linked
// lead's cumulative sale amount without touching qualification.
func (s *Service) ApplyBookingEvent(ctx context.Context, accountID uuid.UUID, ev BookingEvent) (BookingResult, error) {
	if strings.TrimSpace(ev.RecordID) == "" {
		return BookingResult{}, apperr.Validation("booking record id is required")
	}
	switch ev.Kind {
	case BookingRecord:
		return s.applyRecord(ctx, accountID, ev)
	case BookingTransaction:
		return s.applyTransaction(ctx, accountID, ev)
	default:
		return BookingResult{}, apperr.Validation("unknown booking event kind " + string(ev.Kind))
	}
}

func (s *Service) applyRecord(ctx context.Context, accountID uuid.UUID, ev BookingEvent) (BookingResult, error) {
	contactID, _ := phone.Canonical(ev.ClientPhone, "")

	rec, err := s.bookings.UpsertRecord(ctx, BookingRecordRow{
		AccountID:   accountID,
		RecordID:    ev.RecordID,
		ClientPhone: contactID,
		Cancelled:   ev.Cancelled,
	})
	if err != nil {
		return BookingResult{}, apperr.Internal("store booking record", err)
	}

	lead, err := s.recordLead(ctx, accountID, rec)
	if errors.Is(err, repository.ErrNotFound) {
		s.log.Info("booking record matched no lead", "accountId", accountID, "recordId", ev.RecordID)
		return BookingResult{}, nil
	}
	if err != nil {
		return BookingResult{}, apperr.Internal("match booking record", err)
	}

	result := BookingResult{LeadID: &lead.ID, Matched: true}
	if rec.LeadID == nil {
		if err := s.linkRecord(ctx, accountID, ev.RecordID, lead.ID); err != nil {
			return BookingResult{}, err
		}
	}

	next, changed := domain.PlanBookingQualification(lead.Qualification(), ev.RecordID, ev.Cancelled)
	if !changed {
		result.Qualified = lead.IsQualified && lead.QualifiedSource == domain.QualifiedSourceBooking
		return result, nil
	}

	applied, err := s.leads.ApplyBookingQualification(ctx, lead.ID, ev.RecordID)
	if err != nil {
		return BookingResult{}, apperr.Internal("apply booking qualification", err)
	}
	result.Qualified = true
	if applied && !lead.IsQualified {
		s.publishQualification(ctx, lead, next, string(domain.QualifiedSourceBooking))
	}
	return result, nil
}

// recordLead returns the lead already linked to the record, or matches one by phone.
func (s *Service) recordLead(ctx context.Context, accountID uuid.UUID, rec BookingRecordRow) (repository.Lead, error) {
	if rec.LeadID != nil {
		return s.leads.GetByID(ctx, *rec.LeadID, accountID)
	}
	if rec.ClientPhone == "" {
		return repository.Lead{}, repository.ErrNotFound
	}
	return s.findByContact(ctx, accountID, rec.ClientPhone)
}

// linkRecord attaches the record to its lead and carries over transactions that arrived
// before the lead was known.
func (s *Service) linkRecord(ctx context.Context, accountID uuid.UUID, recordID string, leadID uuid.UUID) error {
	linked, err := s.bookings.LinkRecordLead(ctx, accountID, recordID, leadID)
	if err != nil {
		return apperr.Internal("link booking record", err)
	}
	if !linked {
		return nil
	}
	pending, err := s.bookings.ClaimTransactions(ctx, accountID, recordID, "")
	if err != nil {
		return apperr.Internal("claim booking transactions", err)
	}
	if pending == 0 {
		return nil
	}
	if err := s.leads.AddSaleAmount(ctx, leadID, pending); err != nil {
		return apperr.Internal("carry over sale amount", err)
	}
	return nil
}

func (s *Service) applyTransaction(ctx context.Context, accountID uuid.UUID, ev BookingEvent) (BookingResult, error) {
	if strings.TrimSpace(ev.TransactionID) == "" {
		return BookingResult{}, apperr.Validation("booking transaction id is required")
	}

	inserted, err := s.bookings.InsertTransaction(ctx, accountID, ev.TransactionID, ev.RecordID, ev.Amount)
	if err != nil {
		return BookingResult{}, apperr.Internal("store booking transaction", err)
	}
	if !inserted {
		return BookingResult{Duplicate: true}, nil
	}

	rec, err := s.bookings.GetRecord(ctx, accountID, ev.RecordID)
	if errors.Is(err, ErrRecordNotFound) || (err == nil && rec.LeadID == nil) {
		s.log.Info("booking transaction stored for unlinked record", "accountId", accountID,
			"recordId", ev.RecordID, "transactionId", ev.TransactionID)
		return BookingResult{}, nil
	}
	if err != nil {
		return BookingResult{}, apperr.Internal("load booking record", err)
	}

	amount, err := s.bookings.ClaimTransactions(ctx, accountID, ev.RecordID, ev.TransactionID)
	if err != nil {
		return BookingResult{}, apperr.Internal("claim booking transaction", err)
	}
	if amount != 0 {
		if err := s.leads.AddSaleAmount(ctx, *rec.LeadID, amount); err != nil {
			return BookingResult{}, apperr.Internal("add sale amount", err)
		}
	}
	return BookingResult{LeadID: rec.LeadID, Matched: true}, nil
}
