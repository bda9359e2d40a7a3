// Package email renders and delivers operator notification emails over SMTP.
package email

import (
	"context"

	"leadsync_backend/platform/config"
)

// ManualMatchNotice is the content of a manual-match request.
type ManualMatchNotice struct {
	ContactID              string
	CandidateDirectionName string
	SimilarityPercent      int
	Confidence             string
}

type Sender interface {
	SendManualMatchEmail(ctx context.Context, toEmail string, notice ManualMatchNotice) error
}

// NoopSender drops every email; used when SMTP is not configured.
type NoopSender struct{}

func (NoopSender) SendManualMatchEmail(ctx context.Context, toEmail string, notice ManualMatchNotice) error {
	return nil
}

// NewSender returns an SMTP sender when email is enabled, otherwise a NoopSender.
func NewSender(cfg config.EmailConfig) (Sender, error) {
	if !cfg.IsEmailEnabled() {
		return NoopSender{}, nil
	}
	return NewSMTPSender(
		cfg.GetSMTPHost(),
		cfg.GetSMTPPort(),
		cfg.GetSMTPUsername(),
		cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(),
		cfg.GetEmailFromName(),
	), nil
}
