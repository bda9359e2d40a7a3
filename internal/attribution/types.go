// Package attribution resolves an inbound conversational event to the advertising
// creative and direction that produced it. The resolver reads mappings and never writes.
package attribution

import (
	"context"
	"errors"
	"strings"

	"leadsync_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Store lookups that have no row.
var ErrNotFound = errors.New("attribution mapping not found")

// AdMetadata is the ad referral attached to a message by the messaging provider.
type AdMetadata struct {
	SourceID   string `json:"sourceId,omitempty"`
	SourceURL  string `json:"sourceUrl,omitempty"`
	SourceType string `json:"sourceType,omitempty"`
	MediaURL   string `json:"mediaUrl,omitempty"`
}

// Present reports whether any referral field carries a value.
func (m *AdMetadata) Present() bool {
	if m == nil {
		return false
	}
	return strings.TrimSpace(m.SourceID) != "" ||
		strings.TrimSpace(m.SourceURL) != "" ||
		strings.TrimSpace(m.SourceType) != "" ||
		strings.TrimSpace(m.MediaURL) != ""
}

// Input is one resolution request.
type Input struct {
	Ad             *AdMetadata
	MessageText    string
	AccountID      uuid.UUID
	BusinessLineID string
	// SkipTextFallback disables smart-text matching (group conversations).
	SkipTextFallback bool
}

// Result is the outcome of a resolution. CandidateDirection* is set whenever the
// text fallback found a best candidate, even below threshold.
type Result struct {
	CreativeID             *uuid.UUID
	DirectionID            *uuid.UUID
	ChannelID              *uuid.UUID
	Confidence             domain.Confidence
	Similarity             *float64
	CandidateDirectionID   *uuid.UUID
	CandidateDirectionName string
}

// Attribution converts the result to the lead domain shape.
func (r Result) Attribution() domain.Attribution {
	return domain.Attribution{
		CreativeID:  r.CreativeID,
		DirectionID: r.DirectionID,
		ChannelID:   r.ChannelID,
		Confidence:  r.Confidence,
		Similarity:  r.Similarity,
	}
}

// CreativeMapping is a creative/direction pair keyed by ad id or reference.
type CreativeMapping struct {
	CreativeID  uuid.UUID
	DirectionID *uuid.UUID
}

// CreativeReference is a known reference string for a creative (media id, landing URL).
type CreativeReference struct {
	Reference string
	CreativeMapping
}

// DirectionQuestion is a direction's fallback client question.
type DirectionQuestion struct {
	DirectionID uuid.UUID
	Name        string
	Question    string
}

// Store is the read model the resolver depends on.
type Store interface {
	FindCreativeByAdID(ctx context.Context, accountID uuid.UUID, adID string) (CreativeMapping, error)
	ListCreativeReferences(ctx context.Context, accountID uuid.UUID) ([]CreativeReference, error)
	ListDirectionQuestions(ctx context.Context, accountID uuid.UUID) ([]DirectionQuestion, error)
	FindChannelID(ctx context.Context, accountID uuid.UUID, businessLineID string) (uuid.UUID, error)
}
