// Package domain provides core business rules for the leads bounded context.
// Everything here is pure: repositories read state, these functions decide what to write.
package domain

import (
	"github.com/google/uuid"
)

// Confidence is the provenance tag stored with a lead's attribution.
// Ordering matters: a value only ever replaces a strictly lower one.
type Confidence int16

const (
	ConfidenceNone Confidence = iota
	ConfidenceLow
	ConfidenceHigh
	ConfidenceExact
)

var confidenceNames = [...]string{"none", "low", "high", "exact"}

func (c Confidence) String() string {
	if c < ConfidenceNone || c > ConfidenceExact {
		return "none"
	}
	return confidenceNames[c]
}

// ParseConfidence maps a stored or wire name back to a Confidence.
func ParseConfidence(value string) (Confidence, bool) {
	for i, name := range confidenceNames {
		if name == value {
			return Confidence(i), true
		}
	}
	return ConfidenceNone, false
}

// NeedsManualMatch reports whether a lead attributed at this level must be reviewed by an operator.
func (c Confidence) NeedsManualMatch() bool {
	return c <= ConfidenceLow
}

// Attribution is the creative/direction assignment produced by a resolution.
type Attribution struct {
	CreativeID  *uuid.UUID
	DirectionID *uuid.UUID
	ChannelID   *uuid.UUID
	Confidence  Confidence
	Similarity  *float64
}

// MergeAction says how an existing lead's attribution should change.
type MergeAction int

const (
	// MergeNone means the stored attribution already covers the incoming one.
	MergeNone MergeAction = iota
	// MergeUpgrade replaces attribution with a strictly more confident resolution.
	MergeUpgrade
	// MergeFill sets only columns that are still NULL.
	MergeFill
)

func (a MergeAction) String() string {
	switch a {
	case MergeUpgrade:
		return "upgraded"
	case MergeFill:
		return "filled"
	default:
		return "unchanged"
	}
}

// MergePlan is the write an upsert must perform on an existing lead.
// For MergeUpgrade the conditional update must match ExpectedConfidence so that a
// concurrent stronger write is never clobbered. For MergeFill, only the non-nil
// fields of Attribution are written and only where the column is still NULL.
type MergePlan struct {
	Action             MergeAction
	Attribution        Attribution
	ExpectedConfidence Confidence
	NeedsManualMatch   bool
}

// PlanAttributionMerge decides how incoming attribution combines with what is stored.
//
// A strictly higher confidence overwrites creative, direction and similarity and
// re-derives needs_manual_match. Equal or lower confidence never overwrites a set
// column; it may only fill NULL columns, and creative/direction are filled only
// when they would not mix two different creatives on one lead. The channel is
// not provenance-tagged and is always fillable.
func PlanAttributionMerge(existing, incoming Attribution) MergePlan {
	if incoming.Confidence > existing.Confidence {
		next := incoming
		if next.ChannelID == nil {
			next.ChannelID = existing.ChannelID
		}
		return MergePlan{
			Action:             MergeUpgrade,
			Attribution:        next,
			ExpectedConfidence: existing.Confidence,
			NeedsManualMatch:   incoming.Confidence.NeedsManualMatch(),
		}
	}

	var fill Attribution
	changed := false

	sameCreative := existing.CreativeID == nil || incoming.CreativeID == nil || *existing.CreativeID == *incoming.CreativeID
	if sameCreative {
		if existing.CreativeID == nil && incoming.CreativeID != nil {
			fill.CreativeID = incoming.CreativeID
			changed = true
		}
		if existing.DirectionID == nil && incoming.DirectionID != nil {
			fill.DirectionID = incoming.DirectionID
			changed = true
			if existing.Similarity == nil && incoming.Similarity != nil {
				fill.Similarity = incoming.Similarity
			}
		}
	}
	if existing.ChannelID == nil && incoming.ChannelID != nil {
		fill.ChannelID = incoming.ChannelID
		changed = true
	}

	if !changed {
		return MergePlan{Action: MergeNone, ExpectedConfidence: existing.Confidence}
	}
	fill.Confidence = existing.Confidence
	return MergePlan{
		Action:             MergeFill,
		Attribution:        fill,
		ExpectedConfidence: existing.Confidence,
		NeedsManualMatch:   existing.Confidence.NeedsManualMatch(),
	}
}
