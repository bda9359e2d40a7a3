package domain

import (
	"testing"

	"github.com/google/uuid"
)

func ptr[T any](v T) *T { return &v }

func TestPlanAttributionMergeUpgrade(t *testing.T) {
	oldDirection := uuid.New()
	creative := uuid.New()
	direction := uuid.New()
	channel := uuid.New()

	existing := Attribution{DirectionID: &oldDirection, ChannelID: &channel, Confidence: ConfidenceLow, Similarity: ptr(0.74)}
	incoming := Attribution{CreativeID: &creative, DirectionID: &direction, Confidence: ConfidenceExact}

	plan := PlanAttributionMerge(existing, incoming)
	if plan.Action != MergeUpgrade {
		t.Fatalf("expected upgrade, got %s", plan.Action)
	}
	if plan.ExpectedConfidence != ConfidenceLow {
		t.Fatalf("expected guard on low, got %s", plan.ExpectedConfidence)
	}
	if *plan.Attribution.DirectionID != direction || *plan.Attribution.CreativeID != creative {
		t.Fatalf("upgrade must carry incoming attribution")
	}
	if plan.Attribution.ChannelID == nil || *plan.Attribution.ChannelID != channel {
		t.Fatalf("upgrade must keep the known channel when incoming has none")
	}
	if plan.NeedsManualMatch {
		t.Fatalf("exact attribution should clear manual match")
	}
}

func TestPlanAttributionMergeNeverDowngrades(t *testing.T) {
	creative := uuid.New()
	direction := uuid.New()
	otherDirection := uuid.New()

	existing := Attribution{CreativeID: &creative, DirectionID: &direction, Confidence: ConfidenceExact}
	for _, c := range []Confidence{ConfidenceNone, ConfidenceLow, ConfidenceHigh, ConfidenceExact} {
		incoming := Attribution{DirectionID: &otherDirection, Confidence: c}
		plan := PlanAttributionMerge(existing, incoming)
		if plan.Action != MergeNone {
			t.Fatalf("confidence %s: expected no change, got %s", c, plan.Action)
		}
	}
}

func TestPlanAttributionMergeFillsNullColumns(t *testing.T) {
	creative := uuid.New()
	direction := uuid.New()
	channel := uuid.New()

	existing := Attribution{CreativeID: &creative, Confidence: ConfidenceHigh}
	incoming := Attribution{CreativeID: &creative, DirectionID: &direction, ChannelID: &channel, Confidence: ConfidenceHigh}

	plan := PlanAttributionMerge(existing, incoming)
	if plan.Action != MergeFill {
		t.Fatalf("expected fill, got %s", plan.Action)
	}
	if plan.Attribution.CreativeID != nil {
		t.Fatalf("fill must not rewrite a set creative")
	}
	if plan.Attribution.DirectionID == nil || *plan.Attribution.DirectionID != direction {
		t.Fatalf("expected direction to be filled")
	}
	if plan.Attribution.ChannelID == nil || *plan.Attribution.ChannelID != channel {
		t.Fatalf("expected channel to be filled")
	}
	if plan.Attribution.Confidence != ConfidenceHigh {
		t.Fatalf("fill keeps stored confidence")
	}
}

func TestPlanAttributionMergeDoesNotMixCreatives(t *testing.T) {
	storedCreative := uuid.New()
	otherCreative := uuid.New()
	direction := uuid.New()

	existing := Attribution{CreativeID: &storedCreative, Confidence: ConfidenceExact}
	incoming := Attribution{CreativeID: &otherCreative, DirectionID: &direction, Confidence: ConfidenceHigh}

	if plan := PlanAttributionMerge(existing, incoming); plan.Action != MergeNone {
		t.Fatalf("expected no change when creatives differ, got %s", plan.Action)
	}
}

func TestPlanAttributionMergeIdempotent(t *testing.T) {
	creative := uuid.New()
	direction := uuid.New()
	a := Attribution{CreativeID: &creative, DirectionID: &direction, Confidence: ConfidenceExact}

	if plan := PlanAttributionMerge(a, a); plan.Action != MergeNone {
		t.Fatalf("re-applying the same attribution must be a no-op, got %s", plan.Action)
	}
}

func TestConfidenceNames(t *testing.T) {
	for _, c := range []Confidence{ConfidenceNone, ConfidenceLow, ConfidenceHigh, ConfidenceExact} {
		parsed, ok := ParseConfidence(c.String())
		if !ok || parsed != c {
			t.Fatalf("ParseConfidence(%q) = %v, %v", c.String(), parsed, ok)
		}
	}
	if _, ok := ParseConfidence("certain"); ok {
		t.Fatalf("expected unknown name to fail")
	}
	if !ConfidenceNone.NeedsManualMatch() || !ConfidenceLow.NeedsManualMatch() || ConfidenceHigh.NeedsManualMatch() {
		t.Fatalf("manual match is required for none and low only")
	}
}
