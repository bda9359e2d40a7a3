package domain

import "fmt"

// QualifiedSource records which subsystem set is_qualified on a lead.
type QualifiedSource string

const (
	QualifiedSourceNone    QualifiedSource = "none"
	QualifiedSourceBooking QualifiedSource = "booking"
	QualifiedSourceCRM     QualifiedSource = "crm"
)

// KeyStageSlots is the number of ordered key-stage slots a direction can configure.
const KeyStageSlots = 3

// StageRef identifies a CRM pipeline stage.
type StageRef struct {
	PipelineID int64 `json:"pipelineId"`
	StatusID   int64 `json:"statusId"`
}

func (s StageRef) String() string {
	return fmt.Sprintf("pipeline %d / status %d", s.PipelineID, s.StatusID)
}

// KeyStages holds a direction's configured key stages by slot; nil slots are unset.
type KeyStages [KeyStageSlots]*StageRef

// QualificationState is the qualification-related slice of a lead.
type QualificationState struct {
	IsQualified      bool
	Source           QualifiedSource
	BookingRecordID  *string
	CRMLeadID        *int64
	PipelineID       *int64
	StatusID         *int64
	ReachedKeyStages [KeyStageSlots]bool
}

// CurrentStage returns the stage the lead was last observed at, if any.
func (s QualificationState) CurrentStage() (StageRef, bool) {
	if s.PipelineID == nil || s.StatusID == nil {
		return StageRef{}, false
	}
	return StageRef{PipelineID: *s.PipelineID, StatusID: *s.StatusID}, true
}

// CRMReconcileInput carries everything needed to reconcile one lead with its CRM snapshot.
type CRMReconcileInput struct {
	Current        QualificationState
	CRMLeadID      int64
	Stage          StageRef
	StageQualified bool
	// StageLost marks a closed-lost observation, which never implies progress.
	StageLost bool
	// StageOrder holds registry sort orders of the observed stage and of the key stages
	// in its pipeline. Stages missing from the registry are absent.
	StageOrder map[StageRef]int
	KeyStages  KeyStages
	// History is every stage the lead was previously recorded at.
	History []StageRef
}

// CRMReconcilePlan is the resulting state plus what changed.
type CRMReconcilePlan struct {
	Next                 QualificationState
	Changed              bool
	QualificationChanged bool
	RecordStage          bool
}

// PlanCRMReconcile applies a CRM stage observation to a lead.
//
// The current pipeline/status always follows the CRM. is_qualified follows the
// registry flag of that stage in both directions unless a booking qualified the
// lead, which is permanent. Key-stage flags are "ever reached": a key stage counts
// when the lead was recorded at it, or when the observed stage sits at or past it in
// the same pipeline (the lead may have moved through it between two syncs). Once true
// they stay true even if the lead moves backwards.
func PlanCRMReconcile(in CRMReconcileInput) CRMReconcilePlan {
	cur := in.Current
	next := cur

	crmLeadID := in.CRMLeadID
	pipelineID := in.Stage.PipelineID
	statusID := in.Stage.StatusID
	next.CRMLeadID = &crmLeadID
	next.PipelineID = &pipelineID
	next.StatusID = &statusID

	if cur.Source != QualifiedSourceBooking {
		next.IsQualified = in.StageQualified
		if in.StageQualified {
			next.Source = QualifiedSourceCRM
		} else {
			next.Source = QualifiedSourceNone
		}
	}

	visited := make(map[StageRef]struct{}, len(in.History)+1)
	for _, h := range in.History {
		visited[h] = struct{}{}
	}
	_, seen := visited[in.Stage]
	visited[in.Stage] = struct{}{}

	for i, ks := range in.KeyStages {
		if ks == nil {
			continue
		}
		if _, ok := visited[*ks]; ok || passedThrough(in, *ks) {
			next.ReachedKeyStages[i] = true
		}
	}
	for i := range next.ReachedKeyStages {
		next.ReachedKeyStages[i] = next.ReachedKeyStages[i] || cur.ReachedKeyStages[i]
	}

	changed := !int64PtrEqual(cur.CRMLeadID, next.CRMLeadID) ||
		!int64PtrEqual(cur.PipelineID, next.PipelineID) ||
		!int64PtrEqual(cur.StatusID, next.StatusID) ||
		cur.IsQualified != next.IsQualified ||
		cur.Source != next.Source ||
		cur.ReachedKeyStages != next.ReachedKeyStages

	return CRMReconcilePlan{
		Next:                 next,
		Changed:              changed,
		QualificationChanged: cur.IsQualified != next.IsQualified,
		RecordStage:          !seen,
	}
}

// PlanBookingQualification applies a booking record to a lead. A cancelled record
// never qualifies and never revokes; an active one qualifies permanently.
func PlanBookingQualification(cur QualificationState, recordID string, cancelled bool) (QualificationState, bool) {
	if cancelled {
		return cur, false
	}
	next := cur
	next.IsQualified = true
	next.Source = QualifiedSourceBooking
	if next.BookingRecordID == nil {
		id := recordID
		next.BookingRecordID = &id
	}

	changed := cur.IsQualified != next.IsQualified ||
		cur.Source != next.Source ||
		cur.BookingRecordID == nil
	return next, changed
}

// ValidateKeyStages checks a key-stage configuration against the registry.
// known reports whether a stage exists in the account's registry.
func ValidateKeyStages(stages []StageRef, known func(StageRef) bool) (KeyStages, error) {
	var out KeyStages
	if len(stages) > KeyStageSlots {
		return out, fmt.Errorf("at most %d key stages can be configured, got %d", KeyStageSlots, len(stages))
	}
	seen := make(map[StageRef]struct{}, len(stages))
	for i, s := range stages {
		if s.PipelineID <= 0 || s.StatusID <= 0 {
			return out, fmt.Errorf("key stage %d: pipelineId and statusId are required", i+1)
		}
		if _, dup := seen[s]; dup {
			return out, fmt.Errorf("key stage %d: %s is configured twice", i+1, s)
		}
		seen[s] = struct{}{}
		if !known(s) {
			return out, fmt.Errorf("key stage %d: %s is not in the pipeline registry; run the pipeline catalog sync first", i+1, s)
		}
		stage := s
		out[i] = &stage
	}
	return out, nil
}

func passedThrough(in CRMReconcileInput, ks StageRef) bool {
	if in.StageLost || in.Stage.PipelineID != ks.PipelineID {
		return false
	}
	current, ok := in.StageOrder[in.Stage]
	if !ok {
		return false
	}
	target, ok := in.StageOrder[ks]
	return ok && current >= target
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
