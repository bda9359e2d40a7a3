package qualification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"leadsync_backend/internal/crm"
	"leadsync_backend/internal/leads/domain"
	"leadsync_backend/internal/leads/repository"
	"leadsync_backend/platform/apperr"

	"github.com/google/uuid"
)

const (
	salesPipeline = int64(10)
	newStatus     = int64(200)
	meetingStatus = int64(201)
	offerStatus   = int64(202)
)

func catalog() []crm.Stage {
	return []crm.Stage{
		{PipelineID: salesPipeline, PipelineName: "Sales", StatusID: newStatus, StatusName: "New", SortOrder: 10},
		{PipelineID: salesPipeline, PipelineName: "Sales", StatusID: meetingStatus, StatusName: "Meeting", SortOrder: 20},
		{PipelineID: salesPipeline, PipelineName: "Sales", StatusID: crm.WonStatusID, StatusName: "Won", SortOrder: 10000},
	}
}

func TestSyncPipelineCatalogSecondRunWritesNothing(t *testing.T) {
	h := newHarness()
	h.clients[h.account].stages = catalog()
	ctx := context.Background()

	first, err := h.svc.SyncPipelineCatalog(ctx, h.account)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first.Inserted != 3 {
		t.Fatalf("expected 3 inserted stages, got %+v", first)
	}

	second, err := h.svc.SyncPipelineCatalog(ctx, h.account)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.Inserted != 0 || second.Updated != 0 || second.Unchanged != 3 {
		t.Fatalf("expected unchanged catalog, got %+v", second)
	}
	if h.registry.applyCalls != 1 || h.registry.rowsWritten != 3 {
		t.Fatalf("expected a single write pass, got %d calls and %d rows", h.registry.applyCalls, h.registry.rowsWritten)
	}

	for _, st := range h.registry.stages {
		want := st.StatusID == crm.WonStatusID
		if st.IsQualifiedStage != want {
			t.Fatalf("stage %d: qualified=%v, want %v", st.StatusID, st.IsQualifiedStage, want)
		}
	}
}

func TestSyncPipelineCatalogRenamePreservesOverride(t *testing.T) {
	h := newHarness()
	h.clients[h.account].stages = catalog()
	ctx := context.Background()

	if _, err := h.svc.SyncPipelineCatalog(ctx, h.account); err != nil {
		t.Fatalf("sync: %v", err)
	}
	meeting, _ := h.registry.FindStage(ctx, h.account, salesPipeline, meetingStatus)
	if _, err := h.svc.SetStageQualification(ctx, h.account, meeting.ID, true); err != nil {
		t.Fatalf("override: %v", err)
	}

	renamed := catalog()
	renamed[1].StatusName = "Meeting booked"
	h.clients[h.account].stages = renamed

	res, err := h.svc.SyncPipelineCatalog(ctx, h.account)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if res.Updated != 1 || res.Inserted != 0 {
		t.Fatalf("expected one update, got %+v", res)
	}
	meeting, _ = h.registry.FindStage(ctx, h.account, salesPipeline, meetingStatus)
	if meeting.StatusName != "Meeting booked" || !meeting.IsQualifiedStage {
		t.Fatalf("expected renamed stage to keep its override, got %+v", meeting)
	}
}

func TestSyncPipelineCatalogFetchFailureLeavesRegistry(t *testing.T) {
	h := newHarness()
	h.registry.add(h.account, salesPipeline, newStatus, true)
	h.clients[h.account].err = errors.New("crm down")

	_, err := h.svc.SyncPipelineCatalog(context.Background(), h.account)
	if !apperr.Is(err, apperr.KindUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if h.registry.applyCalls != 0 || len(h.registry.stages) != 1 || !h.registry.stages[0].IsQualifiedStage {
		t.Fatalf("registry must be untouched, got %+v", h.registry.stages)
	}
}

func TestSyncPipelineCatalogWithoutConnection(t *testing.T) {
	h := newHarness()
	_, err := h.svc.SyncPipelineCatalog(context.Background(), uuid.New())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetStageQualificationRequalifiesWithoutCRMFetch(t *testing.T) {
	h := newHarness()
	enq := &fakeEnqueuer{}
	h.svc.SetResyncEnqueuer(enq)
	ctx := context.Background()

	stage := h.registry.add(h.account, salesPipeline, meetingStatus, false)
	lead := h.leads.add(h.account, "77771234567")
	lead.CurrentPipelineID = int64Ptr(salesPipeline)
	lead.CurrentStatusID = int64Ptr(meetingStatus)
	other := h.leads.add(h.account, "77770000000")
	other.CurrentPipelineID = int64Ptr(salesPipeline)
	other.CurrentStatusID = int64Ptr(newStatus)

	res, err := h.svc.SetStageQualification(ctx, h.account, stage.ID, true)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if res.LeadsAffected != 1 || !res.ResyncQueued {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := h.leads.get(lead.ID); !got.IsQualified || got.QualifiedSource != domain.QualifiedSourceCRM {
		t.Fatalf("expected lead at stage to be qualified, got %+v", got)
	}
	if got := h.leads.get(other.ID); got.IsQualified {
		t.Fatalf("lead at another stage must not change")
	}
	client := h.clients[h.account]
	if client.stageCalls != 0 || client.leadCalls != 0 {
		t.Fatalf("override must not call the CRM, got %d/%d calls", client.stageCalls, client.leadCalls)
	}
	if len(enq.accounts) != 1 || enq.accounts[0] != h.account {
		t.Fatalf("expected a resync for the account, got %v", enq.accounts)
	}
	if h.bus.count("qualification.stage.changed") != 1 {
		t.Fatalf("expected stage change event")
	}

	// Setting the same value again changes nothing and queues nothing.
	res, err = h.svc.SetStageQualification(ctx, h.account, stage.ID, true)
	if err != nil {
		t.Fatalf("repeat override: %v", err)
	}
	if res.LeadsAffected != 0 || res.ResyncQueued || len(enq.accounts) != 1 {
		t.Fatalf("repeat override must be a no-op, got %+v", res)
	}
}

func TestSetStageQualificationNeverRevokesBooking(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	stage := h.registry.add(h.account, salesPipeline, meetingStatus, true)
	lead := h.leads.add(h.account, "77771234567")
	lead.CurrentPipelineID = int64Ptr(salesPipeline)
	lead.CurrentStatusID = int64Ptr(meetingStatus)
	lead.IsQualified = true
	lead.QualifiedSource = domain.QualifiedSourceBooking

	if _, err := h.svc.SetStageQualification(ctx, h.account, stage.ID, false); err != nil {
		t.Fatalf("override: %v", err)
	}
	if got := h.leads.get(lead.ID); !got.IsQualified {
		t.Fatalf("booking qualification must survive a stage override")
	}
}

func TestSetStageQualificationUnknownStage(t *testing.T) {
	h := newHarness()
	_, err := h.svc.SetStageQualification(context.Background(), h.account, uuid.New(), true)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBookingRecordMatchesBySuffixAndCancellationNeverRevokes(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	lead := h.leads.add(h.account, "77771234567")

	res, err := h.svc.ApplyBookingEvent(ctx, h.account, BookingEvent{
		Kind: BookingRecord, RecordID: "r-1", ClientPhone: "777 123 45 67",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !res.Matched || !res.Qualified || res.LeadID == nil || *res.LeadID != lead.ID {
		t.Fatalf("expected suffix match to qualify the lead, got %+v", res)
	}
	got := h.leads.get(lead.ID)
	if !got.IsQualified || got.QualifiedSource != domain.QualifiedSourceBooking || got.BookingRecordID == nil || *got.BookingRecordID != "r-1" {
		t.Fatalf("unexpected lead state %+v", got)
	}
	if h.bus.count("qualification.lead.changed") != 1 {
		t.Fatalf("expected one qualification event")
	}

	if _, err := h.svc.ApplyBookingEvent(ctx, h.account, BookingEvent{
		Kind: BookingRecord, RecordID: "r-1", Cancelled: true,
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := h.leads.get(lead.ID); !got.IsQualified {
		t.Fatalf("cancellation must not revoke qualification")
	}
	if !h.bookings.records["r-1"].Cancelled {
		t.Fatalf("cancellation must be stored")
	}
	if h.bus.count("qualification.lead.changed") != 1 {
		t.Fatalf("cancellation must not publish")
	}
}

func TestBookingRecordWithoutLeadIsStored(t *testing.T) {
	h := newHarness()
	res, err := h.svc.ApplyBookingEvent(context.Background(), h.account, BookingEvent{
		Kind: BookingRecord, RecordID: "r-9", ClientPhone: "+1 202 555 0100",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if res.Matched || res.LeadID != nil {
		t.Fatalf("expected no match, got %+v", res)
	}
	if _, ok := h.bookings.records["r-9"]; !ok {
		t.Fatalf("unmatched record must still be stored")
	}
	if len(h.leads.leads) != 0 {
		t.Fatalf("booking must never create a lead")
	}
}

func TestBookingTransactionsAreCountedOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	lead := h.leads.add(h.account, "77771234567")

	// Transaction before its record is known.
	res, err := h.svc.ApplyBookingEvent(ctx, h.account, BookingEvent{
		Kind: BookingTransaction, RecordID: "r-1", TransactionID: "t-1", Amount: 100,
	})
	if err != nil || res.Matched {
		t.Fatalf("early transaction: %+v %v", res, err)
	}

	if _, err := h.svc.ApplyBookingEvent(ctx, h.account, BookingEvent{
		Kind: BookingRecord, RecordID: "r-1", ClientPhone: "87771234567",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if got := h.leads.get(lead.ID).CumulativeSaleAmount; got != 100 {
		t.Fatalf("expected carried-over amount 100, got %v", got)
	}

	if _, err := h.svc.ApplyBookingEvent(ctx, h.account, BookingEvent{
		Kind: BookingTransaction, RecordID: "r-1", TransactionID: "t-2", Amount: 50,
	}); err != nil {
		t.Fatalf("second transaction: %v", err)
	}
	replay, err := h.svc.ApplyBookingEvent(ctx, h.account, BookingEvent{
		Kind: BookingTransaction, RecordID: "r-1", TransactionID: "t-2", Amount: 50,
	})
	if err != nil || !replay.Duplicate {
		t.Fatalf("expected duplicate, got %+v %v", replay, err)
	}

	got := h.leads.get(lead.ID)
	if got.CumulativeSaleAmount != 150 {
		t.Fatalf("expected 150, got %v", got.CumulativeSaleAmount)
	}
	if !got.IsQualified {
		t.Fatalf("record must qualify the lead")
	}
}

func TestBookingEventValidation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	cases := []BookingEvent{
		{Kind: BookingRecord},
		{Kind: BookingTransaction, RecordID: "r-1"},
		{Kind: "refund", RecordID: "r-1"},
	}
	for _, ev := range cases {
		if _, err := h.svc.ApplyBookingEvent(ctx, h.account, ev); !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("%+v: expected validation error, got %v", ev, err)
		}
	}
}

func TestReconcileKeepsBookingQualification(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.registry.add(h.account, salesPipeline, newStatus, false)
	lead := h.leads.add(h.account, "77771234567")
	stale := h.leads.get(lead.ID)

	if _, err := h.svc.ApplyBookingEvent(ctx, h.account, BookingEvent{
		Kind: BookingRecord, RecordID: "r-1", ClientPhone: "77771234567",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	// The reconcile read the lead before the booking landed.
	changed, err := h.svc.ReconcileLead(ctx, stale, crm.LeadSnapshot{ID: 5001, PipelineID: salesPipeline, StatusID: newStatus})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !changed {
		t.Fatalf("expected stage to be recorded")
	}
	got := h.leads.get(lead.ID)
	if !got.IsQualified || got.QualifiedSource != domain.QualifiedSourceBooking {
		t.Fatalf("booking qualification must survive an unqualified CRM stage, got %+v", got)
	}
	if got.CurrentStatusID == nil || *got.CurrentStatusID != newStatus {
		t.Fatalf("current stage must follow the CRM")
	}
}

func TestReconcileFollowsRegistryBothWays(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.registry.add(h.account, salesPipeline, crm.WonStatusID, true)
	h.registry.add(h.account, salesPipeline, newStatus, false)
	lead := h.leads.add(h.account, "77771234567")

	if _, err := h.svc.ReconcileLead(ctx, h.leads.get(lead.ID), crm.LeadSnapshot{ID: 1, PipelineID: salesPipeline, StatusID: crm.WonStatusID}); err != nil {
		t.Fatalf("reconcile won: %v", err)
	}
	if !h.leads.get(lead.ID).IsQualified {
		t.Fatalf("expected qualified at won stage")
	}

	if _, err := h.svc.ReconcileLead(ctx, h.leads.get(lead.ID), crm.LeadSnapshot{ID: 1, PipelineID: salesPipeline, StatusID: newStatus}); err != nil {
		t.Fatalf("reconcile back: %v", err)
	}
	got := h.leads.get(lead.ID)
	if got.IsQualified || got.QualifiedSource != domain.QualifiedSourceNone {
		t.Fatalf("expected CRM qualification to follow the stage back, got %+v", got)
	}
	if h.bus.count("qualification.lead.changed") != 2 {
		t.Fatalf("expected two qualification events, got %d", h.bus.count("qualification.lead.changed"))
	}

	// Unknown stages count as unqualified.
	changed, err := h.svc.ReconcileLead(ctx, h.leads.get(lead.ID), crm.LeadSnapshot{ID: 1, PipelineID: 99, StatusID: 99})
	if err != nil || !changed || h.leads.get(lead.ID).IsQualified {
		t.Fatalf("unknown stage: changed=%v err=%v", changed, err)
	}
}

func TestReconcileReportsConflictWhenWritesKeepLosing(t *testing.T) {
	h := newHarness()
	h.registry.add(h.account, salesPipeline, crm.WonStatusID, true)
	lead := h.leads.add(h.account, "77771234567")
	h.leads.rejectCRMWrites = true

	changed, err := h.svc.ReconcileLead(context.Background(), h.leads.get(lead.ID), crm.LeadSnapshot{ID: 1, PipelineID: salesPipeline, StatusID: crm.WonStatusID})
	if changed || !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected a conflict, got changed=%v err=%v", changed, err)
	}
	if h.bus.count("qualification.lead.changed") != 0 {
		t.Fatalf("no event may be published for an unapplied state")
	}
}

func TestKeyStagesStayReached(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	for i, status := range []int64{newStatus, meetingStatus, offerStatus} {
		h.registry.addOrdered(h.account, salesPipeline, status, (i+1)*10, false)
	}
	directionID := uuid.New()
	h.directions.stages[directionID] = domain.KeyStages{}

	if _, err := h.svc.ConfigureKeyStages(ctx, h.account, directionID, []domain.StageRef{
		{PipelineID: salesPipeline, StatusID: meetingStatus},
		{PipelineID: salesPipeline, StatusID: offerStatus},
	}); err != nil {
		t.Fatalf("configure: %v", err)
	}

	lead := h.leads.add(h.account, "77771234567")
	lead.DirectionID = &directionID

	observe := func(status int64) {
		t.Helper()
		if _, err := h.svc.ReconcileLead(ctx, h.leads.get(lead.ID), crm.LeadSnapshot{ID: 7, PipelineID: salesPipeline, StatusID: status}); err != nil {
			t.Fatalf("reconcile %d: %v", status, err)
		}
	}

	observe(meetingStatus)
	observe(newStatus)
	got := h.leads.get(lead.ID)
	if got.ReachedKeyStages != [domain.KeyStageSlots]bool{true, false, false} {
		t.Fatalf("expected first key stage to stay reached after moving back, got %v", got.ReachedKeyStages)
	}

	observe(offerStatus)
	got = h.leads.get(lead.ID)
	if got.ReachedKeyStages != [domain.KeyStageSlots]bool{true, true, false} {
		t.Fatalf("unexpected key stages %v", got.ReachedKeyStages)
	}
	if len(h.leads.history[lead.ID]) != 3 {
		t.Fatalf("expected three recorded stages, got %v", h.leads.history[lead.ID])
	}
}

func TestKeyStageSkippedBetweenSyncsCountsAsReached(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.registry.addOrdered(h.account, salesPipeline, newStatus, 10, false)
	h.registry.addOrdered(h.account, salesPipeline, meetingStatus, 20, false)
	h.registry.addOrdered(h.account, salesPipeline, crm.WonStatusID, 10000, true)
	h.registry.addOrdered(h.account, salesPipeline, crm.LostStatusID, 10000, false)
	directionID := uuid.New()
	h.directions.stages[directionID] = domain.KeyStages{{PipelineID: salesPipeline, StatusID: meetingStatus}}

	won := h.leads.add(h.account, "77770000010")
	won.DirectionID = &directionID
	lost := h.leads.add(h.account, "77770000011")
	lost.DirectionID = &directionID

	for _, lead := range []*repository.Lead{won, lost} {
		if _, err := h.svc.ReconcileLead(ctx, h.leads.get(lead.ID), crm.LeadSnapshot{ID: 1, PipelineID: salesPipeline, StatusID: newStatus}); err != nil {
			t.Fatalf("reconcile new: %v", err)
		}
	}

	// The deal went new -> meeting -> won between two syncs.
	if _, err := h.svc.ReconcileLead(ctx, h.leads.get(won.ID), crm.LeadSnapshot{ID: 1, PipelineID: salesPipeline, StatusID: crm.WonStatusID}); err != nil {
		t.Fatalf("reconcile won: %v", err)
	}
	if got := h.leads.get(won.ID); !got.ReachedKeyStages[0] {
		t.Fatalf("meeting key stage must count once the deal is past it, got %v", got.ReachedKeyStages)
	}

	if _, err := h.svc.ReconcileLead(ctx, h.leads.get(lost.ID), crm.LeadSnapshot{ID: 2, PipelineID: salesPipeline, StatusID: crm.LostStatusID}); err != nil {
		t.Fatalf("reconcile lost: %v", err)
	}
	if got := h.leads.get(lost.ID); got.ReachedKeyStages[0] {
		t.Fatalf("a lost deal must not count as passing the meeting, got %v", got.ReachedKeyStages)
	}
}

func TestConfigureKeyStagesRejectsUnknownStage(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.registry.add(h.account, salesPipeline, newStatus, false)
	directionID := uuid.New()
	h.directions.stages[directionID] = domain.KeyStages{}

	_, err := h.svc.ConfigureKeyStages(ctx, h.account, directionID, []domain.StageRef{
		{PipelineID: salesPipeline, StatusID: 404},
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "pipeline catalog sync") {
		t.Fatalf("error should tell the operator to sync the catalog: %v", err)
	}

	_, err = h.svc.ConfigureKeyStages(ctx, h.account, uuid.New(), []domain.StageRef{
		{PipelineID: salesPipeline, StatusID: newStatus},
	})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for unknown direction, got %v", err)
	}
}

func TestSyncAccountLeadsCountsOutcomes(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.registry.add(h.account, salesPipeline, crm.WonStatusID, true)

	byCRM := h.leads.add(h.account, "77770000001")
	byCRM.CRMLeadID = int64Ptr(1)
	byPhone := h.leads.add(h.account, "77770000002")
	h.leads.failFor[4] = true

	h.clients[h.account].leads = []crm.LeadSnapshot{
		{ID: 1, PipelineID: salesPipeline, StatusID: crm.WonStatusID},
		{ID: 2, PipelineID: salesPipeline, StatusID: crm.WonStatusID, Phones: []string{"+7 (777) 000-00-02"}},
		{ID: 3, PipelineID: salesPipeline, StatusID: crm.WonStatusID, Phones: []string{"+1 202 555 0100"}},
		{ID: 4, PipelineID: salesPipeline, StatusID: crm.WonStatusID},
	}

	res, err := h.svc.SyncAccountLeads(ctx, h.account)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Total != 4 || res.Updated != 2 || res.Unmatched != 1 || res.Errors != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := h.leads.get(byPhone.ID); got.CRMLeadID == nil || *got.CRMLeadID != 2 || !got.IsQualified {
		t.Fatalf("phone-matched lead not reconciled: %+v", got)
	}

	again, err := h.svc.SyncAccountLeads(ctx, h.account)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if again.Updated != 0 {
		t.Fatalf("second pass must change nothing, got %+v", again)
	}
}

func TestSyncAccountLeadsUsesNewestDealPerContact(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.registry.addOrdered(h.account, salesPipeline, newStatus, 10, false)
	h.registry.addOrdered(h.account, salesPipeline, meetingStatus, 20, false)
	h.registry.addOrdered(h.account, salesPipeline, crm.WonStatusID, 10000, true)
	h.registry.addOrdered(h.account, salesPipeline, crm.LostStatusID, 10000, false)
	directionID := uuid.New()
	h.directions.stages[directionID] = domain.KeyStages{{PipelineID: salesPipeline, StatusID: meetingStatus}}

	lead := h.leads.add(h.account, "77770000002")
	lead.DirectionID = &directionID
	now := time.Now()

	// Newest first, as the CRM returns them; deal 18 is the oldest and listed out of order.
	h.clients[h.account].leads = []crm.LeadSnapshot{
		{ID: 20, PipelineID: salesPipeline, StatusID: crm.WonStatusID, UpdatedAt: now, Phones: []string{"77770000002"}},
		{ID: 19, PipelineID: salesPipeline, StatusID: crm.LostStatusID, UpdatedAt: now.Add(-time.Hour), Phones: []string{"87770000002"}},
		{ID: 18, PipelineID: 77, StatusID: 770, UpdatedAt: now.Add(-48 * time.Hour), Phones: []string{"77770000002"}},
	}

	for pass := 1; pass <= 3; pass++ {
		res, err := h.svc.SyncAccountLeads(ctx, h.account)
		if err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		wantUpdated := 0
		if pass == 1 {
			wantUpdated = 1
		}
		if res.Total != 3 || res.Superseded != 2 || res.Updated != wantUpdated {
			t.Fatalf("pass %d: unexpected result %+v", pass, res)
		}

		got := h.leads.get(lead.ID)
		if got.CRMLeadID == nil || *got.CRMLeadID != 20 || got.CurrentStatusID == nil || *got.CurrentStatusID != crm.WonStatusID {
			t.Fatalf("pass %d: lead must follow the newest deal, got %+v", pass, got)
		}
		if !got.IsQualified || got.QualifiedSource != domain.QualifiedSourceCRM {
			t.Fatalf("pass %d: an older lost deal must not unqualify the lead", pass)
		}
		if !got.ReachedKeyStages[0] {
			t.Fatalf("pass %d: expected the key stage reached through the won deal", pass)
		}
	}

	history := h.leads.history[lead.ID]
	want := map[domain.StageRef]bool{
		{PipelineID: salesPipeline, StatusID: crm.WonStatusID}:  true,
		{PipelineID: salesPipeline, StatusID: crm.LostStatusID}: true,
		{PipelineID: 77, StatusID: 770}:                          true,
	}
	if len(history) != len(want) {
		t.Fatalf("expected every deal's stage in history once, got %v", history)
	}
	for _, st := range history {
		if !want[st] {
			t.Fatalf("unexpected history entry %v", st)
		}
	}
}

func TestSyncAccountLeadsUpstreamFailure(t *testing.T) {
	h := newHarness()
	h.clients[h.account].err = errors.New("timeout")
	_, err := h.svc.SyncAccountLeads(context.Background(), h.account)
	if !apperr.Is(err, apperr.KindUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestSyncAllAccountsContinuesPastFailures(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.registry.add(h.account, salesPipeline, crm.WonStatusID, true)
	lead := h.leads.add(h.account, "77770000001")
	h.clients[h.account].leads = []crm.LeadSnapshot{
		{ID: 1, PipelineID: salesPipeline, StatusID: crm.WonStatusID, Phones: []string{"77770000001"}},
	}

	broken := uuid.New()
	h.addAccount(broken).err = errors.New("crm down")

	err := h.svc.SyncAllAccounts(ctx)
	if err == nil || !strings.Contains(err.Error(), broken.String()) {
		t.Fatalf("expected the broken account in the joined error, got %v", err)
	}
	if !h.leads.get(lead.ID).IsQualified {
		t.Fatalf("healthy account must still sync")
	}
}
