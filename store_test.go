package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeRemote records writes and fails on demand.
type fakeRemote struct {
	failNext  bool
	failAfter int // fail once this many writes have gone through; 0 disables
	writes    []string
}

func (f *fakeRemote) submit(action string) error {
	if f.failNext {
		f.failNext = false
		return errors.New("remote write failed")
	}
	if f.failAfter > 0 && len(f.writes) >= f.failAfter {
		return errors.New("remote write failed")
	}
	f.writes = append(f.writes, action)
	return nil
}

func (f *fakeRemote) SubmitSiteStatus(ctx context.Context, siteID string, status SiteStatus, updatedBy string) error {
	return f.submit("status:" + siteID)
}

func (f *fakeRemote) SubmitBulkStatus(ctx context.Context, siteIDs []string, status SiteStatus, updatedBy string) error {
	return f.submit("bulk")
}

func (f *fakeRemote) SubmitSiteDetails(ctx context.Context, site Site) error {
	return f.submit("details:" + site.ID)
}

func (f *fakeRemote) SubmitSiteCount(ctx context.Context, site Site) error {
	return f.submit("count:" + site.ID)
}

func (f *fakeRemote) SubmitParticipantStatus(ctx context.Context, p Participant) error {
	return f.submit("participant:" + p.Name)
}

func (f *fakeRemote) SubmitReconcile(ctx context.Context, provisionalID string, merged Participant) error {
	return f.submit("reconcile:" + merged.ID)
}

func newTestStore(t *testing.T, remote *fakeRemote) *Store {
	t.Helper()
	store := NewStore(remote)
	store.ApplySnapshot(baseSnapshot())
	return store
}

func TestSetSiteStatusOptimistic(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)

	if err := store.SetSiteStatus(context.Background(), "s1", StatusComplete, "alex"); err != nil {
		t.Fatalf("SetSiteStatus failed: %v", err)
	}
	site, _ := store.Site("s1")
	if site.Status != StatusComplete || site.UpdatedBy != "alex" {
		t.Errorf("site = %+v, want complete by alex", site)
	}
	if len(remote.writes) != 1 || remote.writes[0] != "status:s1" {
		t.Errorf("writes = %v, want [status:s1]", remote.writes)
	}
}

func TestSetSiteStatusRollsBackOnFailure(t *testing.T) {
	remote := &fakeRemote{failNext: true}
	store := newTestStore(t, remote)

	if err := store.SetSiteStatus(context.Background(), "s1", StatusComplete, "alex"); err == nil {
		t.Fatal("expected error from failed write")
	}
	site, _ := store.Site("s1")
	if site.Status != StatusReady {
		t.Errorf("status = %s, want rollback to %s", site.Status, StatusReady)
	}
	if site.UpdatedBy != "" {
		t.Errorf("UpdatedBy = %q, want rollback to empty", site.UpdatedBy)
	}
}

func TestSetBulkStatusRollsBackAll(t *testing.T) {
	remote := &fakeRemote{failNext: true}
	store := newTestStore(t, remote)

	err := store.SetBulkStatus(context.Background(), []string{"s1", "s2"}, StatusComplete, "alex")
	if err == nil {
		t.Fatal("expected error from failed write")
	}
	for _, id := range []string{"s1", "s2"} {
		site, _ := store.Site(id)
		if site.Status == StatusComplete {
			t.Errorf("%s left in complete after rollback", id)
		}
	}
}

func TestSetBulkStatusUnknownSite(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)

	if err := store.SetBulkStatus(context.Background(), []string{"s1", "nope"}, StatusComplete, "alex"); err == nil {
		t.Fatal("expected error for unknown site")
	}
	site, _ := store.Site("s1")
	if site.Status != StatusReady {
		t.Errorf("s1 status = %s, want untouched", site.Status)
	}
	if len(remote.writes) != 0 {
		t.Errorf("writes = %v, want none", remote.writes)
	}
}

func TestOverrideSiteCount(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)

	if err := store.OverrideSiteCount(context.Background(), "s1", 7, "alex"); err != nil {
		t.Fatalf("OverrideSiteCount failed: %v", err)
	}
	site, _ := store.Site("s1")
	if site.DisplayCount() != 7 {
		t.Errorf("DisplayCount = %d, want 7", site.DisplayCount())
	}
	if site.AIConfidence != ConfidenceManual || site.CountSource != "manual" {
		t.Errorf("site = %+v, want manual provenance", site)
	}

	if err := store.OverrideSiteCount(context.Background(), "s1", -1, "alex"); err == nil {
		t.Error("expected validation error for negative count")
	}
}

func TestSetCheckedInPreservesCheckInTime(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)
	ctx := context.Background()

	if err := store.SetCheckedIn(ctx, "p1", true, "s1"); err != nil {
		t.Fatalf("check-in failed: %v", err)
	}
	p, _ := store.Participant("p1")
	if !p.CheckedIn || p.CheckInTime.IsZero() {
		t.Fatalf("participant = %+v, want checked in with stamp", p)
	}
	stamp := p.CheckInTime

	if err := store.SetCheckedIn(ctx, "p1", false, ""); err != nil {
		t.Fatalf("check-out failed: %v", err)
	}
	p, _ = store.Participant("p1")
	if p.CheckedIn {
		t.Error("still checked in after check-out")
	}
	if !p.CheckInTime.Equal(stamp) {
		t.Errorf("CheckInTime = %v, want the original stamp %v kept", p.CheckInTime, stamp)
	}
	if p.SiteID != "" {
		t.Errorf("SiteID = %q, want cleared on check-out", p.SiteID)
	}
	if site, _ := store.Site("s1"); len(site.AssignedParticipants) != 0 {
		t.Errorf("s1 roster = %v, want empty after check-out", site.AssignedParticipants)
	}

	// Re-check-in keeps the first stamp too.
	if err := store.SetCheckedIn(ctx, "p1", true, "s1"); err != nil {
		t.Fatalf("re-check-in failed: %v", err)
	}
	p, _ = store.Participant("p1")
	if !p.CheckInTime.Equal(stamp) {
		t.Errorf("CheckInTime = %v, want %v after re-check-in", p.CheckInTime, stamp)
	}
}

func TestSetCheckedInRollsBack(t *testing.T) {
	remote := &fakeRemote{failNext: true}
	store := newTestStore(t, remote)

	if err := store.SetCheckedIn(context.Background(), "p1", true, "s1"); err == nil {
		t.Fatal("expected error from failed write")
	}
	p, _ := store.Participant("p1")
	if p.CheckedIn || !p.CheckInTime.IsZero() {
		t.Errorf("participant = %+v, want rollback to unchecked", p)
	}
}

func TestSetSiteDetailsOptimistic(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)

	if err := store.SetSiteDetails(context.Background(), "s1", "gate blocked by debris", "alex"); err != nil {
		t.Fatalf("set details failed: %v", err)
	}
	site, _ := store.Site("s1")
	if site.Notes != "gate blocked by debris" || site.UpdatedBy != "alex" {
		t.Errorf("site = %+v, want notes and editor recorded", site)
	}
	if len(remote.writes) != 1 || remote.writes[0] != "details:s1" {
		t.Errorf("writes = %v, want [details:s1]", remote.writes)
	}
}

func TestSetSiteDetailsRollsBack(t *testing.T) {
	remote := &fakeRemote{failNext: true}
	store := newTestStore(t, remote)

	if err := store.SetSiteDetails(context.Background(), "s1", "new note", "alex"); err == nil {
		t.Fatal("expected error from failed write")
	}
	site, _ := store.Site("s1")
	if site.Notes != "" || site.UpdatedBy != "" {
		t.Errorf("site = %+v, want rollback to prior details", site)
	}
}

func testProcessedSheet() ProcessedSheet {
	return ProcessedSheet{
		FileName: "sheet-00.jpg",
		SiteID:   "s1",
		SiteName: "Lot 1",
		Extraction: &ExtractionResult{
			SiteLabel:  "Lot 1",
			Names:      []string{"John Smith", "New Volunteer"},
			Count:      2,
			Confidence: ConfidenceHigh,
			AnalyzedAt: time.Now(),
		},
		Matches: RosterMatches{
			Matched: []MatchResult{
				{ExtractedName: "John Smith", Participant: Participant{ID: "p1", Name: "John Smith"}, Score: 1.0, Confidence: MatchExact},
			},
			Unmatched: []string{"New Volunteer"},
			MatchRate: 50,
		},
	}
}

func TestApplyBatchOutcome(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)

	if err := store.ApplyBatchOutcome(context.Background(), testProcessedSheet(), "alex"); err != nil {
		t.Fatalf("ApplyBatchOutcome failed: %v", err)
	}

	site, _ := store.Site("s1")
	if !site.AICountSet || site.AICount != 2 {
		t.Errorf("site count = %+v, want AI count 2", site)
	}
	if site.MatchedCount != 1 || site.UnmatchedCount != 1 {
		t.Errorf("matched/unmatched = %d/%d, want 1/1", site.MatchedCount, site.UnmatchedCount)
	}
	if site.CountSource != "ai" {
		t.Errorf("CountSource = %q, want ai", site.CountSource)
	}

	p, _ := store.Participant("p1")
	if !p.CheckedIn || p.SiteID != "s1" {
		t.Errorf("matched participant = %+v, want checked in at s1", p)
	}

	var provisional *Participant
	for _, cand := range store.Participants() {
		if cand.Provisional {
			provisional = &cand
			break
		}
	}
	if provisional == nil {
		t.Fatal("no provisional participant minted for the unmatched name")
	}
	if provisional.Name != "New Volunteer" || !provisional.CheckedIn || provisional.SiteID != "s1" {
		t.Errorf("provisional = %+v, want checked in at s1 under the extracted name", provisional)
	}
	if provisional.ID == "" {
		t.Error("provisional has no generated ID")
	}
}

func TestApplyBatchOutcomeRollsBackEverything(t *testing.T) {
	remote := &fakeRemote{failAfter: 1} // site count goes through, first participant write fails
	store := newTestStore(t, remote)

	if err := store.ApplyBatchOutcome(context.Background(), testProcessedSheet(), "alex"); err == nil {
		t.Fatal("expected error from failed write")
	}

	site, _ := store.Site("s1")
	if site.AICountSet {
		t.Errorf("site = %+v, want AI count rolled back", site)
	}
	p, _ := store.Participant("p1")
	if p.CheckedIn {
		t.Error("matched participant left checked in after rollback")
	}
	for _, cand := range store.Participants() {
		if cand.Provisional {
			t.Errorf("provisional %s survived rollback", cand.Name)
		}
	}
}

func TestReconcileProvisional(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)
	ctx := context.Background()

	if err := store.ApplyBatchOutcome(ctx, testProcessedSheet(), "alex"); err != nil {
		t.Fatalf("ApplyBatchOutcome failed: %v", err)
	}
	var provID string
	var provStamp time.Time
	for _, cand := range store.Participants() {
		if cand.Provisional {
			provID = cand.ID
			provStamp = cand.CheckInTime
		}
	}
	if provID == "" {
		t.Fatal("no provisional to reconcile")
	}

	// p2 is on the roster but was not matched on the sheet.
	if err := store.ReconcileProvisional(ctx, provID, "p2"); err != nil {
		t.Fatalf("ReconcileProvisional failed: %v", err)
	}

	if _, ok := store.Participant(provID); ok {
		t.Error("provisional entry still present after reconcile")
	}
	p, _ := store.Participant("p2")
	if !p.CheckedIn {
		t.Error("target participant not checked in")
	}
	if p.CheckInTime.IsZero() || !p.CheckInTime.Equal(provStamp) {
		t.Errorf("CheckInTime = %v, want inherited %v", p.CheckInTime, provStamp)
	}
}

func TestReconcileProvisionalRejectsNonProvisional(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)

	if err := store.ReconcileProvisional(context.Background(), "p1", "p2"); err == nil {
		t.Error("expected error when source is not provisional")
	}
}

func TestReconcileProvisionalRollsBack(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)
	ctx := context.Background()

	if err := store.ApplyBatchOutcome(ctx, testProcessedSheet(), "alex"); err != nil {
		t.Fatalf("ApplyBatchOutcome failed: %v", err)
	}
	var provID string
	for _, cand := range store.Participants() {
		if cand.Provisional {
			provID = cand.ID
		}
	}

	remote.failNext = true
	if err := store.ReconcileProvisional(ctx, provID, "p2"); err == nil {
		t.Fatal("expected error from failed write")
	}
	if _, ok := store.Participant(provID); !ok {
		t.Error("provisional entry lost after failed reconcile")
	}
	p, _ := store.Participant("p2")
	if !p.CheckInTime.IsZero() {
		t.Errorf("p2 stamp = %v, want untouched zero value", p.CheckInTime)
	}
}

func TestSnapshotOverwritesOptimisticState(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)
	ctx := context.Background()

	if err := store.SetSiteStatus(ctx, "s1", StatusComplete, "alex"); err != nil {
		t.Fatalf("SetSiteStatus failed: %v", err)
	}

	// A fresher snapshot wins over local edits.
	store.ApplySnapshot(baseSnapshot())
	site, _ := store.Site("s1")
	if site.Status != StatusReady {
		t.Errorf("status = %s, want snapshot value %s", site.Status, StatusReady)
	}
}

func TestStoreStats(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)

	if err := store.ApplyBatchOutcome(context.Background(), testProcessedSheet(), "alex"); err != nil {
		t.Fatalf("ApplyBatchOutcome failed: %v", err)
	}
	if err := store.SetSiteStatus(context.Background(), "s2", StatusNeedsHelp, "alex"); err != nil {
		t.Fatalf("SetSiteStatus failed: %v", err)
	}

	got := store.Stats()
	if got.TotalSites != 2 || got.NeedsHelpSites != 1 {
		t.Errorf("site stats = %+v", got)
	}
	// p1 and the minted provisional are checked in; p2 arrived checked in
	// from the snapshot.
	if got.CheckedIn != 3 {
		t.Errorf("CheckedIn = %d, want 3", got.CheckedIn)
	}
	if got.Provisional != 1 {
		t.Errorf("Provisional = %d, want 1", got.Provisional)
	}
	if got.TotalRoster != 3 {
		t.Errorf("TotalRoster = %d, want 3", got.TotalRoster)
	}
}
