package main

import (
	"context"
	"testing"
)

func sheetForSite(fileName, siteID, siteName, label string) ProcessedSheet {
	return ProcessedSheet{
		FileName: fileName,
		SiteID:   siteID,
		SiteName: siteName,
		Extraction: &ExtractionResult{
			SiteLabel:  label,
			Names:      []string{"John Smith"},
			Count:      1,
			Confidence: ConfidenceHigh,
		},
		Matches: RosterMatches{
			Matched: []MatchResult{{ExtractedName: "John Smith", Participant: Participant{ID: "p1", Name: "John Smith"}, Score: 1.0, Confidence: MatchExact}},
		},
	}
}

func TestReconcileBatchGuardMovesSheetToFailed(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)
	db := newTestDB(t)
	snap := baseSnapshot()

	guard, _ := store.Site("s1")
	result := BatchResult{
		Successful: []ProcessedSheet{
			sheetForSite("good.jpg", "s1", "Lot 1", "Lot 1"),
			sheetForSite("stray.jpg", "s2", "Lot 2", "Lot 2"),
		},
	}

	out := reconcileBatch(context.Background(), store, db, result, &guard, snap.Sites, "alex", false)

	if got := out.Total(); got != 2 {
		t.Fatalf("Total() = %d, want 2", got)
	}
	if len(out.Successful) != 1 || out.Successful[0].FileName != "good.jpg" {
		t.Errorf("Successful = %+v, want only good.jpg", out.Successful)
	}
	if len(out.Failed) != 1 || out.Failed[0].FileName != "stray.jpg" {
		t.Fatalf("Failed = %+v, want only stray.jpg", out.Failed)
	}

	// The rejected sheet must not touch its routed site.
	if site, _ := store.Site("s2"); site.AICountSet {
		t.Errorf("s2 = %+v, want untouched by rejected sheet", site)
	}

	// Audit rows only for kept sheets.
	inserted, err := RecordBatch(db, out, "alex")
	if err != nil {
		t.Fatalf("RecordBatch failed: %v", err)
	}
	if inserted != 1 {
		t.Errorf("inserted = %d, want 1 audit row", inserted)
	}
}

func TestReconcileBatchApplyFailureMovesSheetToFailed(t *testing.T) {
	remote := &fakeRemote{failNext: true}
	store := newTestStore(t, remote)
	db := newTestDB(t)
	snap := baseSnapshot()

	result := BatchResult{
		Successful: []ProcessedSheet{sheetForSite("sheet.jpg", "s1", "Lot 1", "Lot 1")},
	}

	out := reconcileBatch(context.Background(), store, db, result, nil, snap.Sites, "alex", false)

	if len(out.Successful) != 0 {
		t.Errorf("Successful = %+v, want empty after failed apply", out.Successful)
	}
	if len(out.Failed) != 1 || out.Failed[0].FileName != "sheet.jpg" {
		t.Errorf("Failed = %+v, want sheet.jpg", out.Failed)
	}
	if got := out.Total(); got != 1 {
		t.Errorf("Total() = %d, want 1", got)
	}
}

func TestReconcileBatchForceBypassesGuard(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)
	db := newTestDB(t)
	snap := baseSnapshot()

	guard, _ := store.Site("s1")
	result := BatchResult{
		Successful: []ProcessedSheet{sheetForSite("stray.jpg", "s2", "Lot 2", "Lot 2")},
	}

	out := reconcileBatch(context.Background(), store, db, result, &guard, snap.Sites, "alex", true)

	if len(out.Successful) != 1 || len(out.Failed) != 0 {
		t.Fatalf("result = %+v, want the sheet applied under -force", out)
	}
	site, _ := store.Site("s2")
	if !site.AICountSet || site.AICount != 1 {
		t.Errorf("s2 = %+v, want AI count applied", site)
	}
}
