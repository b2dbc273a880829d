package main

import "testing"

func TestNormalizeSiteName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Lot 3", "3"},
		{"Parking Lot 12", "12"},
		{"PL 7", "7"},
		{"Lot 3: Library Lot", "3 library lot"},
		{"  Site  9 ", "9"},
		{"Library", "library"},
	}
	for _, tt := range tests {
		if got := normalizeSiteName(tt.in); got != tt.want {
			t.Errorf("normalizeSiteName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractSiteNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Lot 48", "48"},
		{"Lot 3: Library Lot", "3"},
		{"Library", ""},
		{"Zone B Lot 12", "12"},
	}
	for _, tt := range tests {
		if got := extractSiteNumber(tt.in); got != tt.want {
			t.Errorf("extractSiteNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCompareSiteNames(t *testing.T) {
	tests := []struct {
		name       string
		site       Site
		label      string
		zone       string
		matches    bool
		confidence CountConfidence
	}{
		{"exact", Site{Name: "Lot 3"}, "Lot 3", "", true, ConfidenceHigh},
		{"prefix variant", Site{Name: "Parking Lot 3"}, "Lot 3", "", true, ConfidenceHigh},
		{"shared number", Site{Name: "Lot 3: Library Lot"}, "Lot 3", "", true, ConfidenceHigh},
		{"zone only", Site{Name: "Library Lot", Zone: "Zone B"}, "somewhere", "B", true, ConfidenceMedium},
		{"substring", Site{Name: "Library Lot"}, "Library", "", true, ConfidenceMedium},
		{"confident mismatch", Site{Name: "Lot 3"}, "Lot 17", "", false, ConfidenceHigh},
		{"no label", Site{Name: "Lot 3"}, "", "", false, ConfidenceLow},
		{"no expected name", Site{}, "Lot 3", "", false, ConfidenceLow},
	}
	for _, tt := range tests {
		got := CompareSiteNames(tt.site, tt.label, tt.zone)
		if got.Matches != tt.matches || got.Confidence != tt.confidence {
			t.Errorf("%s: CompareSiteNames = matches=%v confidence=%s (%s), want matches=%v confidence=%s",
				tt.name, got.Matches, got.Confidence, got.Reason, tt.matches, tt.confidence)
		}
	}
}

func TestFindMatchingSitePicksBestTier(t *testing.T) {
	sites := []Site{
		{ID: "s1", Name: "Lot 1"},
		{ID: "s2", Name: "Lot 3: Library Lot", Zone: "Zone B"},
		{ID: "s3", Name: "Lot 17"},
	}

	got := FindMatchingSite("Lot 3", "", sites)
	if got == nil || got.ID != "s2" {
		t.Fatalf("FindMatchingSite(Lot 3) = %+v, want s2", got)
	}

	// Same inputs, same answer.
	again := FindMatchingSite("Lot 3", "", sites)
	if again == nil || again.ID != got.ID {
		t.Errorf("repeated lookup returned %+v, want %s", again, got.ID)
	}
}

func TestFindMatchingSiteNoMatch(t *testing.T) {
	sites := []Site{{ID: "s1", Name: "Lot 1"}}
	if got := FindMatchingSite("Lot 99", "", sites); got != nil {
		t.Errorf("expected nil, got %s", got.ID)
	}
	if got := FindMatchingSite("", "", sites); got != nil {
		t.Errorf("expected nil for empty label, got %s", got.ID)
	}
}

func TestValidateSiteMatchWarnsOnConfidentMismatch(t *testing.T) {
	sites := []Site{
		{ID: "s1", Name: "Lot 3"},
		{ID: "s2", Name: "Lot 17"},
	}
	extraction := &ExtractionResult{SiteLabel: "Lot 17"}

	got := ValidateSiteMatch(sites[0], extraction, sites)
	if got.IsValid {
		t.Fatal("expected mismatch verdict")
	}
	if !got.ShouldWarn {
		t.Error("expected ShouldWarn on a confident mismatch")
	}
	if got.Suggested == nil || got.Suggested.ID != "s2" {
		t.Errorf("Suggested = %+v, want s2", got.Suggested)
	}
}

func TestValidateSiteMatchNoWarnWhenLabelMissing(t *testing.T) {
	sites := []Site{{ID: "s1", Name: "Lot 3"}}
	extraction := &ExtractionResult{SiteLabel: ""}

	got := ValidateSiteMatch(sites[0], extraction, sites)
	if got.IsValid {
		t.Fatal("expected invalid verdict for missing label")
	}
	if got.ShouldWarn {
		t.Error("missing label is a low-confidence mismatch, not a warning")
	}
	if got.Suggested != nil {
		t.Errorf("Suggested = %+v, want nil", got.Suggested)
	}
}
