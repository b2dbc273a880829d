package main

import "time"

// SiteStatus is the lifecycle of one work site during an event.
type SiteStatus string

const (
	StatusReady           SiteStatus = "ready"
	StatusInProgress      SiteStatus = "in-progress"
	StatusNeedsHelp       SiteStatus = "needs-help"
	StatusPendingApproval SiteStatus = "pending-approval"
	StatusComplete        SiteStatus = "complete"
)

// CountConfidence describes how much to trust an attendance count.
type CountConfidence string

const (
	ConfidenceHigh   CountConfidence = "high"
	ConfidenceMedium CountConfidence = "medium"
	ConfidenceLow    CountConfidence = "low"
	ConfidenceManual CountConfidence = "manual"
)

// Site is one physical work location tracked by the event.
type Site struct {
	ID   string
	Name string
	Zone string

	Status   SiteStatus
	Priority string
	Notes    string

	// Attendance fields. When AICountSet is true, AICount is authoritative
	// over the legacy SignedUpCount for display.
	SignedUpCount       int
	AICount             int
	AICountSet          bool
	AIConfidence        CountConfidence
	CountSource         string // "ai" or "manual"
	MatchedCount        int
	UnmatchedCount      int
	ManualOverrideCount int

	AssignedParticipants []string // participant IDs, derived from the roster

	LastUpdated time.Time
	UpdatedBy   string
}

// Participant is one roster entry. CheckInTime is historical: check-out
// flips CheckedIn but never clears it.
type Participant struct {
	ID          string
	Name        string
	Instrument  string
	Section     string
	Year        string
	CheckedIn   bool
	CheckInTime time.Time
	SiteID      string // assigned site, empty when unassigned
	Provisional bool   // minted from an unmatched sheet name
}

// Snapshot is a full point-in-time read of the remote store.
type Snapshot struct {
	Sites        []Site
	Participants []Participant
}

// ExtractionResult is the validated output of running one sheet image
// through the image-understanding service. Count is always derived from
// len(Names); the adapter's own tally is kept only for the audit trail.
type ExtractionResult struct {
	SiteLabel      string
	ZoneLabel      string
	Names          []string
	IllegibleNames []string
	Count          int
	ReportedCount  int
	Confidence     CountConfidence
	Notes          string
	RawResponse    string
	AnalyzedAt     time.Time
}

// MatchConfidence buckets a name-similarity score.
type MatchConfidence string

const (
	MatchExact   MatchConfidence = "exact"
	MatchHigh    MatchConfidence = "high"
	MatchMedium  MatchConfidence = "medium"
	MatchLow     MatchConfidence = "low"
	MatchVeryLow MatchConfidence = "very-low"
)

// MatchResult pairs an extracted name with the roster participant it
// resolved to.
type MatchResult struct {
	ExtractedName string
	Participant   Participant
	Score         float64
	Confidence    MatchConfidence
}

// RosterMatches is the outcome of matching one sheet's names against the
// roster. A participant appears in Matched at most once; a second extracted
// name resolving to an already-claimed participant lands in Duplicates.
type RosterMatches struct {
	Matched    []MatchResult
	Unmatched  []string
	Duplicates []MatchResult
	MatchRate  float64 // percent of extracted names matched, 0 when empty
}

// SheetImage is one uploaded sign-in sheet photo.
type SheetImage struct {
	FileName  string
	MediaType string
	Data      []byte
}

// ProcessedSheet is one successfully reconciled image.
type ProcessedSheet struct {
	FileName   string
	SiteID     string
	SiteName   string
	Extraction *ExtractionResult
	Matches    RosterMatches
}

// FailedSheet records why one image could not be processed.
type FailedSheet struct {
	FileName string
	Message  string
}

// BatchResult partitions a batch: every input image lands in exactly one of
// the two lists.
type BatchResult struct {
	Successful []ProcessedSheet
	Failed     []FailedSheet
}

// Total returns the number of images the batch accounted for.
func (b BatchResult) Total() int {
	return len(b.Successful) + len(b.Failed)
}

// SyncStatus is the engine's externally visible state.
type SyncStatus string

const (
	SyncActive SyncStatus = "active"
	SyncPaused SyncStatus = "paused"
	SyncError  SyncStatus = "error"
)

// SyncState is owned exclusively by the engine; callers get copies.
type SyncState struct {
	LastUpdated time.Time
	Status      SyncStatus
	RetryCount  int
	LastError   string
}

// DisplayCount returns the count shown for a site: the AI-derived count when
// present, otherwise the legacy sign-up count.
func (s Site) DisplayCount() int {
	if s.AICountSet {
		return s.AICount
	}
	return s.SignedUpCount
}

// HasExistingUpload reports whether a sheet was already processed for this
// site, used to warn before overwriting an earlier upload.
func (s Site) HasExistingUpload() bool {
	return s.AICountSet
}
