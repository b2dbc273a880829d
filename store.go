package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RemoteWriter is the write half of the remote API. Store edits go through it
// after mutating local state; a write error rolls the local change back.
type RemoteWriter interface {
	SubmitSiteStatus(ctx context.Context, siteID string, status SiteStatus, updatedBy string) error
	SubmitBulkStatus(ctx context.Context, siteIDs []string, status SiteStatus, updatedBy string) error
	SubmitSiteDetails(ctx context.Context, site Site) error
	SubmitSiteCount(ctx context.Context, site Site) error
	SubmitParticipantStatus(ctx context.Context, p Participant) error
	SubmitReconcile(ctx context.Context, provisionalID string, merged Participant) error
}

// Store holds the client-side view of sites and participants. All edits are
// optimistic: local state changes first, the remote write follows, and a
// failed write restores the saved copy. Snapshot application overwrites local
// state wholesale; in-flight optimistic edits lose to a fresher snapshot.
type Store struct {
	mu           sync.RWMutex
	sites        map[string]Site
	participants map[string]Participant
	remote       RemoteWriter
}

func NewStore(remote RemoteWriter) *Store {
	return &Store{
		sites:        make(map[string]Site),
		participants: make(map[string]Participant),
		remote:       remote,
	}
}

// ApplySnapshot replaces local state with the snapshot and recomputes each
// site's derived roster from participant assignments.
func (s *Store) ApplySnapshot(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sites = make(map[string]Site, len(snap.Sites))
	for _, site := range snap.Sites {
		site.AssignedParticipants = nil
		s.sites[site.ID] = site
	}
	s.participants = make(map[string]Participant, len(snap.Participants))
	for _, p := range snap.Participants {
		s.participants[p.ID] = p
	}
	s.recomputeRostersLocked()
}

func (s *Store) recomputeRostersLocked() {
	byID := make(map[string][]string)
	ids := make([]string, 0, len(s.participants))
	for id := range s.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := s.participants[id]
		if p.SiteID != "" {
			byID[p.SiteID] = append(byID[p.SiteID], p.ID)
		}
	}
	for id, site := range s.sites {
		site.AssignedParticipants = byID[id]
		s.sites[id] = site
	}
}

// Site returns a copy of the site, if present.
func (s *Store) Site(id string) (Site, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[id]
	return site, ok
}

// Sites returns all sites ordered by name.
func (s *Store) Sites() []Site {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Site, 0, len(s.sites))
	for _, site := range s.sites {
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Participant returns a copy of the participant, if present.
func (s *Store) Participant(id string) (Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	return p, ok
}

// Participants returns the full roster ordered by name.
func (s *Store) Participants() []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats summarizes attendance across the event.
type Stats struct {
	TotalSites     int
	CompleteSites  int
	NeedsHelpSites int
	TotalRoster    int
	CheckedIn      int
	Provisional    int
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Stats
	st.TotalSites = len(s.sites)
	for _, site := range s.sites {
		switch site.Status {
		case StatusComplete:
			st.CompleteSites++
		case StatusNeedsHelp:
			st.NeedsHelpSites++
		}
	}
	st.TotalRoster = len(s.participants)
	for _, p := range s.participants {
		if p.CheckedIn {
			st.CheckedIn++
		}
		if p.Provisional {
			st.Provisional++
		}
	}
	return st
}

// SetSiteStatus changes one site's status optimistically.
func (s *Store) SetSiteStatus(ctx context.Context, siteID string, status SiteStatus, updatedBy string) error {
	s.mu.Lock()
	prev, ok := s.sites[siteID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("set status: unknown site %q", siteID)
	}
	next := prev
	next.Status = status
	next.LastUpdated = time.Now()
	next.UpdatedBy = updatedBy
	s.sites[siteID] = next
	s.mu.Unlock()

	if err := s.remote.SubmitSiteStatus(ctx, siteID, status, updatedBy); err != nil {
		s.restoreSite(prev)
		return fmt.Errorf("set status for %s: %w", siteID, err)
	}
	return nil
}

// SetBulkStatus changes every listed site to the same status in one remote
// call. A failed write rolls back all of them.
func (s *Store) SetBulkStatus(ctx context.Context, siteIDs []string, status SiteStatus, updatedBy string) error {
	s.mu.Lock()
	saved := make([]Site, 0, len(siteIDs))
	for _, id := range siteIDs {
		prev, ok := s.sites[id]
		if !ok {
			for _, p := range saved {
				s.sites[p.ID] = p
			}
			s.mu.Unlock()
			return fmt.Errorf("bulk status: unknown site %q", id)
		}
		saved = append(saved, prev)
		next := prev
		next.Status = status
		next.LastUpdated = time.Now()
		next.UpdatedBy = updatedBy
		s.sites[id] = next
	}
	s.mu.Unlock()

	if err := s.remote.SubmitBulkStatus(ctx, siteIDs, status, updatedBy); err != nil {
		s.mu.Lock()
		for _, p := range saved {
			s.sites[p.ID] = p
		}
		s.mu.Unlock()
		return fmt.Errorf("bulk status: %w", err)
	}
	return nil
}

// OverrideSiteCount records a manual attendance count for a site. Manual
// counts win over AI counts for display and are flagged as such.
func (s *Store) OverrideSiteCount(ctx context.Context, siteID string, count int, updatedBy string) error {
	if count < 0 {
		return &ValidationError{Reason: "count cannot be negative"}
	}
	s.mu.Lock()
	prev, ok := s.sites[siteID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("override count: unknown site %q", siteID)
	}
	next := prev
	next.AICount = count
	next.AICountSet = true
	next.AIConfidence = ConfidenceManual
	next.CountSource = "manual"
	next.ManualOverrideCount = count
	next.LastUpdated = time.Now()
	next.UpdatedBy = updatedBy
	s.sites[siteID] = next
	s.mu.Unlock()

	if err := s.remote.SubmitSiteCount(ctx, next); err != nil {
		s.restoreSite(prev)
		return fmt.Errorf("override count for %s: %w", siteID, err)
	}
	return nil
}

// SetCheckedIn toggles a participant's attendance. Checking in stamps
// CheckInTime only when unset and assigns the participant to siteID when one
// is given. Checking out clears the site assignment but keeps the stamp as
// history.
func (s *Store) SetCheckedIn(ctx context.Context, participantID string, checkedIn bool, siteID string) error {
	s.mu.Lock()
	prev, ok := s.participants[participantID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("check-in: unknown participant %q", participantID)
	}
	next := prev
	next.CheckedIn = checkedIn
	if checkedIn {
		if next.CheckInTime.IsZero() {
			next.CheckInTime = time.Now()
		}
		if siteID != "" {
			next.SiteID = siteID
		}
	} else {
		next.SiteID = ""
	}
	s.participants[participantID] = next
	s.recomputeRostersLocked()
	s.mu.Unlock()

	if err := s.remote.SubmitParticipantStatus(ctx, next); err != nil {
		s.restoreParticipant(prev)
		return fmt.Errorf("check-in for %s: %w", participantID, err)
	}
	return nil
}

// SetSiteDetails updates a site's operator notes, stamping the edit. The
// status and attendance fields are untouched.
func (s *Store) SetSiteDetails(ctx context.Context, siteID, notes, updatedBy string) error {
	s.mu.Lock()
	prev, ok := s.sites[siteID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("set details: unknown site %q", siteID)
	}
	next := prev
	next.Notes = notes
	next.LastUpdated = time.Now()
	next.UpdatedBy = updatedBy
	s.sites[siteID] = next
	s.mu.Unlock()

	if err := s.remote.SubmitSiteDetails(ctx, next); err != nil {
		s.restoreSite(prev)
		return fmt.Errorf("set details for %s: %w", siteID, err)
	}
	return nil
}

// ApplyBatchOutcome folds one processed sheet into local state: matched
// participants are checked in at the sheet's site, unmatched names become
// provisional roster entries, and the site's attendance fields are updated
// from the extraction. Remote writes follow; failure restores everything the
// sheet touched.
func (s *Store) ApplyBatchOutcome(ctx context.Context, sheet ProcessedSheet, uploadedBy string) error {
	s.mu.Lock()
	prevSite, ok := s.sites[sheet.SiteID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("batch outcome: unknown site %q", sheet.SiteID)
	}

	now := time.Now()
	savedParticipants := make([]Participant, 0, len(sheet.Matches.Matched))
	touched := make([]Participant, 0, len(sheet.Matches.Matched))
	for _, m := range sheet.Matches.Matched {
		p, ok := s.participants[m.Participant.ID]
		if !ok {
			continue
		}
		savedParticipants = append(savedParticipants, p)
		p.CheckedIn = true
		if p.CheckInTime.IsZero() {
			p.CheckInTime = now
		}
		p.SiteID = sheet.SiteID
		s.participants[p.ID] = p
		touched = append(touched, p)
	}

	minted := make([]Participant, 0, len(sheet.Matches.Unmatched))
	for _, name := range sheet.Matches.Unmatched {
		p := Participant{
			ID:          uuid.NewString(),
			Name:        name,
			CheckedIn:   true,
			CheckInTime: now,
			SiteID:      sheet.SiteID,
			Provisional: true,
		}
		s.participants[p.ID] = p
		minted = append(minted, p)
	}

	nextSite := prevSite
	nextSite.AICount = sheet.Extraction.Count
	nextSite.AICountSet = true
	nextSite.AIConfidence = sheet.Extraction.Confidence
	nextSite.CountSource = "ai"
	nextSite.MatchedCount = len(sheet.Matches.Matched)
	nextSite.UnmatchedCount = len(sheet.Matches.Unmatched)
	nextSite.LastUpdated = now
	nextSite.UpdatedBy = uploadedBy
	s.sites[sheet.SiteID] = nextSite
	s.recomputeRostersLocked()
	s.mu.Unlock()

	rollback := func() {
		s.mu.Lock()
		s.sites[sheet.SiteID] = prevSite
		for _, p := range savedParticipants {
			s.participants[p.ID] = p
		}
		for _, p := range minted {
			delete(s.participants, p.ID)
		}
		s.recomputeRostersLocked()
		s.mu.Unlock()
	}

	if err := s.remote.SubmitSiteCount(ctx, nextSite); err != nil {
		rollback()
		return fmt.Errorf("batch outcome for %s: %w", sheet.SiteID, err)
	}
	for _, p := range append(touched, minted...) {
		if err := s.remote.SubmitParticipantStatus(ctx, p); err != nil {
			rollback()
			return fmt.Errorf("batch outcome for %s: %w", sheet.SiteID, err)
		}
	}
	log.Printf("batch outcome applied site=%s matched=%d unmatched=%d duplicates=%d",
		sheet.SiteID, len(sheet.Matches.Matched), len(sheet.Matches.Unmatched), len(sheet.Matches.Duplicates))
	return nil
}

// ReconcileProvisional merges a provisional entry into a real roster
// participant. The real participant inherits the provisional check-in, and
// the provisional entry is removed.
func (s *Store) ReconcileProvisional(ctx context.Context, provisionalID, participantID string) error {
	s.mu.Lock()
	prov, ok := s.participants[provisionalID]
	if !ok || !prov.Provisional {
		s.mu.Unlock()
		return fmt.Errorf("reconcile: %q is not a provisional participant", provisionalID)
	}
	prevReal, ok := s.participants[participantID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("reconcile: unknown participant %q", participantID)
	}
	merged := prevReal
	merged.CheckedIn = true
	if merged.CheckInTime.IsZero() {
		merged.CheckInTime = prov.CheckInTime
	}
	if merged.SiteID == "" {
		merged.SiteID = prov.SiteID
	}
	s.participants[participantID] = merged
	delete(s.participants, provisionalID)
	s.recomputeRostersLocked()
	s.mu.Unlock()

	if err := s.remote.SubmitReconcile(ctx, provisionalID, merged); err != nil {
		s.mu.Lock()
		s.participants[provisionalID] = prov
		s.participants[participantID] = prevReal
		s.recomputeRostersLocked()
		s.mu.Unlock()
		return fmt.Errorf("reconcile %s into %s: %w", provisionalID, participantID, err)
	}
	return nil
}

func (s *Store) restoreSite(site Site) {
	s.mu.Lock()
	s.sites[site.ID] = site
	s.mu.Unlock()
}

func (s *Store) restoreParticipant(p Participant) {
	s.mu.Lock()
	s.participants[p.ID] = p
	s.recomputeRostersLocked()
	s.mu.Unlock()
}
