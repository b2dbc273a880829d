package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

const externalHTTPTimeout = 30 * time.Second

var externalHTTPClient = &http.Client{
	Timeout: externalHTTPTimeout,
}

const (
	fetchAttempts  = 3
	fetchBaseDelay = 500 * time.Millisecond
)

// RemoteClient talks to the shared event store over its action-based HTTP
// API. Reads go through a short bounded retry loop for transient failures;
// writes are single-shot, since the store layer above handles rollback.
type RemoteClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewRemoteClient(cfg Config) *RemoteClient {
	return &RemoteClient{
		baseURL: cfg.RemoteBaseURL,
		apiKey:  cfg.RemoteAPIKey,
		client:  externalHTTPClient,
	}
}

// Wire shapes for the action API. Application-level failures come back as a
// 200 with an error field set.
type remoteEnvelope struct {
	Error        string            `json:"error,omitempty"`
	Sites        []wireSite        `json:"sites,omitempty"`
	Participants []wireParticipant `json:"participants,omitempty"`
}

type wireSite struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Zone                string `json:"zone,omitempty"`
	Status              string `json:"status"`
	Priority            string `json:"priority,omitempty"`
	Notes               string `json:"notes,omitempty"`
	SignedUpCount       int    `json:"signedUpCount"`
	AICount             *int   `json:"aiCount,omitempty"`
	AIConfidence        string `json:"aiConfidence,omitempty"`
	CountSource         string `json:"countSource,omitempty"`
	MatchedCount        int    `json:"matchedCount,omitempty"`
	UnmatchedCount      int    `json:"unmatchedCount,omitempty"`
	ManualOverrideCount int    `json:"manualOverrideCount,omitempty"`
	LastUpdated         string `json:"lastUpdated,omitempty"`
	UpdatedBy           string `json:"updatedBy,omitempty"`
}

type wireParticipant struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Instrument  string `json:"instrument,omitempty"`
	Section     string `json:"section,omitempty"`
	Year        string `json:"year,omitempty"`
	CheckedIn   bool   `json:"checkedIn"`
	CheckInTime string `json:"checkInTime,omitempty"`
	SiteID      string `json:"siteId,omitempty"`
	Provisional bool   `json:"provisional,omitempty"`
}

// FetchSnapshot reads the full remote state. bypassCache adds a cache-buster
// so an intermediary cannot serve a stale copy, used for manual refreshes.
func (c *RemoteClient) FetchSnapshot(ctx context.Context, bypassCache bool) (*Snapshot, error) {
	q := url.Values{}
	q.Set("action", "getState")
	q.Set("apiKey", c.apiKey)
	if bypassCache {
		q.Set("nocache", fmt.Sprintf("%d", time.Now().UnixNano()))
	}
	fetchURL := c.baseURL + "?" + q.Encode()

	var lastErr *SyncFetchError
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			delay := fetchBaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ClassifySyncError(ctx.Err())
			}
			log.Printf("snapshot fetch retry attempt=%d err=%v", attempt+1, lastErr)
		}

		snap, err := c.fetchOnce(ctx, fetchURL)
		if err == nil {
			return snap, nil
		}
		lastErr = ClassifySyncError(err)
		if !lastErr.Retryable() {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (c *RemoteClient) fetchOnce(ctx context.Context, fetchURL string) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &SyncFetchError{Kind: SyncHTTP, StatusCode: resp.StatusCode}
	}

	var env remoteEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &SyncFetchError{Kind: SyncRemote, Err: fmt.Errorf("decoding state: %w", err)}
	}
	if env.Error != "" {
		return nil, &SyncFetchError{Kind: SyncRemote, Err: fmt.Errorf("remote store: %s", env.Error)}
	}
	return decodeSnapshot(&env), nil
}

func decodeSnapshot(env *remoteEnvelope) *Snapshot {
	snap := &Snapshot{
		Sites:        make([]Site, 0, len(env.Sites)),
		Participants: make([]Participant, 0, len(env.Participants)),
	}
	for _, w := range env.Sites {
		site := Site{
			ID:                  w.ID,
			Name:                w.Name,
			Zone:                w.Zone,
			Status:              SiteStatus(w.Status),
			Priority:            w.Priority,
			Notes:               w.Notes,
			SignedUpCount:       w.SignedUpCount,
			AIConfidence:        CountConfidence(w.AIConfidence),
			CountSource:         w.CountSource,
			MatchedCount:        w.MatchedCount,
			UnmatchedCount:      w.UnmatchedCount,
			ManualOverrideCount: w.ManualOverrideCount,
			UpdatedBy:           w.UpdatedBy,
		}
		if w.AICount != nil {
			site.AICount = *w.AICount
			site.AICountSet = true
		}
		if t, err := time.Parse(time.RFC3339, w.LastUpdated); err == nil {
			site.LastUpdated = t
		}
		snap.Sites = append(snap.Sites, site)
	}
	for _, w := range env.Participants {
		p := Participant{
			ID:          w.ID,
			Name:        w.Name,
			Instrument:  w.Instrument,
			Section:     w.Section,
			Year:        w.Year,
			CheckedIn:   w.CheckedIn,
			SiteID:      w.SiteID,
			Provisional: w.Provisional,
		}
		if t, err := time.Parse(time.RFC3339, w.CheckInTime); err == nil {
			p.CheckInTime = t
		}
		snap.Participants = append(snap.Participants, p)
	}
	return snap
}

// post sends one action to the store and surfaces application-level errors.
func (c *RemoteClient) post(ctx context.Context, payload map[string]any) error {
	payload["apiKey"] = c.apiKey
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return ClassifySyncError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &SyncFetchError{Kind: SyncHTTP, StatusCode: resp.StatusCode}
	}
	var env remoteEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &SyncFetchError{Kind: SyncRemote, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if env.Error != "" {
		return &SyncFetchError{Kind: SyncRemote, Err: fmt.Errorf("remote store: %s", env.Error)}
	}
	return nil
}

func (c *RemoteClient) SubmitSiteStatus(ctx context.Context, siteID string, status SiteStatus, updatedBy string) error {
	return c.post(ctx, map[string]any{
		"action":    "updateSiteStatus",
		"siteId":    siteID,
		"status":    string(status),
		"updatedBy": updatedBy,
	})
}

func (c *RemoteClient) SubmitBulkStatus(ctx context.Context, siteIDs []string, status SiteStatus, updatedBy string) error {
	return c.post(ctx, map[string]any{
		"action":    "bulkUpdateStatus",
		"siteIds":   siteIDs,
		"status":    string(status),
		"updatedBy": updatedBy,
	})
}

func (c *RemoteClient) SubmitSiteDetails(ctx context.Context, site Site) error {
	return c.post(ctx, map[string]any{
		"action":    "updateSiteDetails",
		"siteId":    site.ID,
		"notes":     site.Notes,
		"updatedBy": site.UpdatedBy,
	})
}

func (c *RemoteClient) SubmitSiteCount(ctx context.Context, site Site) error {
	return c.post(ctx, map[string]any{
		"action":         "updateSiteCount",
		"siteId":         site.ID,
		"aiCount":        site.AICount,
		"aiConfidence":   string(site.AIConfidence),
		"countSource":    site.CountSource,
		"matchedCount":   site.MatchedCount,
		"unmatchedCount": site.UnmatchedCount,
		"updatedBy":      site.UpdatedBy,
	})
}

func (c *RemoteClient) SubmitParticipantStatus(ctx context.Context, p Participant) error {
	payload := map[string]any{
		"action":        "updateParticipant",
		"participantId": p.ID,
		"name":          p.Name,
		"checkedIn":     p.CheckedIn,
		"siteId":        p.SiteID,
		"provisional":   p.Provisional,
	}
	if !p.CheckInTime.IsZero() {
		payload["checkInTime"] = p.CheckInTime.Format(time.RFC3339)
	}
	return c.post(ctx, payload)
}

func (c *RemoteClient) SubmitReconcile(ctx context.Context, provisionalID string, merged Participant) error {
	return c.post(ctx, map[string]any{
		"action":        "reconcileParticipant",
		"provisionalId": provisionalID,
		"participantId": merged.ID,
		"checkedIn":     merged.CheckedIn,
		"siteId":        merged.SiteID,
	})
}
