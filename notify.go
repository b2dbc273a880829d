package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/slack-go/slack"
)

// Notifier posts operator-facing updates to Slack. A nil Notifier (no token
// configured) silently drops everything, so callers never branch.
type Notifier struct {
	api     *slack.Client
	channel string
	event   string
}

func NewNotifier(cfg Config) *Notifier {
	if !cfg.SlackConfigured() {
		return nil
	}
	return &Notifier{
		api:     slack.New(cfg.SlackBotToken),
		channel: cfg.SlackChannelID,
		event:   cfg.EventName,
	}
}

func (n *Notifier) post(text string) {
	if n == nil {
		return
	}
	_, _, err := n.api.PostMessage(n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("slack post error: %v", err)
	}
}

// BatchProcessed announces the outcome of a sheet batch.
func (n *Notifier) BatchProcessed(result BatchResult, uploadedBy string) {
	n.post(FormatBatchSummary(result, uploadedBy))
}

// SyncDegraded alerts that polling has given up after repeated failures.
func (n *Notifier) SyncDegraded(state SyncState) {
	n.post(fmt.Sprintf("Sync with the %s store is failing after %d retries: %s",
		n.eventName(), state.RetryCount, state.LastError))
}

// ResyncSummary posts the scheduled attendance digest.
func (n *Notifier) ResyncSummary(stats Stats, audit ExtractionStats) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s attendance: %d/%d checked in across %d sites (%d complete, %d need help).",
		n.eventName(), stats.CheckedIn, stats.TotalRoster, stats.TotalSites,
		stats.CompleteSites, stats.NeedsHelpSites)
	if audit.Sheets > 0 {
		fmt.Fprintf(&b, "\nSheets processed: %d covering %d names (%d matched, %d unmatched, %d illegible).",
			audit.Sheets, audit.Names, audit.Matched, audit.Unmatched, audit.Illegible)
	}
	if audit.LowConfidence > 0 {
		fmt.Fprintf(&b, "\n%d low-confidence extraction(s) may need manual review.", audit.LowConfidence)
	}
	if stats.Provisional > 0 {
		fmt.Fprintf(&b, "\n%d provisional participant(s) awaiting roster reconciliation.", stats.Provisional)
	}
	n.post(b.String())
}

func (n *Notifier) eventName() string {
	if n == nil || n.event == "" {
		return "event"
	}
	return n.event
}

// FormatBatchSummary returns a human-readable summary of a batch run.
func FormatBatchSummary(result BatchResult, uploadedBy string) string {
	if result.Total() == 0 {
		return "No sheets were processed."
	}
	if len(result.Successful) == 0 {
		lines := make([]string, 0, len(result.Failed))
		for _, f := range result.Failed {
			lines = append(lines, fmt.Sprintf("%s: %s", f.FileName, f.Message))
		}
		return fmt.Sprintf("All %d sheet(s) failed:\n%s", len(result.Failed), strings.Join(lines, "\n"))
	}

	names, matched, unmatched := 0, 0, 0
	sites := make([]string, 0, len(result.Successful))
	for _, s := range result.Successful {
		names += s.Extraction.Count
		matched += len(s.Matches.Matched)
		unmatched += len(s.Matches.Unmatched)
		sites = append(sites, s.SiteName)
	}

	msg := fmt.Sprintf("Processed %d of %d sheet(s) for %s: %d names, %d matched, %d unmatched.",
		len(result.Successful), result.Total(), strings.Join(sites, ", "), names, matched, unmatched)
	if uploadedBy != "" {
		msg += fmt.Sprintf(" Uploaded by %s.", uploadedBy)
	}
	if len(result.Failed) > 0 {
		lines := make([]string, 0, len(result.Failed))
		for _, f := range result.Failed {
			lines = append(lines, fmt.Sprintf("%s: %s", f.FileName, f.Message))
		}
		msg += fmt.Sprintf("\nFailures:\n%s", strings.Join(lines, "\n"))
	}
	return msg
}
