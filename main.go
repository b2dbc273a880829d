package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
)

func main() {
	processDir := flag.String("process", "", "process the sheet images in this directory and exit")
	siteID := flag.String("site", "", "site ID the sheets belong to (single-upload guard, optional)")
	uploadedBy := flag.String("by", "", "operator name recorded on uploads")
	force := flag.Bool("force", false, "process even when the site already has an upload or the detected label mismatches")
	flag.Parse()

	cfg := LoadConfig()

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	remote := NewRemoteClient(cfg)
	store := NewStore(remote)
	notifier := NewNotifier(cfg)

	if *processDir != "" {
		if err := runBatch(cfg, remote, store, db, notifier, *processDir, *siteID, *uploadedBy, *force); err != nil {
			log.Fatalf("Batch failed: %v", err)
		}
		return
	}

	reconciler := &StateReconciler{}
	engine := StartSync(remote.FetchSnapshot, SyncOptions{
		Interval:     cfg.PollInterval(),
		Timeout:      cfg.PollTimeout(),
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff(),
		ShouldUpdate: reconciler.Changed,
		OnSuccess: func(snap *Snapshot, isManual bool) {
			reconciler.Apply(store, snap)
			if isManual {
				log.Println("Manual refresh applied")
			}
		},
		OnError: func(err error, isManual bool) {
			if insErr := InsertSyncEvent(db, "sync_error", err.Error(), 0); insErr != nil {
				log.Printf("Sync event insert error: %v", insErr)
			}
			if !isManual {
				notifier.SyncDegraded(SyncState{
					RetryCount: cfg.MaxRetries,
					LastError:  err.Error(),
				})
			}
		},
	})
	defer engine.Stop()

	StartResyncScheduler(cfg, engine, store, db, notifier)

	log.Printf("Starting sheet sync for %s...", cfg.EventName)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("Shutting down")
}

// runBatch loads the current remote state, runs every image in dir through
// the extraction pipeline, applies the outcomes, and records the audit
// trail. With -site set, a confidently mismatched detected label or an
// existing upload aborts unless -force is given.
func runBatch(cfg Config, remote *RemoteClient, store *Store, db *sql.DB, notifier *Notifier, dir, siteID, uploadedBy string, force bool) error {
	ctx := context.Background()

	snap, err := remote.FetchSnapshot(ctx, true)
	if err != nil {
		return fmt.Errorf("fetching state: %w", err)
	}
	store.ApplySnapshot(snap)

	var guard *Site
	if siteID != "" {
		site, ok := store.Site(siteID)
		if !ok {
			return fmt.Errorf("unknown site %q", siteID)
		}
		if !force && site.HasExistingUpload() {
			return fmt.Errorf("site %s already has an upload (count %d); re-run with -force to overwrite", siteID, site.DisplayCount())
		}
		guard = &site
	}

	images, err := loadSheetImages(dir)
	if err != nil {
		return err
	}
	log.Printf("Processing %d image(s) from %s", len(images), dir)

	pipeline := NewPipeline(cfg)
	if guard != nil {
		pipeline.SiteHint = guard.Name
	}
	result, err := pipeline.Process(ctx, images, snap.Participants, snap.Sites, func(pct int) {
		log.Printf("Batch progress: %d%%", pct)
	})
	if err != nil {
		return err
	}

	result = reconcileBatch(ctx, store, db, result, guard, snap.Sites, uploadedBy, force)

	if _, err := RecordBatch(db, result, uploadedBy); err != nil {
		log.Printf("Audit insert error: %v", err)
	}

	summary := FormatBatchSummary(result, uploadedBy)
	log.Printf("Batch complete: %s", summary)
	notifier.BatchProcessed(result, uploadedBy)
	return nil
}

// reconcileBatch applies each successful sheet to the store and repartitions
// the result: sheets the wrong-site guard rejects, and sheets whose apply
// fails, move from Successful to Failed. Every sheet ends up in exactly one
// partition. guard is the operator-selected site, nil when none was given.
func reconcileBatch(ctx context.Context, store *Store, db *sql.DB, result BatchResult, guard *Site, sites []Site, uploadedBy string, force bool) BatchResult {
	kept := make([]ProcessedSheet, 0, len(result.Successful))
	for _, sheet := range result.Successful {
		if guard != nil {
			v := ValidateSiteMatch(*guard, sheet.Extraction, sites)
			if v.ShouldWarn && !force {
				msg := fmt.Sprintf("detected label %q does not match site %s", sheet.Extraction.SiteLabel, guard.Name)
				if v.Suggested != nil {
					msg += fmt.Sprintf(" (looks like %s)", v.Suggested.Name)
				}
				result.Failed = append(result.Failed, FailedSheet{FileName: sheet.FileName, Message: msg + "; re-run with -force to accept"})
				continue
			}
		}
		if err := store.ApplyBatchOutcome(ctx, sheet, uploadedBy); err != nil {
			log.Printf("Apply failed for %s: %v", sheet.FileName, err)
			result.Failed = append(result.Failed, FailedSheet{FileName: sheet.FileName, Message: err.Error()})
			continue
		}
		for _, p := range provisionalsForSheet(store, sheet) {
			if err := InsertProvisional(db, p); err != nil {
				log.Printf("Provisional insert error: %v", err)
			}
		}
		kept = append(kept, sheet)
	}
	result.Successful = kept
	return result
}

// provisionalsForSheet returns the provisional entries the store minted for
// this sheet's unmatched names.
func provisionalsForSheet(store *Store, sheet ProcessedSheet) []Participant {
	wanted := make(map[string]bool, len(sheet.Matches.Unmatched))
	for _, name := range sheet.Matches.Unmatched {
		wanted[name] = true
	}
	var out []Participant
	for _, p := range store.Participants() {
		if p.Provisional && p.SiteID == sheet.SiteID && wanted[p.Name] {
			out = append(out, p)
		}
	}
	return out
}

func loadSheetImages(dir string) ([]SheetImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var images []SheetImage
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		mediaType := mime.TypeByExtension(ext)
		if !strings.HasPrefix(mediaType, "image/") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		images = append(images, SheetImage{
			FileName:  entry.Name(),
			MediaType: mediaType,
			Data:      data,
		})
	}
	sort.Slice(images, func(i, j int) bool { return images[i].FileName < images[j].FileName })
	if len(images) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	return images, nil
}
