package main

import (
	"database/sql"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// StartResyncScheduler starts a cron-based scheduler that forces a
// cache-bypassing refresh and posts an attendance digest.
// The schedule is a standard 5-field cron expression (minute hour day-of-month month day-of-week).
// Examples: "*/30 * * * *" (every 30 minutes), "0 8-18 * * 6" (hourly on Saturday daytime).
func StartResyncScheduler(cfg Config, engine *SyncEngine, store *Store, db *sql.DB, notifier *Notifier) {
	schedule := strings.TrimSpace(cfg.ResyncSchedule)
	if schedule == "" {
		log.Println("Scheduled resync disabled (resync_schedule not set)")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid resync_schedule '%s': %v — scheduled resync disabled", schedule, err)
		return
	}
	log.Printf("Scheduled resync enabled (cron: %s)", schedule)

	go func() {
		for {
			now := time.Now().In(cfg.Location)
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next resync at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)

			engine.Refresh()

			stats := store.Stats()
			since := time.Now().Add(-24 * time.Hour)
			audit, statsErr := StatsSince(db, since)
			if statsErr != nil {
				log.Printf("Resync stats error: %v", statsErr)
			}
			if insErr := InsertSyncEvent(db, "resync", schedule, engine.State().RetryCount); insErr != nil {
				log.Printf("Resync event insert error: %v", insErr)
			}

			log.Printf("Resync complete: checked_in=%d/%d sheets_24h=%d", stats.CheckedIn, stats.TotalRoster, audit.Sheets)
			notifier.ResyncSummary(stats, audit)
		}
	}()
}
