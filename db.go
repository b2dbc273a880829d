package main

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS extractions (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		file_name       TEXT NOT NULL,
		site_id         TEXT DEFAULT '',
		site_label      TEXT DEFAULT '',
		zone_label      TEXT DEFAULT '',
		name_count      INTEGER NOT NULL,
		reported_count  INTEGER DEFAULT 0,
		illegible_count INTEGER DEFAULT 0,
		matched_count   INTEGER DEFAULT 0,
		unmatched_count INTEGER DEFAULT 0,
		confidence      TEXT DEFAULT '',
		notes           TEXT DEFAULT '',
		raw_response    TEXT DEFAULT '',
		uploaded_by     TEXT DEFAULT '',
		analyzed_at     DATETIME NOT NULL,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_extractions_site ON extractions(site_id);
	CREATE INDEX IF NOT EXISTS idx_extractions_date ON extractions(analyzed_at);

	CREATE TABLE IF NOT EXISTS provisional_participants (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		site_id       TEXT DEFAULT '',
		checked_in_at DATETIME,
		resolved_into TEXT DEFAULT '',
		resolved_at   DATETIME,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_provisional_site ON provisional_participants(site_id);

	CREATE TABLE IF NOT EXISTS sync_events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		kind        TEXT NOT NULL,
		detail      TEXT DEFAULT '',
		retry_count INTEGER DEFAULT 0,
		occurred_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sync_events_date ON sync_events(occurred_at);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}

	return db, nil
}

// ExtractionRecord is one row of the sheet-analysis audit trail.
type ExtractionRecord struct {
	ID             int64
	FileName       string
	SiteID         string
	SiteLabel      string
	ZoneLabel      string
	NameCount      int
	ReportedCount  int
	IllegibleCount int
	MatchedCount   int
	UnmatchedCount int
	Confidence     string
	Notes          string
	RawResponse    string
	UploadedBy     string
	AnalyzedAt     time.Time
}

func recordFromSheet(sheet ProcessedSheet, uploadedBy string) ExtractionRecord {
	return ExtractionRecord{
		FileName:       sheet.FileName,
		SiteID:         sheet.SiteID,
		SiteLabel:      sheet.Extraction.SiteLabel,
		ZoneLabel:      sheet.Extraction.ZoneLabel,
		NameCount:      sheet.Extraction.Count,
		ReportedCount:  sheet.Extraction.ReportedCount,
		IllegibleCount: len(sheet.Extraction.IllegibleNames),
		MatchedCount:   len(sheet.Matches.Matched),
		UnmatchedCount: len(sheet.Matches.Unmatched),
		Confidence:     string(sheet.Extraction.Confidence),
		Notes:          sheet.Extraction.Notes,
		RawResponse:    sheet.Extraction.RawResponse,
		UploadedBy:     uploadedBy,
		AnalyzedAt:     sheet.Extraction.AnalyzedAt,
	}
}

func InsertExtraction(db *sql.DB, rec ExtractionRecord) error {
	_, err := db.Exec(
		`INSERT INTO extractions (file_name, site_id, site_label, zone_label, name_count, reported_count,
		 illegible_count, matched_count, unmatched_count, confidence, notes, raw_response, uploaded_by, analyzed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FileName, rec.SiteID, rec.SiteLabel, rec.ZoneLabel, rec.NameCount, rec.ReportedCount,
		rec.IllegibleCount, rec.MatchedCount, rec.UnmatchedCount, rec.Confidence, rec.Notes,
		rec.RawResponse, rec.UploadedBy, rec.AnalyzedAt,
	)
	return err
}

// RecordBatch writes one audit row per processed sheet in a single
// transaction and returns how many were inserted.
func RecordBatch(db *sql.DB, result BatchResult, uploadedBy string) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO extractions (file_name, site_id, site_label, zone_label, name_count, reported_count,
		 illegible_count, matched_count, unmatched_count, confidence, notes, raw_response, uploaded_by, analyzed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, sheet := range result.Successful {
		rec := recordFromSheet(sheet, uploadedBy)
		_, err := stmt.Exec(
			rec.FileName, rec.SiteID, rec.SiteLabel, rec.ZoneLabel, rec.NameCount, rec.ReportedCount,
			rec.IllegibleCount, rec.MatchedCount, rec.UnmatchedCount, rec.Confidence, rec.Notes,
			rec.RawResponse, rec.UploadedBy, rec.AnalyzedAt,
		)
		if err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, tx.Commit()
}

func InsertProvisional(db *sql.DB, p Participant) error {
	_, err := db.Exec(
		`INSERT OR IGNORE INTO provisional_participants (id, name, site_id, checked_in_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.SiteID, p.CheckInTime,
	)
	return err
}

func ResolveProvisional(db *sql.DB, provisionalID, participantID string) error {
	_, err := db.Exec(
		`UPDATE provisional_participants SET resolved_into = ?, resolved_at = ? WHERE id = ?`,
		participantID, time.Now(), provisionalID,
	)
	return err
}

func UnresolvedProvisionalCount(db *sql.DB) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM provisional_participants WHERE resolved_into = ''`).Scan(&count)
	return count, err
}

func InsertSyncEvent(db *sql.DB, kind, detail string, retryCount int) error {
	_, err := db.Exec(
		`INSERT INTO sync_events (kind, detail, retry_count) VALUES (?, ?, ?)`,
		kind, detail, retryCount,
	)
	return err
}

// ExtractionStats aggregates the audit trail for operator summaries.
type ExtractionStats struct {
	Sheets        int
	Names         int
	Matched       int
	Unmatched     int
	Illegible     int
	LowConfidence int
	Sites         []string
}

func StatsSince(db *sql.DB, since time.Time) (ExtractionStats, error) {
	var st ExtractionStats
	err := db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(name_count), 0), COALESCE(SUM(matched_count), 0),
		 COALESCE(SUM(unmatched_count), 0), COALESCE(SUM(illegible_count), 0),
		 COALESCE(SUM(CASE WHEN confidence = 'low' THEN 1 ELSE 0 END), 0)
		 FROM extractions WHERE analyzed_at >= ?`, since,
	).Scan(&st.Sheets, &st.Names, &st.Matched, &st.Unmatched, &st.Illegible, &st.LowConfidence)
	if err != nil {
		return st, err
	}

	rows, err := db.Query(
		`SELECT DISTINCT site_id FROM extractions WHERE analyzed_at >= ? AND site_id != '' ORDER BY site_id`, since,
	)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return st, err
		}
		st.Sites = append(st.Sites, id)
	}
	return st, rows.Err()
}

// SiteHistory returns the audit rows for one site, newest first.
func SiteHistory(db *sql.DB, siteID string, limit int) ([]ExtractionRecord, error) {
	rows, err := db.Query(
		`SELECT id, file_name, site_id, site_label, zone_label, name_count, reported_count,
		 illegible_count, matched_count, unmatched_count, confidence, notes, uploaded_by, analyzed_at
		 FROM extractions WHERE site_id = ? ORDER BY analyzed_at DESC LIMIT ?`,
		siteID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExtractionRecord
	for rows.Next() {
		var rec ExtractionRecord
		if err := rows.Scan(
			&rec.ID, &rec.FileName, &rec.SiteID, &rec.SiteLabel, &rec.ZoneLabel, &rec.NameCount,
			&rec.ReportedCount, &rec.IllegibleCount, &rec.MatchedCount, &rec.UnmatchedCount,
			&rec.Confidence, &rec.Notes, &rec.UploadedBy, &rec.AnalyzedAt,
		); err != nil {
			return nil, err
		}
		rec.Notes = strings.TrimSpace(rec.Notes)
		out = append(out, rec)
	}
	return out, rows.Err()
}
