package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
)

// Pipeline turns a batch of uploaded sheet images into a partitioned
// success/failure result. Images are processed strictly in order and one at
// a time: the adapter is rate-limited and parallel calls trip its quota.
type Pipeline struct {
	Analyze       AnalyzeFunc
	Threshold     float64
	MaxImages     int
	MaxImageBytes int

	// SiteHint is passed to the adapter when the operator pre-selected a
	// site, steering label detection on messy handwriting.
	SiteHint string
}

// NewPipeline wires the live adapter with the configured limits.
func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{
		Analyze:       NewAnalyzer(cfg),
		Threshold:     cfg.MatchThreshold,
		MaxImages:     cfg.MaxBatchSize,
		MaxImageBytes: cfg.MaxImageBytes,
	}
}

// Process reconciles every image against the roster and site list. A single
// image's failure is captured in the result and never aborts the batch; the
// returned error is reserved for invariant violations that make the whole
// batch meaningless. len(Successful)+len(Failed) always equals len(images).
// onProgress, when non-nil, receives the percentage complete after each
// image, in order and monotonically increasing.
func (p *Pipeline) Process(ctx context.Context, images []SheetImage, roster []Participant, sites []Site, onProgress func(percent int)) (BatchResult, error) {
	var result BatchResult

	if len(images) == 0 {
		return result, errors.New("pipeline: no images to process")
	}
	if len(roster) == 0 {
		return result, errors.New("pipeline: roster is empty")
	}
	if len(sites) == 0 {
		return result, errors.New("pipeline: site list is empty")
	}
	if p.MaxImages > 0 && len(images) > p.MaxImages {
		return result, fmt.Errorf("pipeline: %d images exceeds the batch limit of %d", len(images), p.MaxImages)
	}

	threshold := p.Threshold
	if threshold == 0 {
		threshold = DefaultMatchThreshold
	}

	total := len(images)
	for i, img := range images {
		sheet, err := p.processOne(ctx, img, roster, sites, threshold)
		if err != nil {
			log.Printf("pipeline image=%s failed: %v", img.FileName, err)
			result.Failed = append(result.Failed, FailedSheet{
				FileName: img.FileName,
				Message:  failureMessage(err),
			})
		} else {
			log.Printf("pipeline image=%s site=%s names=%d matched=%d unmatched=%d duplicates=%d",
				img.FileName, sheet.SiteName, sheet.Extraction.Count,
				len(sheet.Matches.Matched), len(sheet.Matches.Unmatched), len(sheet.Matches.Duplicates))
			result.Successful = append(result.Successful, *sheet)
		}

		if onProgress != nil {
			onProgress((i + 1) * 100 / total)
		}
	}

	return result, nil
}

func (p *Pipeline) processOne(ctx context.Context, img SheetImage, roster []Participant, sites []Site, threshold float64) (*ProcessedSheet, error) {
	if err := ValidateSheetImage(img, p.MaxImageBytes); err != nil {
		return nil, err
	}

	extraction, err := p.Analyze(ctx, img, p.SiteHint)
	if err != nil {
		return nil, err
	}

	site := FindMatchingSite(extraction.SiteLabel, extraction.ZoneLabel, sites)
	if site == nil {
		return nil, &MatchRoutingError{
			DetectedLabel: extraction.SiteLabel,
			DetectedZone:  extraction.ZoneLabel,
		}
	}

	matches := MatchAllNames(extraction.Names, weightRosterForSite(roster, site.ID), threshold)

	return &ProcessedSheet{
		FileName:   img.FileName,
		SiteID:     site.ID,
		SiteName:   site.Name,
		Extraction: extraction,
		Matches:    matches,
	}, nil
}

// weightRosterForSite orders the roster so participants assigned to the
// routed site are scanned first. Matching still runs against everyone
// (walk-ins from other sites do happen), but equal-score ties resolve
// toward the site's own roster.
func weightRosterForSite(roster []Participant, siteID string) []Participant {
	weighted := make([]Participant, len(roster))
	copy(weighted, roster)
	sort.SliceStable(weighted, func(i, j int) bool {
		return weighted[i].SiteID == siteID && weighted[j].SiteID != siteID
	})
	return weighted
}

// failureMessage renders the per-image operator-facing line for the failed
// partition of a batch.
func failureMessage(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.UserMessage()
	}
	var re *MatchRoutingError
	if errors.As(err, &re) {
		return re.Error()
	}
	return err.Error()
}
