package main

import (
	"fmt"
	"regexp"
	"strings"
)

// Site identification from free-text sheet headers. Labels come back from
// the adapter in whatever form the sheet used ("Lot 3", "zone B / lot 3",
// "Library"), so comparison runs through ordered tiers against the
// canonical site record.

var (
	sitePrefixPattern    = regexp.MustCompile(`(?i)^(parking lot|lot|site|pl)\s*`)
	siteSpecialPattern   = regexp.MustCompile(`[^a-z0-9\s]`)
	zonePrefixPattern    = regexp.MustCompile(`(?i)^zone\s*`)
	zoneSpecialPattern   = regexp.MustCompile(`[^a-z0-9]`)
	siteNumberPattern    = regexp.MustCompile(`\b(\d+)\b`)
	siteSuffixLotPattern = regexp.MustCompile(`\s*lot\s*$`)
)

func normalizeSiteName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = sitePrefixPattern.ReplaceAllString(s, "")
	s = siteSpecialPattern.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	return s
}

func normalizeZone(zone string) string {
	s := strings.ToLower(strings.TrimSpace(zone))
	s = zonePrefixPattern.ReplaceAllString(s, "")
	s = zoneSpecialPattern.ReplaceAllString(s, "")
	return s
}

// extractSiteNumber pulls the first standalone numeric token, e.g.
// "Lot 48" -> "48"; "Library" -> "".
func extractSiteNumber(name string) string {
	m := siteNumberPattern.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return m[1]
}

// SiteComparison is the verdict of comparing one detected label against one
// expected site. When Matches is false, Confidence describes how certain the
// mismatch verdict is, not a match.
type SiteComparison struct {
	Matches    bool
	Confidence CountConfidence
	Reason     string
}

// CompareSiteNames checks a detected sheet label (and optional zone) against
// the expected site. Tiers in order, first hit wins: exact normalized name,
// shared numeric token, zone equality, substring containment, generated
// name variants.
func CompareSiteNames(expected Site, detectedLabel, detectedZone string) SiteComparison {
	if strings.TrimSpace(expected.Name) == "" {
		return SiteComparison{Matches: false, Confidence: ConfidenceLow, Reason: "expected site name is missing"}
	}
	if strings.TrimSpace(detectedLabel) == "" {
		return SiteComparison{Matches: false, Confidence: ConfidenceLow, Reason: "no site label detected on sheet"}
	}

	expectedName := normalizeSiteName(expected.Name)
	detectedName := normalizeSiteName(detectedLabel)
	expectedZone := normalizeZone(expected.Zone)
	detectedZoneNorm := normalizeZone(detectedZone)

	if expectedName == detectedName {
		return SiteComparison{Matches: true, Confidence: ConfidenceHigh, Reason: "exact site name match"}
	}

	expectedNumber := extractSiteNumber(expected.Name)
	detectedNumber := extractSiteNumber(detectedLabel)
	if expectedNumber != "" && detectedNumber != "" && expectedNumber == detectedNumber {
		return SiteComparison{Matches: true, Confidence: ConfidenceHigh, Reason: "site number match (" + expectedNumber + ")"}
	}

	if expectedZone != "" && detectedZoneNorm != "" && expectedZone == detectedZoneNorm {
		return SiteComparison{Matches: true, Confidence: ConfidenceMedium, Reason: "zone match (" + expected.Zone + ")"}
	}

	if strings.Contains(expectedName, detectedName) || strings.Contains(detectedName, expectedName) {
		return SiteComparison{Matches: true, Confidence: ConfidenceMedium, Reason: "partial site name match"}
	}

	// Common write-in variants of the expected name: type-word suffix
	// stripped, bare number, first word alone.
	variants := []string{
		strings.TrimSpace(siteSuffixLotPattern.ReplaceAllString(expectedName, "")),
		expectedNumber,
	}
	if fields := strings.Fields(expectedName); len(fields) > 0 {
		variants = append(variants, fields[0])
	}
	for _, v := range variants {
		if v == "" {
			continue
		}
		if strings.Contains(detectedName, v) || strings.Contains(v, detectedName) {
			return SiteComparison{Matches: true, Confidence: ConfidenceMedium, Reason: "fuzzy site name match"}
		}
	}

	return SiteComparison{
		Matches:    false,
		Confidence: ConfidenceHigh,
		Reason:     fmt.Sprintf("site label mismatch: expected %q, detected %q", expected.Name, detectedLabel),
	}
}

// FindMatchingSite scores every candidate and returns the best, or nil when
// nothing matches. Candidate sets are small (tens of sites) so a linear scan
// per image is fine.
func FindMatchingSite(detectedLabel, detectedZone string, sites []Site) *Site {
	var best *Site
	bestScore := 0

	for i := range sites {
		comparison := CompareSiteNames(sites[i], detectedLabel, detectedZone)
		score := 0
		if comparison.Matches {
			switch comparison.Confidence {
			case ConfidenceHigh:
				score = 3
			case ConfidenceMedium:
				score = 2
			default:
				score = 1
			}
		}
		if score > bestScore {
			bestScore = score
			best = &sites[i]
		}
	}
	return best
}

// SiteMatchValidation is the single-upload guard result: whether the
// detected label agrees with the operator-selected site, and if not, which
// site it looks like instead.
type SiteMatchValidation struct {
	IsValid       bool
	Confidence    CountConfidence
	Reason        string
	DetectedLabel string
	DetectedZone  string
	Suggested     *Site
	ShouldWarn    bool
}

// ValidateSiteMatch checks an extraction against the site the operator
// selected. ShouldWarn fires only on a confident mismatch; the caller keeps
// an explicit override path.
func ValidateSiteMatch(expected Site, extraction *ExtractionResult, sites []Site) SiteMatchValidation {
	comparison := CompareSiteNames(expected, extraction.SiteLabel, extraction.ZoneLabel)

	var suggested *Site
	if !comparison.Matches && extraction.SiteLabel != "" {
		suggested = FindMatchingSite(extraction.SiteLabel, extraction.ZoneLabel, sites)
	}

	return SiteMatchValidation{
		IsValid:       comparison.Matches,
		Confidence:    comparison.Confidence,
		Reason:        comparison.Reason,
		DetectedLabel: extraction.SiteLabel,
		DetectedZone:  extraction.ZoneLabel,
		Suggested:     suggested,
		ShouldWarn:    !comparison.Matches && comparison.Confidence == ConfidenceHigh,
	}
}
