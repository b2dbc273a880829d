package main

import (
	"regexp"
	"strings"
)

// Fuzzy matching for handwritten participant names. Sheets arrive with both
// "Last, First" and "First Last" orderings, dropped letters, and initials,
// so scoring runs through ordered tiers rather than a single edit distance.

var nameSuffixPattern = regexp.MustCompile(`(?i)\s+(jr\.?|sr\.?|iii?|iv|v)$`)

type normalizedName struct {
	Full       string
	First      string
	Last       string
	Normalized string // always "first last"
}

func normalizeName(name string) normalizedName {
	cleaned := strings.ToLower(strings.TrimSpace(name))
	cleaned = nameSuffixPattern.ReplaceAllString(cleaned, "")
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	var first, last string
	if strings.Contains(cleaned, ",") {
		parts := strings.SplitN(cleaned, ",", 2)
		last = strings.TrimSpace(parts[0])
		first = strings.TrimSpace(parts[1])
	} else {
		parts := strings.Fields(cleaned)
		switch {
		case len(parts) >= 2:
			first = parts[0]
			last = parts[len(parts)-1]
		case len(parts) == 1:
			last = parts[0]
		}
	}

	var normParts []string
	if first != "" {
		normParts = append(normParts, first)
	}
	if last != "" {
		normParts = append(normParts, last)
	}

	return normalizedName{
		Full:       cleaned,
		First:      first,
		Last:       last,
		Normalized: strings.Join(normParts, " "),
	}
}

func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func levenshteinSimilarity(a, b string) float64 {
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

// NameSimilarity scores two names in [0,1]. Tiers, highest first: identical
// normalized forms, exact first+last, last exact with first-initial match,
// last exact with fuzzy first (and the symmetric case), whole-string edit
// distance above 0.8, and the initial-for-full-name case ("j smith" vs
// "john smith").
func NameSimilarity(a, b string) float64 {
	na := normalizeName(a)
	nb := normalizeName(b)

	if na.Normalized == "" || nb.Normalized == "" {
		return 0
	}
	if na.Normalized == nb.Normalized {
		return 1.0
	}

	lastMatch := na.Last != "" && nb.Last != "" && na.Last == nb.Last
	firstMatch := na.First != "" && nb.First != "" && na.First == nb.First

	if lastMatch && firstMatch {
		return 1.0
	}

	if lastMatch && len(na.First) > 1 && len(nb.First) > 1 {
		if na.First[0] == nb.First[0] {
			return 0.9
		}
		if levenshteinSimilarity(na.First, nb.First) > 0.7 {
			return 0.85
		}
	}

	if firstMatch && na.Last != "" && nb.Last != "" {
		if levenshteinSimilarity(na.Last, nb.Last) > 0.7 {
			return 0.85
		}
	}

	fullSimilarity := levenshteinSimilarity(na.Normalized, nb.Normalized)
	if fullSimilarity > 0.8 {
		return fullSimilarity
	}

	// Single-letter first name written for a full one, e.g. "J. Smith".
	if na.Last == nb.Last && na.First != "" && nb.First != "" {
		if len(na.First) == 1 && nb.First[0] == na.First[0] {
			return 0.75
		}
		if len(nb.First) == 1 && na.First[0] == nb.First[0] {
			return 0.75
		}
	}

	return fullSimilarity
}

func matchConfidence(score float64) MatchConfidence {
	switch {
	case score >= 0.95:
		return MatchExact
	case score >= 0.85:
		return MatchHigh
	case score >= 0.75:
		return MatchMedium
	case score >= 0.7:
		return MatchLow
	}
	return MatchVeryLow
}

// DefaultMatchThreshold is the minimum similarity accepted as a roster match.
const DefaultMatchThreshold = 0.7

// FindBestMatch returns the roster participant with the highest similarity
// at or above threshold, or nil. Ties keep the first-encountered entry so
// repeated runs on the same roster are stable.
func FindBestMatch(extractedName string, roster []Participant, threshold float64) *MatchResult {
	if strings.TrimSpace(extractedName) == "" || len(roster) == 0 {
		return nil
	}

	var best *MatchResult
	bestScore := 0.0
	for i := range roster {
		score := NameSimilarity(extractedName, roster[i].Name)
		if score > bestScore && score >= threshold {
			bestScore = score
			best = &MatchResult{
				ExtractedName: extractedName,
				Participant:   roster[i],
				Score:         score,
				Confidence:    matchConfidence(score),
			}
		}
	}
	return best
}

// MatchAllNames matches every extracted name against the roster. Each
// participant is claimed at most once: a later name resolving to a claimed
// participant is routed to Duplicates rather than overwriting or dropping.
// Unmatched names are returned verbatim for manual reconciliation.
func MatchAllNames(extractedNames []string, roster []Participant, threshold float64) RosterMatches {
	out := RosterMatches{
		Matched:    []MatchResult{},
		Unmatched:  []string{},
		Duplicates: []MatchResult{},
	}

	claimed := make(map[string]bool)
	for _, name := range extractedNames {
		match := FindBestMatch(name, roster, threshold)
		if match == nil {
			out.Unmatched = append(out.Unmatched, name)
			continue
		}
		if claimed[match.Participant.ID] {
			out.Duplicates = append(out.Duplicates, *match)
			continue
		}
		claimed[match.Participant.ID] = true
		out.Matched = append(out.Matched, *match)
	}

	if len(extractedNames) > 0 {
		out.MatchRate = float64(len(out.Matched)) / float64(len(extractedNames)) * 100
	}
	return out
}
