package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"

// anomalousNameCount marks an extraction as needing manual verification;
// no single sheet holds more signatures than this.
const anomalousNameCount = 50

// adapterResponse is the raw wire shape the model is asked to produce.
// Names and illegible entries use RawMessage because models occasionally
// drop or mistype the arrays; coercion happens in parseExtractionResponse.
type adapterResponse struct {
	StudentCount   *float64        `json:"studentCount"`
	StudentNames   json.RawMessage `json:"studentNames"`
	IllegibleNames json.RawMessage `json:"illegibleNames"`
	LotIdentified  string          `json:"lotIdentified"`
	ZoneIdentified string          `json:"zoneIdentified"`
	Confidence     string          `json:"confidence"`
	Notes          string          `json:"notes"`
}

// AnalyzeFunc is the pipeline's view of the adapter so tests can stub it.
type AnalyzeFunc func(ctx context.Context, img SheetImage, siteHint string) (*ExtractionResult, error)

// ValidateSheetImage enforces the input contract before any network call.
func ValidateSheetImage(img SheetImage, maxBytes int) error {
	if len(img.Data) == 0 {
		return &ValidationError{Reason: "no image data provided"}
	}
	if !strings.HasPrefix(img.MediaType, "image/") {
		return &ValidationError{Reason: fmt.Sprintf("unsupported media type %q, expected an image", img.MediaType)}
	}
	if maxBytes > 0 && len(img.Data) > maxBytes {
		return &ValidationError{Reason: fmt.Sprintf("image is %d bytes, limit is %d", len(img.Data), maxBytes)}
	}
	return nil
}

// AnalyzeSignInSheet sends one sheet photo to the vision model and returns a
// validated extraction. The adapter's own tally is recorded but never
// trusted: Count is re-derived from the names list.
func AnalyzeSignInSheet(ctx context.Context, cfg Config, img SheetImage, siteHint string) (*ExtractionResult, error) {
	if err := ValidateSheetImage(img, cfg.MaxImageBytes); err != nil {
		return nil, err
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey))

	encoded := base64.StdEncoding.EncodeToString(img.Data)
	prompt := buildExtractionPrompt(siteHint)

	log.Printf("extract image=%s bytes=%d model=%s site_hint=%q", img.FileName, len(img.Data), cfg.AnthropicModel, siteHint)

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.AnthropicModel),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(img.MediaType, encoded),
				anthropic.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		classified := ClassifyExtractionError(err)
		log.Printf("extract error image=%s kind=%s err=%v", img.FileName, classified.Kind, err)
		return nil, classified
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, &ExtractionError{Kind: ExtractMalformed, Err: fmt.Errorf("no text content in model response")}
	}

	result, err := parseExtractionResponse(text)
	if err != nil {
		return nil, err
	}
	log.Printf("extract done image=%s site_label=%q names=%d reported=%d confidence=%s",
		img.FileName, result.SiteLabel, result.Count, result.ReportedCount, result.Confidence)
	return result, nil
}

// NewAnalyzer binds the config into the pipeline-facing function type.
func NewAnalyzer(cfg Config) AnalyzeFunc {
	return func(ctx context.Context, img SheetImage, siteHint string) (*ExtractionResult, error) {
		return AnalyzeSignInSheet(ctx, cfg, img, siteHint)
	}
}

func buildExtractionPrompt(siteHint string) string {
	hintLine := ""
	if siteHint != "" {
		hintLine = fmt.Sprintf("\nThe sheet is expected to belong to the site %q; note in your response if the header disagrees.\n", siteHint)
	}

	return fmt.Sprintf(`You are reading a photographed paper sign-in sheet for a work site at a cleanup event.
Participants hand-write their names and check-in times.
%s
TASK:
1. Extract the FULL NAME of each participant who signed in (has an entry in the name column)
2. Count the total number of participants who signed in
3. Read the site identification in the header (zone, site number, site name, address)
4. Note the image quality and any issues

EXTRACTION RULES:
- Extract the complete name as written ("Smith, John" or "John Smith"), preserving the written order
- Only extract rows where a name is clearly written; ignore empty and header rows
- Include participants regardless of whether they have a time-out entry
- Skip names that are crossed out or marked invalid
- If handwriting is unclear but mostly readable, include the name and mention it in notes
- Scribbles that might be names go in illegibleNames, not studentNames

Respond ONLY with valid JSON in this exact format:
{
  "studentCount": <number of participants who signed in>,
  "studentNames": ["Name as written", ...],
  "illegibleNames": ["partial name or description of illegible entry", ...],
  "lotIdentified": "<site name/number found on sheet>",
  "zoneIdentified": "<zone found on sheet, if any>",
  "confidence": "high|medium|low",
  "notes": "<observations about sheet quality, issues, or discrepancies>"
}

CONFIDENCE:
- "high": image clear, all names legible, site header readable
- "medium": acceptable image, most names legible, minor issues
- "low": blurry, hard to read, or site header missing/contradictory`, hintLine)
}

// parseExtractionResponse validates and repairs the model's JSON. The
// adapter is an occasionally-unreliable oracle: names may be missing or the
// tally may disagree with the list, and both cases are annotated rather
// than trusted.
func parseExtractionResponse(responseText string) (*ExtractionResult, error) {
	text := strings.TrimSpace(responseText)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	// Models sometimes pad the JSON with prose; take the outermost object.
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var raw adapterResponse
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, &ExtractionError{Kind: ExtractMalformed,
			Err: fmt.Errorf("parsing extraction response: %w (response: %s)", err, truncateForLog(responseText, 512))}
	}

	if raw.StudentCount == nil {
		return nil, &ExtractionError{Kind: ExtractMalformed,
			Err: fmt.Errorf("extraction response missing numeric studentCount")}
	}
	reported := int(*raw.StudentCount)
	if reported < 0 {
		return nil, &ExtractionError{Kind: ExtractMalformed,
			Err: fmt.Errorf("extraction response has negative studentCount %d", reported)}
	}

	notes := strings.TrimSpace(raw.Notes)
	names, ok := coerceStringList(raw.StudentNames)
	if !ok {
		log.Printf("extract warning: studentNames missing or not an array, defaulting to empty")
		notes = appendNote(notes, "Adapter returned no readable name list.")
		names = []string{}
	}
	illegible, _ := coerceStringList(raw.IllegibleNames)
	if illegible == nil {
		illegible = []string{}
	}

	confidence := CountConfidence(strings.ToLower(strings.TrimSpace(raw.Confidence)))
	switch confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		confidence = ConfidenceLow
	}

	// The names list is authoritative; adapters are known to mis-tally.
	count := len(names)
	if count != reported {
		notes = appendNote(notes, fmt.Sprintf("Count discrepancy: adapter reported %d, extracted %d names.", reported, count))
	}
	if count > anomalousNameCount {
		notes = appendNote(notes, "Unusually high participant count. Please verify manually.")
		confidence = ConfidenceLow
	}

	return &ExtractionResult{
		SiteLabel:      strings.TrimSpace(raw.LotIdentified),
		ZoneLabel:      strings.TrimSpace(raw.ZoneIdentified),
		Names:          names,
		IllegibleNames: illegible,
		Count:          count,
		ReportedCount:  reported,
		Confidence:     confidence,
		Notes:          notes,
		RawResponse:    responseText,
		AnalyzedAt:     time.Now(),
	}, nil
}

// coerceStringList accepts the expected array shape plus the mixed-type
// arrays some models emit. Returns ok=false when the field is absent or
// unusable.
func coerceStringList(raw json.RawMessage) ([]string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}

	var asStrings []string
	if err := json.Unmarshal(raw, &asStrings); err == nil {
		out := make([]string, 0, len(asStrings))
		for _, s := range asStrings {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, true
	}

	var asAny []any
	if err := json.Unmarshal(raw, &asAny); err == nil {
		var out []string
		for _, v := range asAny {
			if s, isString := v.(string); isString {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
		return out, true
	}

	return nil, false
}

func appendNote(notes, extra string) string {
	if notes == "" {
		return extra
	}
	return notes + " " + extra
}

func truncateForLog(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + fmt.Sprintf("... [truncated, total_length=%d]", len(s))
}
