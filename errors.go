package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/anthropics/anthropic-sdk-go"
)

// ValidationError marks bad input (shape, media type, size). Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + e.Reason
}

// ExtractionErrorKind is the closed set of adapter failure classes. It is
// derived from status codes and error types, never from matching on an
// upstream provider's message wording.
type ExtractionErrorKind string

const (
	ExtractAuth        ExtractionErrorKind = "auth"
	ExtractRateLimited ExtractionErrorKind = "rate-limited"
	ExtractUnavailable ExtractionErrorKind = "model-unavailable"
	ExtractMalformed   ExtractionErrorKind = "malformed-response"
	ExtractNetwork     ExtractionErrorKind = "network"
	ExtractTimeout     ExtractionErrorKind = "timeout"
)

// ExtractionError wraps an adapter failure with its classification.
type ExtractionError struct {
	Kind ExtractionErrorKind
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction %s: %v", e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may usefully retry this image later.
func (e *ExtractionError) Retryable() bool {
	switch e.Kind {
	case ExtractRateLimited, ExtractNetwork, ExtractTimeout:
		return true
	}
	return false
}

// UserMessage renders a one-line operator-facing description.
func (e *ExtractionError) UserMessage() string {
	switch e.Kind {
	case ExtractAuth:
		return "AI service rejected the API key. Check the configured credentials."
	case ExtractRateLimited:
		return "AI service quota exceeded. Try again in a few minutes."
	case ExtractUnavailable:
		return "AI model not available. Try manual entry or try again later."
	case ExtractMalformed:
		return "AI service returned an unreadable response. Please re-upload this image."
	case ExtractNetwork:
		return "Network error reaching the AI service. Check your connection and retry."
	case ExtractTimeout:
		return "AI analysis timed out. Please retry this image."
	}
	return "AI analysis failed: " + e.Err.Error()
}

// ClassifyExtractionError folds an arbitrary adapter error into the closed
// kind set. Already-classified errors pass through unchanged.
func ClassifyExtractionError(err error) *ExtractionError {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ExtractionError{Kind: ExtractTimeout, Err: err}
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return &ExtractionError{Kind: ExtractAuth, Err: err}
		case apiErr.StatusCode == 429:
			return &ExtractionError{Kind: ExtractRateLimited, Err: err}
		case apiErr.StatusCode == 404:
			return &ExtractionError{Kind: ExtractUnavailable, Err: err}
		case apiErr.StatusCode >= 500:
			return &ExtractionError{Kind: ExtractUnavailable, Err: err}
		}
		return &ExtractionError{Kind: ExtractNetwork, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &ExtractionError{Kind: ExtractTimeout, Err: err}
		}
		return &ExtractionError{Kind: ExtractNetwork, Err: err}
	}

	return &ExtractionError{Kind: ExtractNetwork, Err: err}
}

// MatchRoutingError means no site could be identified for an image.
// Terminal for that image only; the batch continues.
type MatchRoutingError struct {
	DetectedLabel string
	DetectedZone  string
}

func (e *MatchRoutingError) Error() string {
	if e.DetectedLabel == "" && e.DetectedZone == "" {
		return "could not identify site: no site label detected on sheet"
	}
	return fmt.Sprintf("could not identify site for detected label %q (zone %q)",
		e.DetectedLabel, e.DetectedZone)
}

// SyncFetchErrorKind classifies snapshot fetch failures.
type SyncFetchErrorKind string

const (
	SyncNetwork SyncFetchErrorKind = "network"
	SyncTimeout SyncFetchErrorKind = "timeout"
	SyncHTTP    SyncFetchErrorKind = "http"
	SyncRemote  SyncFetchErrorKind = "remote"
)

// SyncFetchError drives the engine's backoff; StatusCode is set for the
// http kind.
type SyncFetchError struct {
	Kind       SyncFetchErrorKind
	StatusCode int
	Err        error
}

func (e *SyncFetchError) Error() string {
	if e.Kind == SyncHTTP {
		return fmt.Sprintf("snapshot fetch: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("snapshot fetch %s: %v", e.Kind, e.Err)
}

func (e *SyncFetchError) Unwrap() error { return e.Err }

// Retryable reports whether the remote client's bounded retry loop should
// try again. Application-level errors from the store are not retried.
func (e *SyncFetchError) Retryable() bool {
	switch e.Kind {
	case SyncNetwork, SyncTimeout:
		return true
	case SyncHTTP:
		return e.StatusCode >= 500
	}
	return false
}

// ClassifySyncError folds transport errors into the SyncFetchError kinds.
func ClassifySyncError(err error) *SyncFetchError {
	var se *SyncFetchError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &SyncFetchError{Kind: SyncTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &SyncFetchError{Kind: SyncTimeout, Err: err}
	}
	return &SyncFetchError{Kind: SyncNetwork, Err: err}
}
