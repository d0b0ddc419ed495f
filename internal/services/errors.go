package services

import (
	"errors"
	"fmt"
)

// ErrRunAborted is returned when the failed-page fraction exceeds the
// configured threshold and the run ends without a final document.
var ErrRunAborted = errors.New("run aborted: failed page fraction exceeded threshold")

// ExtractionError marks a page whose extraction response was unusable.
// Page-local: the page contributes zero assets and the run continues.
type ExtractionError struct {
	Page int
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for page %d: %v", e.Page, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// TranslationError marks a page whose translation response was rejected:
// a refusal, a missing required asset placeholder, or suspected truncation.
// It drives a retry rather than silent acceptance.
type TranslationError struct {
	Page   int
	Reason string
	Err    error
}

func (e *TranslationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("translation failed for page %d: %s: %v", e.Page, e.Reason, e.Err)
	}
	return fmt.Sprintf("translation failed for page %d: %s", e.Page, e.Reason)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// OptimizationError marks a quality-pass result that had to be discarded.
// Non-fatal: the pre-refinement document is kept instead.
type OptimizationError struct {
	Reason string
}

func (e *OptimizationError) Error() string {
	return fmt.Sprintf("optimization discarded: %s", e.Reason)
}
