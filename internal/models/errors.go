package models

import (
	"errors"
	"fmt"
)

// ErrNoMatch is returned when selection criteria match zero videos.
var ErrNoMatch = errors.New("No matching Shorts were found.")

// ErrOutsideTaxonomy marks generated output that uses a label or severity
// outside the closed set.
var ErrOutsideTaxonomy = errors.New("outside taxonomy")

// ConfigError reports missing or invalid configuration, including the
// heuristics document.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error (%s): %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// MetricsFetchError reports a failure retrieving videos or metrics.
// Transient failures were retried before surfacing.
type MetricsFetchError struct {
	VideoID   string
	Transient bool
	Err       error
}

func (e *MetricsFetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.VideoID == "" {
		return fmt.Sprintf("metrics fetch failed (%s): %v", kind, e.Err)
	}
	return fmt.Sprintf("metrics fetch failed for %s (%s): %v", e.VideoID, kind, e.Err)
}

func (e *MetricsFetchError) Unwrap() error { return e.Err }

// OutputWriteError reports that artifacts for a video could not be persisted.
// No partial output directory is left behind.
type OutputWriteError struct {
	VideoID string
	Path    string
	Err     error
}

func (e *OutputWriteError) Error() string {
	return fmt.Sprintf("failed to write output for %s at %s: %v", e.VideoID, e.Path, e.Err)
}

func (e *OutputWriteError) Unwrap() error { return e.Err }
