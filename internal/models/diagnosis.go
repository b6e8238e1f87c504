package models

import (
	"fmt"
	"strings"
	"time"
)

// FixLabel is a corrective category from the closed taxonomy.
type FixLabel string

const (
	FixHookWeak           FixLabel = "hook-weak"
	FixThumbnailMismatch  FixLabel = "thumbnail-mismatch"
	FixTitleUnderselling  FixLabel = "title-underselling"
	FixRetentionDropEarly FixLabel = "retention-drop-early"
	FixNoClearCTA         FixLabel = "no-clear-cta"
	FixInsufficientData   FixLabel = "insufficient-data"
)

// FixLabels lists every member of the taxonomy.
var FixLabels = []FixLabel{
	FixHookWeak,
	FixThumbnailMismatch,
	FixTitleUnderselling,
	FixRetentionDropEarly,
	FixNoClearCTA,
	FixInsufficientData,
}

// Valid reports whether l belongs to the taxonomy.
func (l FixLabel) Valid() bool {
	for _, known := range FixLabels {
		if l == known {
			return true
		}
	}
	return false
}

// ParseFixLabel normalises s and checks it against the taxonomy.
func ParseFixLabel(s string) (FixLabel, error) {
	l := FixLabel(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("%w: fix label %q", ErrOutsideTaxonomy, s)
	}
	return l, nil
}

// Severity ranks a finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// ParseSeverity normalises s and rejects unknown severities.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev.Rank() == 0 {
		return "", fmt.Errorf("%w: severity %q", ErrOutsideTaxonomy, s)
	}
	return sev, nil
}

// Finding is one diagnosed issue with the metric that evidences it.
type Finding struct {
	Issue          FixLabel `json:"issue"`
	EvidenceMetric string   `json:"evidenceMetric"`
	EvidenceValue  *float64 `json:"evidenceValue"`
	Severity       Severity `json:"severity"`
	Detail         string   `json:"detail"`
}

// Diagnosis is the analysis result for one video.
type Diagnosis struct {
	VideoID      string    `json:"videoId"`
	PrimaryFix   FixLabel  `json:"primaryFix"`
	Findings     []Finding `json:"findings"`
	Confidence   float64   `json:"confidence"`
	Summary      string    `json:"summary"`
	Source       string    `json:"source"` // rules or assisted
	UsedFallback bool      `json:"usedFallback"`

	// FallbackReason says why the assisted result was not used.
	FallbackReason string `json:"fallbackReason,omitempty"`
}

// Validate checks the taxonomy and confidence invariants.
func (d *Diagnosis) Validate() error {
	if d == nil {
		return fmt.Errorf("diagnosis is nil")
	}
	if !d.PrimaryFix.Valid() {
		return fmt.Errorf("%w: primary fix %q", ErrOutsideTaxonomy, d.PrimaryFix)
	}
	for i, f := range d.Findings {
		if !f.Issue.Valid() {
			return fmt.Errorf("%w: finding %d issue %q", ErrOutsideTaxonomy, i, f.Issue)
		}
		if f.Severity.Rank() == 0 {
			return fmt.Errorf("%w: finding %d severity %q", ErrOutsideTaxonomy, i, f.Severity)
		}
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %.2f outside [0,1]", d.Confidence)
	}
	return nil
}

// VariantPlanVersion tags the variant plan record format.
const VariantPlanVersion = "shorts-optimizer.variant.v1"

// VariantPlan is the rewritten content variant for one video.
type VariantPlan struct {
	Version             string    `json:"version"`
	VideoID             string    `json:"videoId"`
	SourceTitle         string    `json:"sourceTitle"`
	PrimaryFix          FixLabel  `json:"primaryFix"`
	ProposedTitle       string    `json:"proposedTitle"`
	ProposedHook        string    `json:"proposedHook"`
	ProposedDescription string    `json:"proposedDescription"`
	Hashtags            []string  `json:"hashtags"`
	PinnedComment       string    `json:"pinnedComment"`
	Rationale           string    `json:"rationale"`
	GeneratedAt         time.Time `json:"generatedAt"`
	UsedFallback        bool      `json:"usedFallback"`
	FallbackReason      string    `json:"fallbackReason,omitempty"`
}

// Validate checks the fields every written plan must carry.
func (p *VariantPlan) Validate() error {
	if p == nil {
		return fmt.Errorf("variant plan is nil")
	}
	if p.VideoID == "" {
		return fmt.Errorf("variant plan video id is empty")
	}
	if strings.TrimSpace(p.ProposedTitle) == "" {
		return fmt.Errorf("variant plan title is empty")
	}
	if strings.TrimSpace(p.ProposedHook) == "" {
		return fmt.Errorf("variant plan hook is empty")
	}
	if !p.PrimaryFix.Valid() {
		return fmt.Errorf("%w: variant plan primary fix %q", ErrOutsideTaxonomy, p.PrimaryFix)
	}
	if p.GeneratedAt.IsZero() {
		return fmt.Errorf("variant plan generatedAt is zero")
	}
	return nil
}
