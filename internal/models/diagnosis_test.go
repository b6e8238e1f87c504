package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFixLabel(t *testing.T) {
	for _, l := range FixLabels {
		got, err := ParseFixLabel(" " + string(l) + " ")
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}

	got, err := ParseFixLabel("HOOK-WEAK")
	require.NoError(t, err)
	assert.Equal(t, FixHookWeak, got)

	_, err = ParseFixLabel("make-it-viral")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutsideTaxonomy))
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())
	assert.Equal(t, 0, Severity("urgent").Rank())

	_, err := ParseSeverity("urgent")
	assert.ErrorIs(t, err, ErrOutsideTaxonomy)
}

func TestDiagnosisValidate(t *testing.T) {
	valid := Diagnosis{
		PrimaryFix: FixHookWeak,
		Findings:   []Finding{{Issue: FixHookWeak, EvidenceMetric: "impressionClickThroughRate", Severity: SeverityHigh}},
		Confidence: 0.75,
	}
	require.NoError(t, valid.Validate())

	badFix := valid
	badFix.PrimaryFix = "go-viral"
	assert.ErrorIs(t, badFix.Validate(), ErrOutsideTaxonomy)

	badFinding := valid
	badFinding.Findings = []Finding{{Issue: FixHookWeak, Severity: "huge"}}
	assert.ErrorIs(t, badFinding.Validate(), ErrOutsideTaxonomy)

	badConfidence := valid
	badConfidence.Confidence = 1.2
	assert.Error(t, badConfidence.Validate())
}

func TestVariantPlanValidate(t *testing.T) {
	plan := VariantPlan{
		VideoID:       "abc",
		PrimaryFix:    FixHookWeak,
		ProposedTitle: "New title",
		ProposedHook:  "Hook",
		GeneratedAt:   time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, plan.Validate())

	empty := plan
	empty.ProposedTitle = "  "
	assert.Error(t, empty.Validate())
}

func TestMetricsHasCTR(t *testing.T) {
	var nilMetrics *Metrics
	assert.False(t, nilMetrics.HasCTR())
	assert.False(t, (&Metrics{Impressions: 0, ImpressionClickThroughRate: Float(3)}).HasCTR())
	assert.False(t, (&Metrics{Impressions: 10}).HasCTR())
	assert.True(t, (&Metrics{Impressions: 10, ImpressionClickThroughRate: Float(3)}).HasCTR())
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "No matching Shorts were found.", ErrNoMatch.Error())

	inner := errors.New("boom")
	fetchErr := &MetricsFetchError{VideoID: "v1", Err: inner}
	assert.ErrorIs(t, fetchErr, inner)
	assert.Contains(t, fetchErr.Error(), "permanent")

	var cfgErr *ConfigError
	assert.True(t, errors.As(error(&ConfigError{Field: "skills", Err: inner}), &cfgErr))
}
