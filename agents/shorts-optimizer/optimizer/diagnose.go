package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"shorts-optimizer/internal/models"
	"shorts-optimizer/shared/ai"
	"shorts-optimizer/shared/skills"
)

const (
	SourceRules    = "rules"
	SourceAssisted = "assisted"

	reasonNoGenerator      = "no text-generation credential configured"
	reasonInsufficientData = "insufficient data for assisted analysis"

	insufficientConfidence = 0.2
	maxConfidence          = 0.95
	sameLabelBonus         = 0.05
)

// Diagnoser turns metrics into findings and one primary fix.
type Diagnoser interface {
	Diagnose(ctx context.Context, video *models.Video, metrics *models.Metrics, rules *skills.Rules) (*models.Diagnosis, error)
}

// NewDiagnoser returns the assisted strategy when gen is non-nil, otherwise
// the rule-based one.
func NewDiagnoser(gen ai.Generator) Diagnoser {
	if gen == nil {
		return ruleDiagnoser{}
	}
	return &assistedDiagnoser{gen: gen}
}

type ruleDiagnoser struct{}

func (ruleDiagnoser) Diagnose(ctx context.Context, video *models.Video, metrics *models.Metrics, rules *skills.Rules) (*models.Diagnosis, error) {
	if err := checkInputs(video, metrics); err != nil {
		return nil, err
	}
	d := DiagnoseWithRules(video, metrics, rules)
	d.FallbackReason = reasonNoGenerator
	return d, nil
}

func checkInputs(video *models.Video, metrics *models.Metrics) error {
	if video == nil {
		return errors.New("video cannot be nil")
	}
	if metrics == nil {
		return fmt.Errorf("metrics for %s cannot be nil", video.VideoID)
	}
	return nil
}

// DiagnoseWithRules evaluates metrics against the rule thresholds. It is
// deterministic and performs no I/O. A nil rules value uses the defaults.
func DiagnoseWithRules(video *models.Video, metrics *models.Metrics, rules *skills.Rules) *models.Diagnosis {
	if rules == nil {
		rules = skills.Default()
	}
	th := rules.Thresholds

	var findings []models.Finding
	add := func(issue models.FixLabel, metric string, value *float64, sev models.Severity, detail string) {
		findings = append(findings, models.Finding{
			Issue:          issue,
			EvidenceMetric: metric,
			EvidenceValue:  value,
			Severity:       sev,
			Detail:         detail,
		})
	}

	hasCTR := metrics.HasCTR()
	var ctr float64
	if hasCTR {
		ctr = *metrics.ImpressionClickThroughRate
	}

	if !hasCTR {
		add(models.FixInsufficientData, "impressionClickThroughRate", nil, models.SeverityHigh,
			fmt.Sprintf("No click-through rate is available (%d impressions); collect more data before changing packaging.", metrics.Impressions))
	} else if ctr < th.CTRBenchmarkPct {
		sev := models.SeverityHigh
		if ctr < th.CTRCriticalPct {
			sev = models.SeverityCritical
		}
		if retentionHealthy(metrics, th) {
			add(models.FixTitleUnderselling, "impressionClickThroughRate", models.Float(ctr), sev,
				fmt.Sprintf("CTR %.2f%% is below the %.2f%% benchmark while viewers who click stay; the title undersells the video.", ctr, th.CTRBenchmarkPct))
		} else {
			add(models.FixHookWeak, "impressionClickThroughRate", models.Float(ctr), sev,
				fmt.Sprintf("CTR %.2f%% is below the %.2f%% benchmark and retention is weak; the opening beat does not earn the click.", ctr, th.CTRBenchmarkPct))
		}
	} else if p := metrics.First3sRetentionProxy; p != nil && *p < th.First3sRetentionMin {
		add(models.FixThumbnailMismatch, "first3sRetentionProxy", models.Float(*p), models.SeverityHigh,
			fmt.Sprintf("CTR %.2f%% is healthy but only %.2f%% stay past 3 seconds; the packaging promises something the opening does not show.", ctr, *p))
	}

	if drop, ok := earlyDrop(metrics.RetentionCurve, metrics.DurationSeconds); ok && drop > th.EarlyDropMax {
		add(models.FixRetentionDropEarly, "retentionCurve", models.Float(drop), models.SeverityMedium,
			fmt.Sprintf("Retention falls %.2f points in the first 3 seconds (limit %.2f).", drop, th.EarlyDropMax))
	} else if p := metrics.AverageViewPercentage; p != nil && *p < th.AvgViewPctMin {
		add(models.FixRetentionDropEarly, "averageViewPercentage", models.Float(*p), models.SeverityMedium,
			fmt.Sprintf("Average view percentage %.2f%% is below %.2f%%.", *p, th.AvgViewPctMin))
	}

	if inBand(metrics.DurationSeconds, th) && metrics.Views > 0 && metrics.AverageViewDurationSeconds < th.AvgViewDurationMinSeconds {
		add(models.FixRetentionDropEarly, "averageViewDurationSeconds", models.Float(metrics.AverageViewDurationSeconds), models.SeverityMedium,
			fmt.Sprintf("Average view duration %.2fs is under %.0fs for a %.0fs Short.", metrics.AverageViewDurationSeconds, th.AvgViewDurationMinSeconds, metrics.DurationSeconds))
	}

	if hasCTR && ctr >= th.CTRBenchmarkPct && metrics.Impressions < th.LowImpressions {
		add(models.FixNoClearCTA, "impressions", models.Float(float64(metrics.Impressions)), models.SeverityMedium,
			fmt.Sprintf("CTR is healthy but only %d impressions were served; give viewers a reason to comment and share.", metrics.Impressions))
	}

	if len(findings) == 0 {
		add(models.FixTitleUnderselling, "impressionClickThroughRate", models.Float(ctr), models.SeverityLow,
			"No threshold was breached; an incremental title test is the safest next experiment.")
	}

	sortFindings(findings)

	d := &models.Diagnosis{
		VideoID:      video.VideoID,
		Findings:     findings,
		Source:       SourceRules,
		UsedFallback: true,
	}
	if !hasCTR {
		d.PrimaryFix = models.FixInsufficientData
		d.Confidence = insufficientConfidence
	} else {
		d.PrimaryFix = findings[0].Issue
		d.Confidence = confidenceFor(findings)
	}
	d.Summary = summarize(d)
	return d
}

func retentionHealthy(m *models.Metrics, th skills.Thresholds) bool {
	if p := m.AverageViewPercentage; p != nil && *p >= th.AvgViewPctMin {
		return true
	}
	if p := m.First3sRetentionProxy; p != nil && *p >= th.First3sRetentionMin {
		return true
	}
	return false
}

func inBand(duration float64, th skills.Thresholds) bool {
	return duration >= th.DurationBandMinSeconds && duration <= th.DurationBandMaxSeconds
}

// earlyDrop returns the percentage-point loss between the first curve point
// and the point nearest the 3 second mark.
func earlyDrop(curve []models.RetentionPoint, duration float64) (float64, bool) {
	if len(curve) < 2 {
		return 0, false
	}
	target := 3.0
	if duration > 0 && duration < target {
		target = duration
	}
	nearest := 1
	for i := 1; i < len(curve); i++ {
		if math.Abs(curve[i].OffsetSeconds-target) < math.Abs(curve[nearest].OffsetSeconds-target) {
			nearest = i
		}
	}
	drop := (curve[0].RetentionFraction - curve[nearest].RetentionFraction) * 100
	return math.Round(drop*100) / 100, true
}

func sortFindings(findings []models.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Rank() > findings[j].Severity.Rank()
	})
}

func confidenceFor(findings []models.Finding) float64 {
	if len(findings) == 0 {
		return 0
	}
	var c float64
	switch findings[0].Severity {
	case models.SeverityCritical:
		c = 0.85
	case models.SeverityHigh:
		c = 0.75
	case models.SeverityMedium:
		c = 0.6
	default:
		c = 0.4
	}
	for _, f := range findings[1:] {
		if f.Issue == findings[0].Issue {
			c += sameLabelBonus
		}
	}
	if c > maxConfidence {
		c = maxConfidence
	}
	return math.Round(c*100) / 100
}

func summarize(d *models.Diagnosis) string {
	if len(d.Findings) == 0 {
		return fmt.Sprintf("Primary fix: %s.", d.PrimaryFix)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Primary fix: %s (confidence %.2f).", d.PrimaryFix, d.Confidence)
	for _, f := range d.Findings {
		if f.Issue == d.PrimaryFix {
			fmt.Fprintf(&b, " %s", f.Detail)
			break
		}
	}
	if n := len(d.Findings) - 1; n > 0 {
		fmt.Fprintf(&b, " %d other finding(s).", n)
	}
	return b.String()
}

type assistedDiagnoser struct {
	gen ai.Generator
}

func (d *assistedDiagnoser) Diagnose(ctx context.Context, video *models.Video, metrics *models.Metrics, rules *skills.Rules) (*models.Diagnosis, error) {
	if err := checkInputs(video, metrics); err != nil {
		return nil, err
	}

	base := DiagnoseWithRules(video, metrics, rules)
	if base.PrimaryFix == models.FixInsufficientData {
		base.FallbackReason = reasonInsufficientData
		return base, nil
	}

	response, err := d.gen.Generate(ctx, ai.Request{
		System:          diagnosisSystemPrompt,
		Prompt:          buildDiagnosisPrompt(video, metrics, rules, base),
		MaxOutputTokens: 2048,
	})
	if err != nil {
		base.FallbackReason = fmt.Sprintf("assisted diagnosis failed: %v", err)
		return base, nil
	}

	assisted, err := parseAssistedDiagnosis(response, base)
	if err != nil {
		base.FallbackReason = fmt.Sprintf("assisted diagnosis rejected: %v", err)
		return base, nil
	}
	return assisted, nil
}

type assistedFinding struct {
	Issue          string   `json:"issue"`
	EvidenceMetric string   `json:"evidenceMetric"`
	EvidenceValue  *float64 `json:"evidenceValue"`
	Severity       string   `json:"severity"`
	Detail         string   `json:"detail"`
}

type assistedDiagnosis struct {
	PrimaryFix string            `json:"primaryFix"`
	Confidence *float64          `json:"confidence"`
	Summary    string            `json:"summary"`
	Findings   []assistedFinding `json:"findings"`
}

// parseAssistedDiagnosis accepts a model response only if every label and
// severity is in the taxonomy and confidence is within [0,1]. The primary fix
// must lead the sorted findings, and it may claim insufficient data only when
// the rule-based base did.
func parseAssistedDiagnosis(response string, base *models.Diagnosis) (*models.Diagnosis, error) {
	var raw assistedDiagnosis
	if err := ai.DecodeJSON(response, &raw); err != nil {
		return nil, err
	}

	primary, err := models.ParseFixLabel(raw.PrimaryFix)
	if err != nil {
		return nil, err
	}
	if primary == models.FixInsufficientData && base.PrimaryFix != models.FixInsufficientData {
		return nil, errors.New("insufficient-data contradicts the available metrics")
	}
	if raw.Confidence == nil {
		return nil, errors.New("confidence is missing")
	}
	if len(raw.Findings) == 0 {
		return nil, errors.New("no findings returned")
	}

	findings := make([]models.Finding, 0, len(raw.Findings))
	for _, f := range raw.Findings {
		issue, err := models.ParseFixLabel(f.Issue)
		if err != nil {
			return nil, err
		}
		sev, err := models.ParseSeverity(f.Severity)
		if err != nil {
			return nil, err
		}
		findings = append(findings, models.Finding{
			Issue:          issue,
			EvidenceMetric: strings.TrimSpace(f.EvidenceMetric),
			EvidenceValue:  f.EvidenceValue,
			Severity:       sev,
			Detail:         strings.TrimSpace(f.Detail),
		})
	}
	sortFindings(findings)
	if findings[0].Issue != primary {
		return nil, fmt.Errorf("primary fix %s does not match top finding %s", primary, findings[0].Issue)
	}

	d := &models.Diagnosis{
		VideoID:    base.VideoID,
		PrimaryFix: primary,
		Findings:   findings,
		Confidence: *raw.Confidence,
		Summary:    strings.TrimSpace(raw.Summary),
		Source:     SourceAssisted,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.Summary == "" {
		d.Summary = summarize(d)
	}
	return d, nil
}
