package skills

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"shorts-optimizer/internal/models"

	"gopkg.in/yaml.v3"
)

// DocumentPath is the heuristics document location relative to the repo root.
const DocumentPath = "skills/ytshortsak.md"

// Thresholds drive the rule-based diagnosis. Percentages are in percent units.
type Thresholds struct {
	CTRBenchmarkPct           float64 `yaml:"ctr_benchmark_pct"`
	CTRCriticalPct            float64 `yaml:"ctr_critical_pct"`
	AvgViewPctMin             float64 `yaml:"avg_view_pct_min"`
	First3sRetentionMin       float64 `yaml:"first3s_retention_min"`
	EarlyDropMax              float64 `yaml:"early_drop_max"`
	AvgViewDurationMinSeconds float64 `yaml:"avg_view_duration_min_seconds"`
	DurationBandMinSeconds    float64 `yaml:"duration_band_min_seconds"`
	DurationBandMaxSeconds    float64 `yaml:"duration_band_max_seconds"`
	LowImpressions            int64   `yaml:"low_impressions"`
}

// Rules is the parsed heuristics document.
type Rules struct {
	Thresholds     Thresholds `yaml:"thresholds"`
	MaxTitleLength int        `yaml:"max_title_length"`

	// Text is the document body handed to assisted mode as context.
	Text string `yaml:"-"`
}

// DefaultThresholds returns the reference thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CTRBenchmarkPct:           4.0,
		CTRCriticalPct:            2.0,
		AvgViewPctMin:             60,
		First3sRetentionMin:       70,
		EarlyDropMax:              35,
		AvgViewDurationMinSeconds: 20,
		DurationBandMinSeconds:    40,
		DurationBandMaxSeconds:    60,
		LowImpressions:            1000,
	}
}

// Default returns rules with reference thresholds and no document text.
func Default() *Rules {
	return &Rules{Thresholds: DefaultThresholds(), MaxTitleLength: 70}
}

// Load reads the heuristics document under repoRoot. A missing or unreadable
// document is a configuration error.
func Load(repoRoot string) (*Rules, error) {
	path := filepath.Join(repoRoot, DocumentPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.ConfigError{Field: "skill rules", Err: fmt.Errorf("failed to read %s: %w", path, err)}
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, &models.ConfigError{Field: "skill rules", Err: fmt.Errorf("failed to parse %s: %w", path, err)}
	}
	return rules, nil
}

// Parse reads an optional YAML front matter block followed by the document
// body. Missing threshold keys keep their defaults.
func Parse(data []byte) (*Rules, error) {
	rules := Default()

	front, body := splitFrontMatter(data)
	if len(front) > 0 {
		if err := yaml.Unmarshal(front, rules); err != nil {
			return nil, fmt.Errorf("invalid front matter: %w", err)
		}
	}
	rules.Text = strings.TrimSpace(string(body))

	if err := rules.validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

func splitFrontMatter(data []byte) (front, body []byte) {
	const fence = "---"
	trimmed := bytes.TrimLeft(data, "\ufeff \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte(fence+"\n")) && !bytes.HasPrefix(trimmed, []byte(fence+"\r\n")) {
		return nil, data
	}
	rest := trimmed[bytes.IndexByte(trimmed, '\n')+1:]
	end := bytes.Index(rest, []byte("\n"+fence))
	if end < 0 {
		return nil, data
	}
	front = rest[:end]
	body = rest[end+len(fence)+1:]
	if nl := bytes.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = nil
	}
	return front, body
}

func (r *Rules) validate() error {
	t := r.Thresholds
	if t.CTRBenchmarkPct <= 0 || t.CTRCriticalPct < 0 || t.CTRCriticalPct > t.CTRBenchmarkPct {
		return fmt.Errorf("ctr thresholds must satisfy 0 <= critical <= benchmark, benchmark > 0")
	}
	if t.DurationBandMinSeconds > t.DurationBandMaxSeconds {
		return fmt.Errorf("duration band min %.0f exceeds max %.0f", t.DurationBandMinSeconds, t.DurationBandMaxSeconds)
	}
	if r.MaxTitleLength < 20 || r.MaxTitleLength > 100 {
		return fmt.Errorf("max_title_length %d outside [20,100]", r.MaxTitleLength)
	}
	return nil
}
