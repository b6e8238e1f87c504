package models

import "time"

// Video is a candidate short selected from a channel.
type Video struct {
	VideoID         string    `json:"videoId"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	PublishedAt     time.Time `json:"publishedAt"`
	DurationSeconds float64   `json:"durationSeconds"`
	Tags            []string  `json:"tags,omitempty"`
	ChannelID       string    `json:"channelId,omitempty"`
}

// RetentionPoint is one sample of the audience retention curve.
type RetentionPoint struct {
	OffsetSeconds     float64 `json:"offsetSeconds"`
	RetentionFraction float64 `json:"retentionFraction"`
}

// MetricsWindow describes the analytics date range metrics were read for.
type MetricsWindow struct {
	Mode      string `json:"mode"` // first_2h_proxy, last_7_days or fixture
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Note      string `json:"note"`
}

// Metrics is a per-video performance snapshot.
type Metrics struct {
	VideoID                    string           `json:"videoId"`
	Impressions                int64            `json:"impressions"`
	ImpressionClickThroughRate *float64         `json:"impressionClickThroughRate"` // percent
	Views                      int64            `json:"views"`
	AverageViewDurationSeconds float64          `json:"averageViewDurationSeconds"`
	AverageViewPercentage      *float64         `json:"averageViewPercentage"`
	First3sRetentionProxy      *float64         `json:"first3sRetentionProxy"` // percent
	RetentionCurve             []RetentionPoint `json:"retentionCurve,omitempty"`
	DurationSeconds            float64          `json:"durationSeconds"`
	Window                     MetricsWindow    `json:"window"`
	Source                     string           `json:"source"`
}

// HasCTR reports whether the metrics carry a usable click-through rate.
func (m *Metrics) HasCTR() bool {
	return m != nil && m.ImpressionClickThroughRate != nil && m.Impressions > 0
}

// SummaryRow is one line of the run summary table.
type SummaryRow struct {
	VideoID    string   `json:"videoId"`
	CTR        *float64 `json:"ctr"`
	PrimaryFix FixLabel `json:"primaryFix"`
	OutputDir  string   `json:"outputDir"`
}

// OutputRecord describes the artifacts written for one video.
type OutputRecord struct {
	OutputDir string   `json:"outputDir"`
	Artifacts []string `json:"artifacts"`
	RunID     string   `json:"runId,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
