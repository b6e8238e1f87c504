package youtube

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"shorts-optimizer/internal/models"
)

//go:embed fixtures/mock-shorts.json
var defaultFixture []byte

type fixtureFile struct {
	Videos  []*models.Video           `json:"videos"`
	Metrics map[string]fixtureMetrics `json:"metrics"`
}

type fixtureMetrics struct {
	Impressions                int64                   `json:"impressions"`
	ImpressionClickThroughRate *float64                `json:"impressionClickThroughRate"`
	Views                      int64                   `json:"views"`
	AverageViewDurationSeconds float64                 `json:"averageViewDurationSeconds"`
	AverageViewPercentage      *float64                `json:"averageViewPercentage"`
	First3sRetentionProxy      *float64                `json:"first3sRetentionProxy"`
	RetentionCurve             []models.RetentionPoint `json:"retentionCurve"`
}

// FixtureSource serves videos and metrics from a fixture file with no network I/O.
type FixtureSource struct {
	videos  []*models.Video
	metrics map[string]fixtureMetrics
}

// NewFixtureSource loads the fixture at path, or the embedded fixture when
// path is empty.
func NewFixtureSource(path string) (*FixtureSource, error) {
	data := defaultFixture
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, &models.ConfigError{Field: "SHORTS_OPTIMIZER_FIXTURE", Err: fmt.Errorf("failed to read fixture: %w", err)}
		}
		data = b
	}
	return parseFixture(data)
}

func parseFixture(data []byte) (*FixtureSource, error) {
	var f fixtureFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &models.ConfigError{Field: "SHORTS_OPTIMIZER_FIXTURE", Err: fmt.Errorf("failed to parse fixture: %w", err)}
	}

	seen := make(map[string]bool, len(f.Videos))
	for i, v := range f.Videos {
		if v == nil || v.VideoID == "" || v.Title == "" || v.PublishedAt.IsZero() {
			return nil, &models.ConfigError{Field: "SHORTS_OPTIMIZER_FIXTURE", Err: fmt.Errorf("fixture video %d is missing videoId, title or publishedAt", i)}
		}
		if seen[v.VideoID] {
			return nil, &models.ConfigError{Field: "SHORTS_OPTIMIZER_FIXTURE", Err: fmt.Errorf("duplicate fixture video %s", v.VideoID)}
		}
		seen[v.VideoID] = true
	}

	videos := append([]*models.Video(nil), f.Videos...)
	sortNewestFirst(videos)

	return &FixtureSource{videos: videos, metrics: f.Metrics}, nil
}

func (s *FixtureSource) SelectVideos(ctx context.Context, criteria Criteria) ([]*models.Video, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}

	if criteria.VideoID != "" {
		for _, v := range s.videos {
			if v.VideoID == criteria.VideoID {
				return []*models.Video{v}, nil
			}
		}
		return nil, models.ErrNoMatch
	}

	if len(s.videos) == 0 {
		return nil, models.ErrNoMatch
	}
	n := criteria.Last
	if n > len(s.videos) {
		n = len(s.videos)
	}
	return append([]*models.Video(nil), s.videos[:n]...), nil
}

func (s *FixtureSource) FetchMetrics(ctx context.Context, video *models.Video) (*models.Metrics, error) {
	if video == nil {
		return nil, errors.New("video cannot be nil")
	}

	fm, ok := s.metrics[video.VideoID]
	if !ok {
		return nil, &models.MetricsFetchError{
			VideoID: video.VideoID,
			Err:     fmt.Errorf("no fixture metrics found for videoId=%s", video.VideoID),
		}
	}

	m := &models.Metrics{
		VideoID:                    video.VideoID,
		Impressions:                fm.Impressions,
		ImpressionClickThroughRate: fm.ImpressionClickThroughRate,
		Views:                      fm.Views,
		AverageViewDurationSeconds: fm.AverageViewDurationSeconds,
		AverageViewPercentage:      fm.AverageViewPercentage,
		First3sRetentionProxy:      fm.First3sRetentionProxy,
		RetentionCurve:             append([]models.RetentionPoint(nil), fm.RetentionCurve...),
		DurationSeconds:            video.DurationSeconds,
		Window: models.MetricsWindow{
			Mode:      WindowFixture,
			StartDate: video.PublishedAt.UTC().Format("2006-01-02"),
			EndDate:   video.PublishedAt.UTC().Format("2006-01-02"),
			Note:      "Fixture metrics; no analytics window applies.",
		},
		Source: WindowFixture,
	}
	if m.Impressions == 0 {
		m.ImpressionClickThroughRate = nil
	}
	if m.First3sRetentionProxy == nil {
		m.First3sRetentionProxy = first3sRetentionProxy(m.RetentionCurve, m.DurationSeconds)
	}
	return m, nil
}

func sortNewestFirst(videos []*models.Video) {
	sort.SliceStable(videos, func(i, j int) bool {
		return videos[i].PublishedAt.After(videos[j].PublishedAt)
	})
}
