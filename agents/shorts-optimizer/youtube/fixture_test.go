package youtube

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"shorts-optimizer/internal/models"
	"shorts-optimizer/shared/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixtureSelectLastIsNewestFirst(t *testing.T) {
	src, err := NewFixtureSource("")
	require.NoError(t, err)

	got, err := src.SelectVideos(context.Background(), Criteria{Last: 3})
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, v := range got {
		ids = append(ids, v.VideoID)
	}
	assert.Equal(t, []string{"mock-short-003", "mock-short-002", "mock-short-001"}, ids)
}

func TestFixtureSelectionBounds(t *testing.T) {
	src, err := NewFixtureSource("")
	require.NoError(t, err)

	for n := 1; n <= 6; n++ {
		got, err := src.SelectVideos(context.Background(), Criteria{Last: n})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(got), n)
		assert.NotEmpty(t, got)
	}

	got, err := src.SelectVideos(context.Background(), Criteria{Last: 1, VideoID: "mock-short-001"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mock-short-001", got[0].VideoID)

	_, err = src.SelectVideos(context.Background(), Criteria{VideoID: "abc123"})
	assert.ErrorIs(t, err, models.ErrNoMatch)
	assert.EqualError(t, err, "No matching Shorts were found.")

	_, err = src.SelectVideos(context.Background(), Criteria{Last: 0})
	assert.Error(t, err)
}

func TestFixtureFetchMetrics(t *testing.T) {
	src, err := NewFixtureSource("")
	require.NoError(t, err)

	videos, err := src.SelectVideos(context.Background(), Criteria{Last: 4})
	require.NoError(t, err)
	require.Len(t, videos, 4)

	byID := make(map[string]*models.Metrics)
	for _, v := range videos {
		m, err := src.FetchMetrics(context.Background(), v)
		require.NoError(t, err)
		assert.Equal(t, WindowFixture, m.Window.Mode)
		assert.Equal(t, v.DurationSeconds, m.DurationSeconds)
		byID[v.VideoID] = m
	}

	// Derived from the curve point nearest three seconds.
	require.NotNil(t, byID["mock-short-002"].First3sRetentionProxy)
	assert.Equal(t, 58.0, *byID["mock-short-002"].First3sRetentionProxy)

	// Explicit values win over the curve.
	require.NotNil(t, byID["mock-short-001"].First3sRetentionProxy)
	assert.Equal(t, 58.4, *byID["mock-short-001"].First3sRetentionProxy)

	assert.False(t, byID["mock-short-004"].HasCTR())
	assert.True(t, byID["mock-short-003"].HasCTR())
}

func TestFixtureMissingMetrics(t *testing.T) {
	src, err := parseFixture([]byte(`{"videos":[{"videoId":"x","title":"X","publishedAt":"2026-01-01T00:00:00Z"}]}`))
	require.NoError(t, err)

	_, err = src.FetchMetrics(context.Background(), &models.Video{VideoID: "x"})
	var fetchErr *models.MetricsFetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.False(t, fetchErr.Transient)
}

func TestFixtureInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `nope`},
		{"missing title", `{"videos":[{"videoId":"x","publishedAt":"2026-01-01T00:00:00Z"}]}`},
		{"duplicate", `{"videos":[{"videoId":"x","title":"X","publishedAt":"2026-01-01T00:00:00Z"},{"videoId":"x","title":"Y","publishedAt":"2026-01-02T00:00:00Z"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFixture([]byte(tt.data))
			var cfgErr *models.ConfigError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}

	_, err := NewFixtureSource(filepath.Join(t.TempDir(), "missing.json"))
	var cfgErr *models.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestFixtureFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	data := `{"videos":[{"videoId":"only","title":"Only","publishedAt":"2026-01-01T00:00:00Z","durationSeconds":30}],` +
		`"metrics":{"only":{"impressions":100,"impressionClickThroughRate":5,"views":5,"averageViewDurationSeconds":10}}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	src, err := NewFixtureSource(path)
	require.NoError(t, err)
	got, err := src.SelectVideos(context.Background(), Criteria{Last: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "only", got[0].VideoID)
}

func TestNewSourceMockMode(t *testing.T) {
	src, err := NewSource(context.Background(), &config.Config{MockMode: true}, nil)
	require.NoError(t, err)
	_, ok := src.(*FixtureSource)
	assert.True(t, ok)
}
