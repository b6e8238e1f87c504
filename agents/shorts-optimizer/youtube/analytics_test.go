package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"shorts-optimizer/internal/models"
	"shorts-optimizer/shared/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
	"google.golang.org/api/youtubeanalytics/v2"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.Handler, yc *config.YouTubeConfig) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	opts := []option.ClientOption{option.WithEndpoint(srv.URL + "/"), option.WithHTTPClient(srv.Client())}
	service, err := youtube.NewService(ctx, opts...)
	require.NoError(t, err)
	analytics, err := youtubeanalytics.NewService(ctx, opts...)
	require.NoError(t, err)

	if yc == nil {
		yc = &config.YouTubeConfig{MaxShortSeconds: 90, CallTimeoutSeconds: 5, MaxAttempts: 4}
	}
	c := newClientWithServices(yc, service, analytics, log.New(io.Discard, "", 0))
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	c.now = func() time.Time { return fixedNow }
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": http.StatusText(code),
			"errors":  []map[string]string{{"reason": reason, "message": http.StatusText(code)}},
		},
	})
}

func videoItem(id, publishedAt, duration string) map[string]any {
	return map[string]any{
		"id":             id,
		"snippet":        map[string]any{"title": "Title " + id, "publishedAt": publishedAt, "channelId": "UC1"},
		"contentDetails": map[string]any{"duration": duration},
	}
}

func channelHandler(t *testing.T, videos []map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/channels"):
			writeJSON(w, map[string]any{"items": []any{
				map[string]any{"id": "UC1", "contentDetails": map[string]any{"relatedPlaylists": map[string]any{"uploads": "UU1"}}},
			}})
		case strings.HasSuffix(r.URL.Path, "/playlistItems"):
			assert.Equal(t, "UU1", r.URL.Query().Get("playlistId"))
			var items []any
			for _, v := range videos {
				items = append(items, map[string]any{"contentDetails": map[string]any{"videoId": v["id"]}})
			}
			writeJSON(w, map[string]any{"items": items})
		case strings.HasSuffix(r.URL.Path, "/videos"):
			wanted := make(map[string]bool)
			for _, id := range strings.Split(r.URL.Query().Get("id"), ",") {
				wanted[id] = true
			}
			var items []any
			for _, v := range videos {
				if wanted[v["id"].(string)] {
					items = append(items, v)
				}
			}
			writeJSON(w, map[string]any{"items": items})
		default:
			http.NotFound(w, r)
		}
	}
}

func TestClientSelectVideosFiltersAndOrders(t *testing.T) {
	videos := []map[string]any{
		videoItem("v1", "2026-02-01T10:00:00Z", "PT40S"),
		videoItem("v2", "2026-02-03T10:00:00Z", "PT55S"),
		videoItem("v3", "2026-02-05T10:00:00Z", "PT10M"),
		videoItem("v4", "2026-01-20T10:00:00Z", "PT20S"),
	}
	c := newTestClient(t, channelHandler(t, videos), nil)

	got, err := c.SelectVideos(context.Background(), Criteria{Last: 2, ChannelMine: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "v2", got[0].VideoID)
	assert.Equal(t, "v1", got[1].VideoID)
	assert.Equal(t, 55.0, got[0].DurationSeconds)
	assert.Equal(t, "UC1", got[0].ChannelID)
}

func TestClientSelectVideosHugeLast(t *testing.T) {
	videos := []map[string]any{
		videoItem("v1", "2026-02-01T10:00:00Z", "PT40S"),
		videoItem("v2", "2026-02-03T10:00:00Z", "PT55S"),
	}
	c := newTestClient(t, channelHandler(t, videos), nil)

	got, err := c.SelectVideos(context.Background(), Criteria{Last: math.MaxInt/candidateFactor + 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "v2", got[0].VideoID)
}

func TestClientSelectVideosByID(t *testing.T) {
	videos := []map[string]any{videoItem("abc", "2026-02-01T10:00:00Z", "PT30S")}
	c := newTestClient(t, channelHandler(t, videos), nil)

	got, err := c.SelectVideos(context.Background(), Criteria{Last: 3, VideoID: "abc"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].VideoID)

	_, err = c.SelectVideos(context.Background(), Criteria{VideoID: "missing"})
	assert.ErrorIs(t, err, models.ErrNoMatch)
}

func TestClientSelectVideosNoShorts(t *testing.T) {
	videos := []map[string]any{videoItem("long", "2026-02-01T10:00:00Z", "PT12M")}
	c := newTestClient(t, channelHandler(t, videos), nil)

	_, err := c.SelectVideos(context.Background(), Criteria{Last: 1})
	assert.ErrorIs(t, err, models.ErrNoMatch)
}

func TestClientSelectVideosUsesConfiguredChannel(t *testing.T) {
	var gotID, gotMine string
	handler := func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/channels") {
			gotID = r.URL.Query().Get("id")
			gotMine = r.URL.Query().Get("mine")
		}
		channelHandler(t, []map[string]any{videoItem("v1", "2026-02-01T10:00:00Z", "PT40S")})(w, r)
	}
	yc := &config.YouTubeConfig{ChannelID: "UCpublic", MaxShortSeconds: 90, CallTimeoutSeconds: 5, MaxAttempts: 1}
	c := newTestClient(t, http.HandlerFunc(handler), yc)

	_, err := c.SelectVideos(context.Background(), Criteria{Last: 1})
	require.NoError(t, err)
	assert.Equal(t, "UCpublic", gotID)
	assert.Empty(t, gotMine)

	_, err = c.SelectVideos(context.Background(), Criteria{Last: 1, ChannelMine: true})
	require.NoError(t, err)
	assert.Equal(t, "true", gotMine)
}

func reportsHandler(t *testing.T, curve http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "channel==MINE", q.Get("ids"))
		assert.Equal(t, "video==abc", q.Get("filters"))
		switch q.Get("dimensions") {
		case "video":
			writeJSON(w, map[string]any{
				"columnHeaders": []map[string]string{
					{"name": "video"}, {"name": "impressions"}, {"name": "impressionClickThroughRate"},
					{"name": "views"}, {"name": "averageViewDuration"}, {"name": "averageViewPercentage"},
				},
				"rows": [][]any{{"abc", 12000, 3.456, 410, 21.333, 58.2}},
			})
		case "elapsedVideoTimeRatio":
			curve(w, r)
		default:
			http.NotFound(w, r)
		}
	}
}

func TestClientFetchMetrics(t *testing.T) {
	curve := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "audienceWatchRatio", r.URL.Query().Get("metrics"))
		writeJSON(w, map[string]any{"rows": [][]any{{0, 1.0}, {0.05, 0.62}, {0.5, 0.4}}})
	}
	c := newTestClient(t, reportsHandler(t, curve), nil)
	video := &models.Video{VideoID: "abc", PublishedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), DurationSeconds: 60}

	m, err := c.FetchMetrics(context.Background(), video)
	require.NoError(t, err)

	assert.Equal(t, int64(12000), m.Impressions)
	require.NotNil(t, m.ImpressionClickThroughRate)
	assert.Equal(t, 3.46, *m.ImpressionClickThroughRate)
	assert.Equal(t, int64(410), m.Views)
	assert.Equal(t, 21.33, m.AverageViewDurationSeconds)
	require.NotNil(t, m.AverageViewPercentage)
	assert.Equal(t, 58.2, *m.AverageViewPercentage)
	require.Len(t, m.RetentionCurve, 3)
	assert.Equal(t, 3.0, m.RetentionCurve[1].OffsetSeconds)
	require.NotNil(t, m.First3sRetentionProxy)
	assert.Equal(t, 62.0, *m.First3sRetentionProxy)
	assert.Equal(t, WindowLast7d, m.Window.Mode)
	assert.Equal(t, "2026-02-22", m.Window.StartDate)
	assert.Equal(t, "2026-03-01", m.Window.EndDate)
	assert.Equal(t, "youtube-analytics", m.Source)
}

func TestClientFetchMetricsRetentionFailureDegrades(t *testing.T) {
	curve := func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusBadRequest, "badRequest")
	}
	c := newTestClient(t, reportsHandler(t, curve), nil)
	video := &models.Video{VideoID: "abc", PublishedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), DurationSeconds: 60}

	m, err := c.FetchMetrics(context.Background(), video)
	require.NoError(t, err)
	assert.Nil(t, m.RetentionCurve)
	assert.Nil(t, m.First3sRetentionProxy)
	assert.True(t, m.HasCTR())
}

func TestClientFetchMetricsRetriesTransient(t *testing.T) {
	var calls int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("dimensions") == "video" && atomic.AddInt32(&calls, 1) <= 2 {
			writeAPIError(w, http.StatusServiceUnavailable, "backendError")
			return
		}
		reportsHandler(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{})
		})(w, r)
	}
	c := newTestClient(t, http.HandlerFunc(handler), nil)
	video := &models.Video{VideoID: "abc", PublishedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), DurationSeconds: 60}

	m, err := c.FetchMetrics(context.Background(), video)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, int64(12000), m.Impressions)
}

func TestClientLogsToInjectedLogger(t *testing.T) {
	var calls int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("dimensions") == "video" && atomic.AddInt32(&calls, 1) == 1 {
			writeAPIError(w, http.StatusServiceUnavailable, "backendError")
			return
		}
		reportsHandler(t, func(w http.ResponseWriter, r *http.Request) {
			writeAPIError(w, http.StatusBadRequest, "badRequest")
		})(w, r)
	}
	c := newTestClient(t, http.HandlerFunc(handler), nil)
	var logs bytes.Buffer
	c.logger = log.New(&logs, "", 0)
	video := &models.Video{VideoID: "abc", PublishedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), DurationSeconds: 60}

	_, err := c.FetchMetrics(context.Background(), video)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "Warning: transient YouTube API error (attempt 1/4)")
	assert.Contains(t, logs.String(), "Warning: retention curve unavailable for abc")
}

func TestClientFetchMetricsPermanentFailure(t *testing.T) {
	var calls int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeAPIError(w, http.StatusNotFound, "notFound")
	}
	c := newTestClient(t, http.HandlerFunc(handler), nil)

	_, err := c.FetchMetrics(context.Background(), &models.Video{VideoID: "abc", DurationSeconds: 60})
	require.Error(t, err)

	var fetchErr *models.MetricsFetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.False(t, fetchErr.Transient)
	assert.Equal(t, "abc", fetchErr.VideoID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClientFetchMetricsTransientExhausted(t *testing.T) {
	var calls int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeAPIError(w, http.StatusInternalServerError, "backendError")
	}
	yc := &config.YouTubeConfig{CallTimeoutSeconds: 5, MaxAttempts: 2}
	c := newTestClient(t, http.HandlerFunc(handler), yc)

	_, err := c.FetchMetrics(context.Background(), &models.Video{VideoID: "abc", DurationSeconds: 60})

	var fetchErr *models.MetricsFetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.True(t, fetchErr.Transient)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClientFetchMetricsZeroImpressions(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"columnHeaders": []map[string]string{{"name": "impressions"}, {"name": "impressionClickThroughRate"}},
			"rows":          [][]any{{0, 0}},
		})
	}
	c := newTestClient(t, http.HandlerFunc(handler), nil)

	m, err := c.FetchMetrics(context.Background(), &models.Video{VideoID: "abc"})
	require.NoError(t, err)
	assert.Nil(t, m.ImpressionClickThroughRate)
	assert.False(t, m.HasCTR())
}

func TestWindowFor(t *testing.T) {
	fresh := windowFor(fixedNow.Add(-90*time.Minute), fixedNow)
	assert.Equal(t, WindowFirst2h, fresh.Mode)
	assert.Equal(t, "2026-03-01", fresh.StartDate)
	assert.Equal(t, fresh.StartDate, fresh.EndDate)

	old := windowFor(fixedNow.Add(-3*time.Hour), fixedNow)
	assert.Equal(t, WindowLast7d, old.Mode)
	assert.Equal(t, "2026-02-22", old.StartDate)

	zero := windowFor(time.Time{}, fixedNow)
	assert.Equal(t, WindowLast7d, zero.Mode)
}

func TestFirst3sRetentionProxy(t *testing.T) {
	assert.Nil(t, first3sRetentionProxy(nil, 30))

	curve := []models.RetentionPoint{
		{OffsetSeconds: 0, RetentionFraction: 1},
		{OffsetSeconds: 2.6, RetentionFraction: 0.58},
		{OffsetSeconds: 13, RetentionFraction: 0.41},
	}
	got := first3sRetentionProxy(curve, 52)
	require.NotNil(t, got)
	assert.Equal(t, 58.0, *got)

	// Clips shorter than three seconds use their last moment.
	short := []models.RetentionPoint{
		{OffsetSeconds: 0, RetentionFraction: 1},
		{OffsetSeconds: 1, RetentionFraction: 0.9},
		{OffsetSeconds: 2, RetentionFraction: 0.7},
	}
	got = first3sRetentionProxy(short, 2)
	require.NotNil(t, got)
	assert.Equal(t, 70.0, *got)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}
