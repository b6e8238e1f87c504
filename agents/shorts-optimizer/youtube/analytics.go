package youtube

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"shorts-optimizer/internal/models"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/youtubeanalytics/v2"
)

const (
	WindowFirst2h  = "first_2h_proxy"
	WindowLast7d   = "last_7_days"
	WindowFixture  = "fixture"
	sourceAnalytic = "youtube-analytics"

	first2hCutoff = 2 * time.Hour
	hookSeconds   = 3.0
	dateLayout    = "2006-01-02"
)

var reportMetrics = "impressions,impressionClickThroughRate,views,averageViewDuration,averageViewPercentage"

// windowFor picks the analytics date range for a video. Fresh uploads use the
// publish day since Analytics has day-level granularity.
func windowFor(publishedAt, now time.Time) models.MetricsWindow {
	if !publishedAt.IsZero() && now.Sub(publishedAt) <= first2hCutoff {
		day := publishedAt.UTC().Format(dateLayout)
		return models.MetricsWindow{
			Mode:      WindowFirst2h,
			StartDate: day,
			EndDate:   day,
			Note:      "First 2 hours are approximated using same-day partial YouTube Analytics data (day-level granularity).",
		}
	}

	return models.MetricsWindow{
		Mode:      WindowLast7d,
		StartDate: now.UTC().AddDate(0, 0, -7).Format(dateLayout),
		EndDate:   now.UTC().Format(dateLayout),
		Note:      "Used 7-day fallback window.",
	}
}

func (c *Client) FetchMetrics(ctx context.Context, video *models.Video) (*models.Metrics, error) {
	if video == nil {
		return nil, errors.New("video cannot be nil")
	}

	window := windowFor(video.PublishedAt, c.now())

	var resp *youtubeanalytics.QueryResponse
	err := c.call(ctx, video.VideoID, func(callCtx context.Context) error {
		var err error
		resp, err = c.analytics.Reports.Query().
			Ids("channel==MINE").
			StartDate(window.StartDate).
			EndDate(window.EndDate).
			Dimensions("video").
			Metrics(reportMetrics).
			Filters("video==" + video.VideoID).
			Context(callCtx).
			Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	values := reportRow(resp)
	m := &models.Metrics{
		VideoID:         video.VideoID,
		DurationSeconds: video.DurationSeconds,
		Window:          window,
		Source:          sourceAnalytic,
	}
	if v, ok := values["impressions"]; ok {
		m.Impressions = int64(math.Round(v))
	}
	if v, ok := values["views"]; ok {
		m.Views = int64(math.Round(v))
	}
	if v, ok := values["averageViewDuration"]; ok {
		m.AverageViewDurationSeconds = round2(v)
	}
	if v, ok := values["impressionClickThroughRate"]; ok && m.Impressions > 0 {
		m.ImpressionClickThroughRate = models.Float(round2(v))
	}
	if v, ok := values["averageViewPercentage"]; ok {
		m.AverageViewPercentage = models.Float(round2(v))
	}

	curve, err := c.fetchRetentionCurve(ctx, video, window)
	if err != nil {
		c.logger.Printf("Warning: retention curve unavailable for %s: %v", video.VideoID, err)
	}
	m.RetentionCurve = curve
	m.First3sRetentionProxy = first3sRetentionProxy(curve, video.DurationSeconds)

	return m, nil
}

func (c *Client) fetchRetentionCurve(ctx context.Context, video *models.Video, window models.MetricsWindow) ([]models.RetentionPoint, error) {
	if video.DurationSeconds <= 0 {
		return nil, nil
	}

	var resp *youtubeanalytics.QueryResponse
	err := c.call(ctx, video.VideoID, func(callCtx context.Context) error {
		var err error
		resp, err = c.analytics.Reports.Query().
			Ids("channel==MINE").
			StartDate(window.StartDate).
			EndDate(window.EndDate).
			Dimensions("elapsedVideoTimeRatio").
			Metrics("audienceWatchRatio").
			Filters("video==" + video.VideoID).
			Context(callCtx).
			Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	var curve []models.RetentionPoint
	for _, row := range resp.Rows {
		if len(row) < 2 {
			continue
		}
		ratio, ok1 := toFloat(row[0])
		watch, ok2 := toFloat(row[1])
		if !ok1 || !ok2 {
			continue
		}
		curve = append(curve, models.RetentionPoint{
			OffsetSeconds:     round2(ratio * video.DurationSeconds),
			RetentionFraction: watch,
		})
	}
	return curve, nil
}

// reportRow maps column names to the first row of an Analytics report.
func reportRow(resp *youtubeanalytics.QueryResponse) map[string]float64 {
	values := make(map[string]float64)
	if resp == nil || len(resp.Rows) == 0 {
		return values
	}
	row := resp.Rows[0]
	for i, header := range resp.ColumnHeaders {
		if header == nil || i >= len(row) {
			continue
		}
		if v, ok := toFloat(row[i]); ok {
			values[header.Name] = v
		}
	}
	return values
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// first3sRetentionProxy returns the retention percentage at the curve point
// closest to the 3 second mark, or nil without a curve.
func first3sRetentionProxy(curve []models.RetentionPoint, durationSeconds float64) *float64 {
	if len(curve) == 0 {
		return nil
	}

	target := hookSeconds
	if durationSeconds > 0 && durationSeconds < target {
		target = durationSeconds
	}

	best := -1
	bestDistance := math.Inf(1)
	for i, p := range curve {
		if d := math.Abs(p.OffsetSeconds - target); d < bestDistance {
			best, bestDistance = i, d
		}
	}
	return models.Float(round2(curve[best].RetentionFraction * 100))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// call runs fn with a per-attempt timeout, retrying transient failures with
// exponential backoff up to maxAttempts in total.
func (c *Client) call(ctx context.Context, videoID string, fn func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !isTransient(err) {
			return backoff.Permanent(err)
		}
		if attempt < c.maxAttempts {
			c.logger.Printf("Warning: transient YouTube API error (attempt %d/%d): %v", attempt, c.maxAttempts, err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxAttempts-1)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		var fetchErr *models.MetricsFetchError
		if errors.As(err, &fetchErr) {
			return err
		}
		return &models.MetricsFetchError{
			VideoID:   videoID,
			Transient: isTransient(err),
			Err:       fmt.Errorf("YouTube API request failed after %d attempt(s): %w", attempt, err),
		}
	}
	return nil
}

// isTransient reports whether err is worth retrying: server errors, throttling,
// request timeouts and network timeouts. Auth and not-found errors are not.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code >= 500:
			return true
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code == http.StatusRequestTimeout:
			return true
		case apiErr.Code == http.StatusForbidden:
			for _, item := range apiErr.Errors {
				if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
					return true
				}
			}
		}
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
