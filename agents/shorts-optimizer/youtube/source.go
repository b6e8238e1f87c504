package youtube

import (
	"context"
	"fmt"
	"log"

	"shorts-optimizer/internal/models"
	"shorts-optimizer/shared/config"
)

// Criteria selects the videos a run optimizes. VideoID takes precedence over Last.
type Criteria struct {
	Last        int
	VideoID     string
	ChannelMine bool
}

func (c Criteria) Validate() error {
	if c.VideoID == "" && c.Last < 1 {
		return fmt.Errorf("--last must be a positive integer, got %d", c.Last)
	}
	return nil
}

// Source retrieves candidate videos and their metrics.
type Source interface {
	// SelectVideos returns a non-empty newest-first list or models.ErrNoMatch.
	SelectVideos(ctx context.Context, criteria Criteria) ([]*models.Video, error)
	FetchMetrics(ctx context.Context, video *models.Video) (*models.Metrics, error)
}

// NewSource picks the fixture or live implementation once, from cfg.MockMode.
// The live client writes its warnings to logger.
func NewSource(ctx context.Context, cfg *config.Config, logger *log.Logger) (Source, error) {
	if cfg.MockMode {
		return NewFixtureSource(cfg.YouTube.FixturePath)
	}
	return NewClient(ctx, cfg, logger)
}

var (
	_ Source = (*Client)(nil)
	_ Source = (*FixtureSource)(nil)
)
