package shortsoptimizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shorts-optimizer/agents/shorts-optimizer/optimizer"
	"shorts-optimizer/agents/shorts-optimizer/youtube"
	"shorts-optimizer/internal/models"
	"shorts-optimizer/shared/ai"
	"shorts-optimizer/shared/config"
	"shorts-optimizer/shared/monitoring"
	"shorts-optimizer/shared/skills"
	"shorts-optimizer/shared/storage"

	"github.com/google/uuid"
)

const noGeneratorNotice = "GEMINI_API_KEY missing. Using deterministic diagnosis and rewrite fallback only."

// Optimizer runs the per-video pipeline: metrics, diagnosis, rewrite, output.
// Videos are processed one at a time and the first unrecovered error aborts
// the run.
type Optimizer struct {
	Config    *config.Config
	Source    youtube.Source
	Diagnoser optimizer.Diagnoser
	Rewriter  optimizer.Rewriter
	Writer    *storage.Writer
	History   *storage.History
	Rules     *skills.Rules
	Reporter  *monitoring.Reporter

	// Now stamps each video's outputs; defaults to time.Now.
	Now   func() time.Time
	RunID string
}

func NewOptimizer(cfg *config.Config) *Optimizer {
	return &Optimizer{Config: cfg}
}

func (o *Optimizer) Name() string {
	return "Shorts Optimizer"
}

// Initialize fills every collaborator that was not set by the caller. The
// text-generation capability is checked once here; the strategies chosen
// stay fixed for the whole run.
func (o *Optimizer) Initialize(ctx context.Context) error {
	if o.Config == nil {
		return &models.ConfigError{Err: errors.New("configuration is required")}
	}
	if o.Reporter == nil {
		o.Reporter = monitoring.NewReporter(nil, nil)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}

	if o.Config.MockMode && o.Config.MockReason != "" {
		o.Reporter.Notice("%s", o.Config.MockReason)
	}

	if o.Rules == nil {
		rules, err := skills.Load(o.Config.RepoRoot)
		if err != nil {
			return err
		}
		o.Rules = rules
	}

	if o.Source == nil {
		source, err := youtube.NewSource(ctx, o.Config, o.Reporter.Logger())
		if err != nil {
			return fmt.Errorf("failed to create video source: %w", err)
		}
		o.Source = source
	}

	if o.Diagnoser == nil || o.Rewriter == nil {
		gen := o.generator(ctx)
		if o.Diagnoser == nil {
			o.Diagnoser = optimizer.NewDiagnoser(gen)
		}
		if o.Rewriter == nil {
			o.Rewriter = optimizer.NewRewriter(gen)
		}
	}

	if o.Writer == nil {
		o.Writer = storage.NewWriter(o.Config.Output.Dir)
	}
	if o.Writer.RunID == "" {
		o.Writer.RunID = o.RunID
	}

	if o.History == nil {
		history, err := storage.OpenHistory(o.Config.Output.Dir)
		if err != nil {
			o.Reporter.Warnf("run history unavailable: %v", err)
		} else {
			o.History = history
			o.Reporter.Infof("Run history loaded (%d videos tracked)", history.Count())
		}
	}

	return nil
}

// generator returns nil when assisted mode is unavailable. Mock runs never
// call the text-generation service.
func (o *Optimizer) generator(ctx context.Context) ai.Generator {
	if !o.Config.HasTextGeneration() {
		o.Reporter.Notice(noGeneratorNotice)
		return nil
	}
	if o.Config.MockMode {
		return nil
	}
	gen, err := ai.NewGeminiGenerator(ctx, &o.Config.AI)
	if err != nil {
		o.Reporter.Infof("Text generation unavailable, using deterministic fallback: %v", err)
		return nil
	}
	return gen
}

// Run optimizes every selected video in selection order and returns one
// summary row per video. An empty selection returns models.ErrNoMatch before
// any per-video work starts.
func (o *Optimizer) Run(ctx context.Context, criteria youtube.Criteria) ([]models.SummaryRow, error) {
	startTime := time.Now()
	metrics := monitoring.RunMetrics{RunID: o.RunID}

	rows, err := o.run(ctx, criteria, &metrics)
	duration := time.Since(startTime)
	if err != nil {
		o.Reporter.RecordCriticalFailure(metrics, err, duration)
		return nil, err
	}

	o.Reporter.RecordSuccess(metrics, duration)
	return rows, nil
}

func (o *Optimizer) run(ctx context.Context, criteria youtube.Criteria, metrics *monitoring.RunMetrics) ([]models.SummaryRow, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}

	o.Reporter.Infof("Starting run %s", o.RunID)
	videos, err := o.Source.SelectVideos(ctx, criteria)
	if err != nil {
		if errors.Is(err, models.ErrNoMatch) {
			return nil, models.ErrNoMatch
		}
		return nil, fmt.Errorf("failed to select videos: %w", err)
	}
	if len(videos) == 0 {
		return nil, models.ErrNoMatch
	}
	metrics.Selected = len(videos)
	o.Reporter.Infof("Selected %d videos", len(videos))

	rows := make([]models.SummaryRow, 0, len(videos))
	for i, video := range videos {
		o.Reporter.Infof("Optimizing video %d/%d: %s (%s)", i+1, len(videos), video.VideoID, video.Title)

		row, err := o.optimizeVideo(ctx, video, metrics)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		metrics.Optimized++
	}

	return rows, nil
}

func (o *Optimizer) optimizeVideo(ctx context.Context, video *models.Video, runMetrics *monitoring.RunMetrics) (models.SummaryRow, error) {
	generatedAt := o.Now().UTC()

	metrics, err := o.Source.FetchMetrics(ctx, video)
	if err != nil {
		return models.SummaryRow{}, fmt.Errorf("failed to fetch metrics for %s: %w", video.VideoID, err)
	}

	diagnosis, err := o.Diagnoser.Diagnose(ctx, video, metrics, o.Rules)
	if err != nil {
		return models.SummaryRow{}, fmt.Errorf("failed to diagnose %s: %w", video.VideoID, err)
	}
	if diagnosis.UsedFallback {
		runMetrics.DiagnosisFallbacks++
		o.Reporter.Infof("Diagnosis for %s used rule-based fallback: %s", video.VideoID, diagnosis.FallbackReason)
	}

	plan, err := o.Rewriter.Rewrite(ctx, video, metrics, diagnosis, o.Rules, generatedAt)
	if err != nil {
		return models.SummaryRow{}, fmt.Errorf("failed to rewrite %s: %w", video.VideoID, err)
	}
	if plan.UsedFallback {
		runMetrics.RewriteFallbacks++
		o.Reporter.Infof("Rewrite for %s used template fallback: %s", video.VideoID, plan.FallbackReason)
	}

	record, err := o.Writer.Write(video, metrics, diagnosis, plan, generatedAt)
	if err != nil {
		return models.SummaryRow{}, err
	}
	o.Reporter.Infof("Wrote %d artifacts for %s to %s", len(record.Artifacts), video.VideoID, record.OutputDir)

	if o.History != nil {
		if prev, ok := o.History.Last(video.VideoID); ok {
			o.Reporter.Infof("Previous run %s for %s: primary fix %s, CTR %s", prev.RunID, video.VideoID, prev.PrimaryFix, Pct(prev.CTR))
		}
		entry := storage.HistoryEntry{
			VideoID:     video.VideoID,
			RunID:       o.RunID,
			GeneratedAt: generatedAt,
			PrimaryFix:  diagnosis.PrimaryFix,
			CTR:         metrics.ImpressionClickThroughRate,
			OutputDir:   record.OutputDir,
		}
		if err := o.History.Record(entry); err != nil {
			o.Reporter.Warnf("Failed to record run history for %s: %v", video.VideoID, err)
		}
	}

	return models.SummaryRow{
		VideoID:    video.VideoID,
		CTR:        metrics.ImpressionClickThroughRate,
		PrimaryFix: diagnosis.PrimaryFix,
		OutputDir:  record.OutputDir,
	}, nil
}
