package storage

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"shorts-optimizer/internal/models"

	"github.com/google/uuid"
)

const (
	MetricsFile   = "metrics.json"
	DiagnosisFile = "diagnosis.json"
	VariantFile   = "variant_plan.json"
	SummaryFile   = "summary.md"

	// TimestampLayout names run directories; it sorts lexically and has no colons.
	TimestampLayout = "20060102T150405.000Z"
	tmpPrefix       = ".tmp-"
)

//go:embed summary.md.tmpl
var summaryTemplateText string

var summaryTemplate = template.Must(template.New("summary").Funcs(template.FuncMap{
	"pct": func(v *float64) string {
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.2f%%", *v)
	},
	"num": func(v *float64) string {
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.2f", *v)
	},
	"yesno": func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	},
	"join": strings.Join,
	"rfc3339": func(t time.Time) string {
		return t.UTC().Format(time.RFC3339)
	},
	"oneline": func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	},
}).Parse(summaryTemplateText))

// Writer persists per-video artifacts under an output directory. Each call
// produces a new timestamped directory, written to a temporary path and
// renamed into place once every artifact is on disk.
type Writer struct {
	outDir string
	// RunID is recorded in the summary and the returned record.
	RunID string

	writeFile func(name string, data []byte, perm os.FileMode) error
}

func NewWriter(outDir string) *Writer {
	return &Writer{outDir: outDir, writeFile: os.WriteFile}
}

type summaryData struct {
	RunID       string
	GeneratedAt time.Time
	Video       *models.Video
	Metrics     *models.Metrics
	Diagnosis   *models.Diagnosis
	Plan        *models.VariantPlan
}

type artifact struct {
	name string
	data []byte
}

func (w *Writer) Write(video *models.Video, metrics *models.Metrics, diagnosis *models.Diagnosis, plan *models.VariantPlan, generatedAt time.Time) (*models.OutputRecord, error) {
	if video == nil {
		return nil, errors.New("video cannot be nil")
	}

	videoDir := filepath.Join(w.outDir, dirName(video.VideoID))
	finalDir := filepath.Join(videoDir, generatedAt.UTC().Format(TimestampLayout))
	fail := func(path string, err error) (*models.OutputRecord, error) {
		return nil, &models.OutputWriteError{VideoID: video.VideoID, Path: path, Err: err}
	}

	if err := checkTraceable(video, metrics, diagnosis, plan); err != nil {
		return fail(finalDir, err)
	}

	artifacts, err := w.render(video, metrics, diagnosis, plan, generatedAt)
	if err != nil {
		return fail(finalDir, err)
	}

	if err := os.MkdirAll(videoDir, 0755); err != nil {
		return fail(videoDir, fmt.Errorf("failed to create video directory: %w", err))
	}
	tmpDir := filepath.Join(videoDir, tmpPrefix+uuid.NewString())
	if err := os.Mkdir(tmpDir, 0755); err != nil {
		return fail(tmpDir, fmt.Errorf("failed to create temporary directory: %w", err))
	}

	names := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		if err := w.writeFile(filepath.Join(tmpDir, a.name), a.data, 0644); err != nil {
			os.RemoveAll(tmpDir)
			return fail(finalDir, fmt.Errorf("failed to write %s: %w", a.name, err))
		}
		names = append(names, a.name)
	}

	// A second run in the same millisecond keeps both directories.
	if _, err := os.Stat(finalDir); err == nil {
		finalDir = finalDir + "-" + uuid.NewString()[:8]
	}
	if err := os.Rename(tmpDir, finalDir); err != nil {
		os.RemoveAll(tmpDir)
		return fail(finalDir, fmt.Errorf("failed to finalize output directory: %w", err))
	}

	return &models.OutputRecord{OutputDir: finalDir, Artifacts: names, RunID: w.RunID}, nil
}

func checkTraceable(video *models.Video, metrics *models.Metrics, diagnosis *models.Diagnosis, plan *models.VariantPlan) error {
	if metrics == nil {
		return errors.New("metrics cannot be nil")
	}
	if err := diagnosis.Validate(); err != nil {
		return fmt.Errorf("invalid diagnosis: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("invalid variant plan: %w", err)
	}
	owners := []struct{ kind, id string }{
		{"metrics", metrics.VideoID},
		{"diagnosis", diagnosis.VideoID},
		{"variant plan", plan.VideoID},
	}
	for _, o := range owners {
		if o.id != "" && o.id != video.VideoID {
			return fmt.Errorf("%s belongs to %s, not %s", o.kind, o.id, video.VideoID)
		}
	}
	return nil
}

func (w *Writer) render(video *models.Video, metrics *models.Metrics, diagnosis *models.Diagnosis, plan *models.VariantPlan, generatedAt time.Time) ([]artifact, error) {
	var artifacts []artifact
	for _, item := range []struct {
		name string
		v    any
	}{
		{MetricsFile, metrics},
		{DiagnosisFile, diagnosis},
		{VariantFile, plan},
	} {
		data, err := json.MarshalIndent(item.v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", item.name, err)
		}
		artifacts = append(artifacts, artifact{name: item.name, data: append(data, '\n')})
	}

	var buf bytes.Buffer
	err := summaryTemplate.Execute(&buf, summaryData{
		RunID:       w.RunID,
		GeneratedAt: generatedAt,
		Video:       video,
		Metrics:     metrics,
		Diagnosis:   diagnosis,
		Plan:        plan,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", SummaryFile, err)
	}
	artifacts = append(artifacts, artifact{name: SummaryFile, data: buf.Bytes()})
	return artifacts, nil
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// dirName maps a video id onto a single safe path element.
func dirName(videoID string) string {
	name := unsafePathChars.ReplaceAllString(videoID, "_")
	if name == "" {
		return "_"
	}
	return name
}
