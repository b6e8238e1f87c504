package monitoring

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// NoticePrefix marks user-facing informational lines.
const NoticePrefix = "[shorts-optimizer]"

// Reporter is the single place the pipeline talks to the terminal. Notices go
// to the notice writer; progress and outcomes go to the logger.
type Reporter struct {
	notices io.Writer
	logger  *log.Logger
}

func NewReporter(notices, logs io.Writer) *Reporter {
	if notices == nil {
		notices = os.Stdout
	}
	if logs == nil {
		logs = os.Stderr
	}
	return &Reporter{
		notices: notices,
		logger:  log.New(logs, "", log.LstdFlags),
	}
}

// Notice prints an informational line such as the mock-mode reason.
func (r *Reporter) Notice(format string, args ...any) {
	fmt.Fprintf(r.notices, "%s %s\n", NoticePrefix, fmt.Sprintf(format, args...))
}

// Logger exposes the progress logger to collaborators that log on their own.
func (r *Reporter) Logger() *log.Logger {
	return r.logger
}

func (r *Reporter) Infof(format string, args ...any) {
	r.logger.Printf(format, args...)
}

func (r *Reporter) Warnf(format string, args ...any) {
	r.logger.Printf("Warning: "+format, args...)
}

// RunMetrics counts what happened during one run.
type RunMetrics struct {
	RunID              string
	Selected           int
	Optimized          int
	DiagnosisFallbacks int
	RewriteFallbacks   int
}

func (m RunMetrics) GetSummary() string {
	return fmt.Sprintf("selected %d, optimized %d, diagnosis fallbacks %d, rewrite fallbacks %d",
		m.Selected, m.Optimized, m.DiagnosisFallbacks, m.RewriteFallbacks)
}

func (r *Reporter) RecordSuccess(metrics RunMetrics, duration time.Duration) {
	r.logger.Printf("Run %s completed successfully - %s (took %v)", metrics.RunID, metrics.GetSummary(), duration.Round(time.Millisecond))
}

func (r *Reporter) RecordCriticalFailure(metrics RunMetrics, err error, duration time.Duration) {
	r.logger.Printf("CRITICAL FAILURE in run %s: %v (%s, took %v)", metrics.RunID, err, metrics.GetSummary(), duration.Round(time.Millisecond))
}
