package shortsoptimizer

import (
	"fmt"
	"io"
	"strings"

	"shorts-optimizer/internal/models"
)

var summaryHeaders = [4]string{"videoId", "CTR", "suggested primary fix", "output folder"}

// Pct formats a percentage with two decimals, or n/a when absent.
func Pct(value *float64) string {
	if value == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", *value)
}

// PrintSummary writes the run summary as a fixed-width table. The last
// column is not padded.
func PrintSummary(w io.Writer, rows []models.SummaryRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No videos were optimized.")
		return
	}

	idWidth := len(summaryHeaders[0])
	ctrWidth := len(summaryHeaders[1])
	fixWidth := len(summaryHeaders[2])
	for _, row := range rows {
		idWidth = max(idWidth, len(row.VideoID))
		ctrWidth = max(ctrWidth, len(Pct(row.CTR)))
		fixWidth = max(fixWidth, len(row.PrimaryFix))
	}

	fmt.Fprintf(w, "%-*s  %-*s  %-*s  %s\n", idWidth, summaryHeaders[0], ctrWidth, summaryHeaders[1], fixWidth, summaryHeaders[2], summaryHeaders[3])
	fmt.Fprintf(w, "%s  %s  %s  %s\n",
		strings.Repeat("-", idWidth), strings.Repeat("-", ctrWidth), strings.Repeat("-", fixWidth), strings.Repeat("-", len(summaryHeaders[3])))
	for _, row := range rows {
		fmt.Fprintf(w, "%-*s  %-*s  %-*s  %s\n", idWidth, row.VideoID, ctrWidth, Pct(row.CTR), fixWidth, row.PrimaryFix, row.OutputDir)
	}
}
