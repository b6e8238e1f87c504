package optimizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"shorts-optimizer/internal/models"
	"shorts-optimizer/shared/skills"
)

const diagnosisSystemPrompt = "You are a YouTube Shorts packaging analyst. Reply with a single JSON object and nothing else."

const rewriteSystemPrompt = "You are a YouTube Shorts copy editor. You rephrase, reorder and emphasise; you never invent facts. Reply with a single JSON object and nothing else."

func labelList() string {
	labels := make([]string, len(models.FixLabels))
	for i, l := range models.FixLabels {
		labels[i] = string(l)
	}
	return strings.Join(labels, ", ")
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func rulesText(rules *skills.Rules) string {
	if rules == nil || strings.TrimSpace(rules.Text) == "" {
		return "(no heuristics document provided)"
	}
	return rules.Text
}

func buildDiagnosisPrompt(video *models.Video, metrics *models.Metrics, rules *skills.Rules, base *models.Diagnosis) string {
	return fmt.Sprintf(`Diagnose why this Short is under-performing on click-through and retention.

HEURISTICS:
%s

VIDEO:
Title: %s
Description: %s
Duration: %.0f seconds

METRICS (JSON):
%s

RULE-BASED DIAGNOSIS (JSON):
%s

You may re-rank or refine the rule-based findings. Every "issue" and "primaryFix" must be one of: %s.
Every "severity" must be one of: low, medium, high, critical. "confidence" is a number between 0 and 1.
"primaryFix" must be the issue of the most severe finding. Use insufficient-data only when no CTR is reported.

Respond with JSON in exactly this shape:
{
  "primaryFix": "<label>",
  "confidence": 0.0,
  "summary": "<one or two sentences>",
  "findings": [
    {"issue": "<label>", "evidenceMetric": "<metric name>", "evidenceValue": 0.0, "severity": "<severity>", "detail": "<short explanation>"}
  ]
}`,
		rulesText(rules),
		video.Title,
		video.Description,
		video.DurationSeconds,
		compactJSON(metrics),
		compactJSON(base),
		labelList(),
	)
}

func buildRewritePrompt(video *models.Video, diagnosis *models.Diagnosis, rules *skills.Rules, base *models.VariantPlan, maxTitle int) string {
	return fmt.Sprintf(`Rewrite the packaging of this Short to address the primary fix "%s".

HEURISTICS:
%s

ORIGINAL:
Title: %s
Description: %s

DIAGNOSIS (JSON):
%s

TEMPLATE VARIANT (JSON):
%s

Rules:
- The proposed title must be different from the original and at most %d characters.
- Keep the core keywords of the original title.
- Do not add numbers, statistics, names or claims that are not in the original title or description.
- The hook is the first spoken or on-screen line of the Short.

Respond with JSON in exactly this shape:
{
  "proposedTitle": "<title>",
  "proposedHook": "<hook line>",
  "proposedDescription": "<description>",
  "pinnedComment": "<comment>",
  "rationale": "<why this addresses %s>"
}`,
		diagnosis.PrimaryFix,
		rulesText(rules),
		video.Title,
		video.Description,
		compactJSON(diagnosis),
		compactJSON(base),
		maxTitle,
		diagnosis.PrimaryFix,
	)
}
