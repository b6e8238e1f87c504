package optimizer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"shorts-optimizer/internal/models"
	"shorts-optimizer/shared/ai"
	"shorts-optimizer/shared/skills"
)

const (
	defaultMaxTitle = 70
	maxHashtags     = 5
	// minCoreRunes is the shortest core idea kept in front of a suffix.
	minCoreRunes = 8
)

// Rewriter turns a diagnosis into a content variant.
type Rewriter interface {
	Rewrite(ctx context.Context, video *models.Video, metrics *models.Metrics, diagnosis *models.Diagnosis, rules *skills.Rules, generatedAt time.Time) (*models.VariantPlan, error)
}

// NewRewriter returns the assisted strategy when gen is non-nil, otherwise
// the template-based one.
func NewRewriter(gen ai.Generator) Rewriter {
	if gen == nil {
		return templateRewriter{}
	}
	return &assistedRewriter{gen: gen}
}

type fixTemplate struct {
	suffixes  []string
	hook      string
	lead      string
	pinned    string
	rationale string
}

var templates = map[models.FixLabel]fixTemplate{
	models.FixHookWeak: {
		suffixes:  []string{": The Part Everyone Skips", " (Watch Before You Scroll)", " Explained Fast"},
		hook:      "Stop scrolling: %s is not what most people think.",
		lead:      "The key moment is right at the start: %s.",
		pinned:    "Did the first few seconds hook you? Tell me what almost made you scroll.",
		rationale: "CTR is weak and viewers leave early, so the opening beat moves the payoff to the first line.",
	},
	models.FixThumbnailMismatch: {
		suffixes:  []string{" (Straight to the Point)", ": What You Actually See", " Shown Up Front"},
		hook:      "You clicked for %s, so here it is right away.",
		lead:      "What you see first is what this Short delivers: %s.",
		pinned:    "Was this what you expected when you clicked? Let me know below.",
		rationale: "Viewers click but leave in the first seconds, so the packaging now promises exactly what the opening shows.",
	},
	models.FixTitleUnderselling: {
		suffixes:  []string{": The Detail Most People Miss", ": What Actually Changes", " (Explained Clearly)"},
		hook:      "Here is the part of %s most people miss.",
		lead:      "The specific takeaway: %s.",
		pinned:    "Which detail surprised you most? Drop it in the comments.",
		rationale: "Viewers who click stay, so a more specific title that keeps the core keywords should earn more clicks.",
	},
	models.FixRetentionDropEarly: {
		suffixes:  []string{" in One Quick Take", ": Fast Breakdown", " (No Filler)"},
		hook:      "Quick reality check: %s.",
		lead:      "No intro, straight into it: %s.",
		pinned:    "Should the next one be even shorter? Tell me below.",
		rationale: "Retention drops early, so the variant cuts the setup and opens on the core idea.",
	},
	models.FixNoClearCTA: {
		suffixes:  []string{": Would You Try This?", " (Tell Me Your Take)", ": Which Side Are You On?"},
		hook:      "Before you scroll past %s, tell me one thing.",
		lead:      "Comment your take after watching: %s.",
		pinned:    "Would you try this? Reply yes or no and why.",
		rationale: "CTR is healthy but reach is small, so the variant asks for a comment to build engagement signals.",
	},
	models.FixInsufficientData: {
		suffixes:  []string{": Quick Take", " (Short Version)", ": In Brief"},
		hook:      "In a few seconds: %s.",
		lead:      "Short version: %s.",
		pinned:    "What would you like to see next on this topic?",
		rationale: "There is not enough data to target a specific weakness, so the variant is a conservative packaging test.",
	},
}

// lastResorts are tried in order when every suffix collides. The last two
// are distinct constants, so at most one of them can equal the original.
const lastResortPrefix = "New Take: "

var lastResortTitles = []string{lastResortPrefix + "this Short", "Another Take"}

type templateRewriter struct{}

func (templateRewriter) Rewrite(ctx context.Context, video *models.Video, metrics *models.Metrics, diagnosis *models.Diagnosis, rules *skills.Rules, generatedAt time.Time) (*models.VariantPlan, error) {
	if err := checkRewriteInputs(video, diagnosis); err != nil {
		return nil, err
	}
	plan := RewriteWithTemplates(video, diagnosis, rules, generatedAt)
	plan.FallbackReason = reasonNoGenerator
	return plan, nil
}

func checkRewriteInputs(video *models.Video, diagnosis *models.Diagnosis) error {
	if video == nil {
		return errors.New("video cannot be nil")
	}
	if diagnosis == nil {
		return fmt.Errorf("diagnosis for %s cannot be nil", video.VideoID)
	}
	if diagnosis.VideoID != "" && diagnosis.VideoID != video.VideoID {
		return fmt.Errorf("diagnosis belongs to %s, not %s", diagnosis.VideoID, video.VideoID)
	}
	return nil
}

func maxTitleLength(rules *skills.Rules) int {
	if rules == nil || rules.MaxTitleLength <= 0 {
		return defaultMaxTitle
	}
	return rules.MaxTitleLength
}

// RewriteWithTemplates builds a deterministic variant whose title always
// differs from the original.
func RewriteWithTemplates(video *models.Video, diagnosis *models.Diagnosis, rules *skills.Rules, generatedAt time.Time) *models.VariantPlan {
	tpl, ok := templates[diagnosis.PrimaryFix]
	if !ok {
		tpl = templates[models.FixTitleUnderselling]
	}
	maxTitle := maxTitleLength(rules)
	core := coreIdea(video.Title)
	if core == "" {
		core = "this Short"
	}

	title := ""
	for _, suffix := range tpl.suffixes {
		candidate := fitTitle(core, suffix, maxTitle)
		if !sameTitle(candidate, video.Title) {
			title = candidate
			break
		}
	}
	if title == "" {
		candidates := append([]string{lastResortPrefix + core}, lastResortTitles...)
		for _, candidate := range candidates {
			title = cutWords(candidate, maxTitle)
			if !sameTitle(title, video.Title) {
				break
			}
		}
	}

	hookCore := cutWords(core, maxTitle)
	description := fmt.Sprintf(tpl.lead, hookCore)
	if original := strings.TrimSpace(video.Description); original != "" {
		description += "\n\n" + original
	}

	return &models.VariantPlan{
		Version:             models.VariantPlanVersion,
		VideoID:             video.VideoID,
		SourceTitle:         video.Title,
		PrimaryFix:          diagnosis.PrimaryFix,
		ProposedTitle:       title,
		ProposedHook:        fmt.Sprintf(tpl.hook, hookCore),
		ProposedDescription: description,
		Hashtags:            hashtags(video.Tags),
		PinnedComment:       tpl.pinned,
		Rationale:           fmt.Sprintf("Addresses %s: %s", diagnosis.PrimaryFix, tpl.rationale),
		GeneratedAt:         generatedAt.UTC(),
		UsedFallback:        true,
	}
}

var (
	bracketChars = strings.NewReplacer("(", " ", ")", " ", "[", " ", "]", " ", "{", " ", "}", " ")
	spaceRun     = regexp.MustCompile(`\s+`)
)

// coreIdea strips brackets and collapses whitespace in a title.
func coreIdea(title string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(bracketChars.Replace(title), " "))
}

func sameTitle(a, b string) bool {
	return strings.EqualFold(coreIdea(a), coreIdea(b))
}

// fitTitle appends suffix to core, cutting core on a word boundary so the
// result fits in max runes.
func fitTitle(core, suffix string, max int) string {
	if utf8.RuneCountInString(core)+utf8.RuneCountInString(suffix) <= max {
		return core + suffix
	}
	budget := max - utf8.RuneCountInString(suffix)
	if budget < minCoreRunes {
		return cutWords(core, max)
	}
	return cutWords(core, budget) + suffix
}

// cutWords shortens s to at most max runes, preferring a word boundary.
func cutWords(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := runes[:max]
	if !unicode.IsSpace(runes[max]) {
		if i := lastSpace(cut); i > 0 {
			cut = cut[:i]
		}
	}
	return strings.TrimRightFunc(string(cut), func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(",:;-|", r)
	})
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}

func sanitizeTag(tag string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(tag) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func hashtags(tags []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tag := range append(append([]string(nil), tags...), "shorts") {
		clean := sanitizeTag(tag)
		if clean == "" || seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, "#"+clean)
		if len(out) == maxHashtags {
			break
		}
	}
	return out
}

var numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

// newNumbers returns the numbers in text that do not occur in source.
func newNumbers(text, source string) []string {
	known := make(map[string]bool)
	for _, n := range numberPattern.FindAllString(source, -1) {
		known[n] = true
	}
	var added []string
	for _, n := range numberPattern.FindAllString(text, -1) {
		if !known[n] {
			added = append(added, n)
		}
	}
	return added
}

type assistedRewriter struct {
	gen ai.Generator
}

func (r *assistedRewriter) Rewrite(ctx context.Context, video *models.Video, metrics *models.Metrics, diagnosis *models.Diagnosis, rules *skills.Rules, generatedAt time.Time) (*models.VariantPlan, error) {
	if err := checkRewriteInputs(video, diagnosis); err != nil {
		return nil, err
	}

	base := RewriteWithTemplates(video, diagnosis, rules, generatedAt)
	if diagnosis.PrimaryFix == models.FixInsufficientData {
		base.FallbackReason = reasonInsufficientData
		return base, nil
	}

	maxTitle := maxTitleLength(rules)
	response, err := r.gen.Generate(ctx, ai.Request{
		System:          rewriteSystemPrompt,
		Prompt:          buildRewritePrompt(video, diagnosis, rules, base, maxTitle),
		MaxOutputTokens: 2048,
	})
	if err != nil {
		base.FallbackReason = fmt.Sprintf("assisted rewrite failed: %v", err)
		return base, nil
	}

	plan, err := acceptAssistedRewrite(response, video, base, maxTitle)
	if err != nil {
		base.FallbackReason = fmt.Sprintf("assisted rewrite rejected: %v", err)
		return base, nil
	}
	return plan, nil
}

type assistedVariant struct {
	ProposedTitle       string `json:"proposedTitle"`
	ProposedHook        string `json:"proposedHook"`
	ProposedDescription string `json:"proposedDescription"`
	PinnedComment       string `json:"pinnedComment"`
	Rationale           string `json:"rationale"`
}

// acceptAssistedRewrite applies the same structural bounds as the template
// path. Missing optional fields are taken from base.
func acceptAssistedRewrite(response string, video *models.Video, base *models.VariantPlan, maxTitle int) (*models.VariantPlan, error) {
	var raw assistedVariant
	if err := ai.DecodeJSON(response, &raw); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(spaceRun.ReplaceAllString(raw.ProposedTitle, " "))
	switch {
	case title == "":
		return nil, errors.New("proposed title is empty")
	case utf8.RuneCountInString(title) > maxTitle:
		return nil, fmt.Errorf("proposed title has %d characters, limit is %d", utf8.RuneCountInString(title), maxTitle)
	case sameTitle(title, video.Title):
		return nil, errors.New("proposed title is unchanged")
	}

	plan := *base
	plan.ProposedTitle = title
	if hook := strings.TrimSpace(raw.ProposedHook); hook != "" {
		plan.ProposedHook = hook
	}
	if desc := strings.TrimSpace(raw.ProposedDescription); desc != "" {
		plan.ProposedDescription = desc
	}
	if pinned := strings.TrimSpace(raw.PinnedComment); pinned != "" {
		plan.PinnedComment = pinned
	}
	if rationale := strings.TrimSpace(raw.Rationale); rationale != "" {
		plan.Rationale = rationale
	}

	source := video.Title + "\n" + video.Description
	generated := strings.Join([]string{plan.ProposedTitle, plan.ProposedHook, plan.ProposedDescription, plan.PinnedComment}, "\n")
	if added := newNumbers(generated, source); len(added) > 0 {
		return nil, fmt.Errorf("introduces numbers absent from the original: %s", strings.Join(added, ", "))
	}

	plan.UsedFallback = false
	plan.FallbackReason = ""
	return &plan, nil
}
