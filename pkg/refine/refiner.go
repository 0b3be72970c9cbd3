package refine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/XiaoConstantine/engram-go/pkg/episodic"
	"github.com/XiaoConstantine/engram-go/pkg/logging"
)

// Options configures the optional rewrite capabilities. Nil
// capabilities are simply skipped.
type Options struct {
	Rewrite        RewriteCapability
	RewriteFloor   float64
	ArchiveRewrite RewriteCapability
	ArchiveRescue  RewriteCapability
	MaxChars       int
	Timeout        time.Duration
}

// DefaultOptions gates the rewrite capability at 0.45 and bounds a
// rewrite to 280 characters and 10 seconds.
func DefaultOptions() Options {
	return Options{
		RewriteFloor: 0.45,
		MaxChars:     280,
		Timeout:      10 * time.Second,
	}
}

// Refiner drives candidate statements toward a target unified score,
// never keeping anything that ranks below the best seen so far.
type Refiner struct {
	grader Grader
	opts   Options
	logger *logging.Logger
}

func NewRefiner(grader Grader, opts Options, logger *logging.Logger) *Refiner {
	if grader == nil {
		grader = LexicalGrader{}
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Refiner{grader: grader, opts: opts, logger: logger}
}

// RankKey orders candidates: not-suppressed first, then unified score,
// then the sub-score sum, then shorter text.
func RankKey(text string, q *episodic.AdvisoryQuality) [4]float64 {
	notSuppressed := 1.0
	if q.Suppressed {
		notSuppressed = 0
	}
	return [4]float64{notSuppressed, q.UnifiedScore, q.SubScoreSum(), -float64(len(text))}
}

func RankHigher(a, b [4]float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// RefineDistillation returns the best-ranked (text, quality) pair it
// can find. It never fails: at worst the input comes back with its own
// grade.
func (r *Refiner) RefineDistillation(ctx context.Context, statement, source string, ectx Context, minUnified float64) (string, *episodic.AdvisoryQuality) {
	bestText := statement
	bestQ := r.grade(ctx, statement, source)

	consider := func(candidate string) {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || candidate == bestText {
			return
		}
		q := r.grade(ctx, candidate, source)
		if RankHigher(RankKey(candidate, q), RankKey(bestText, bestQ)) {
			bestText, bestQ = candidate, q
		}
	}

	if bestQ.UnifiedScore < minUnified {
		consider(Elevate(bestText, ectx))
	}
	if bestQ.UnifiedScore < minUnified {
		if t := templateRewrite(bestQ.Structure); t != "" {
			consider(t)
		}
	}
	if bestQ.UnifiedScore < minUnified {
		if t := composeFromStructure(bestQ.Structure); t != "" {
			consider(t)
		}
	}

	if r.opts.Rewrite != nil && (bestQ.Suppressed || bestQ.UnifiedScore < r.opts.RewriteFloor) {
		consider(r.callCapability(ctx, r.opts.Rewrite, "refine.rewrite", bestText, ectx))
	}
	if bestQ.Suppressed || bestQ.UnifiedScore < minUnified {
		if r.opts.ArchiveRewrite != nil {
			consider(r.callCapability(ctx, r.opts.ArchiveRewrite, "refine.archive_rewrite", bestText, ectx))
		}
		if r.opts.ArchiveRescue != nil {
			consider(r.callCapability(ctx, r.opts.ArchiveRescue, "refine.archive_rescue", bestText, ectx))
		}
	}

	return bestText, bestQ
}

func (r *Refiner) grade(ctx context.Context, text, source string) *episodic.AdvisoryQuality {
	q, err := r.grader.TransformForAdvisory(ctx, text, source)
	if err != nil || q == nil {
		if err != nil {
			r.logger.Warn(ctx, "grading failed, treating candidate as unscored: %v", err)
		}
		return &episodic.AdvisoryQuality{AdvisoryText: text}
	}
	return q
}

func (r *Refiner) callCapability(ctx context.Context, rc RewriteCapability, areaID, fallback string, ectx Context) string {
	callCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	prompt := buildRewritePrompt(fallback, ectx, r.opts.MaxChars)
	res := rc.Call(callCtx, areaID, prompt, fallback)
	text := strings.TrimSpace(res.Text)
	if r.opts.MaxChars > 0 && len(text) > r.opts.MaxChars {
		text = text[:r.opts.MaxChars]
	}
	if res.UsedLLM {
		r.logger.Debug(ctx, "rewrite capability %s answered via %s in %v", areaID, res.Provider, res.Latency)
	}
	return text
}

func buildRewritePrompt(statement string, ectx Context, maxChars int) string {
	var b strings.Builder
	b.WriteString("Rewrite this rule as one imperative sentence with an explicit reason.\n")
	if maxChars > 0 {
		fmt.Fprintf(&b, "Stay under %d characters.\n", maxChars)
	}
	fmt.Fprintf(&b, "Rule: %s\n", statement)
	if ectx.Error != "" {
		fmt.Fprintf(&b, "Observed failure: %s\n", ectx.Error)
	}
	if ectx.Domain != "" {
		fmt.Fprintf(&b, "Domain: %s\n", ectx.Domain)
	}
	b.WriteString("Answer with the rewritten rule only.")
	return b.String()
}

// templateRewrite assembles "When {condition}: {action} because
// {reasoning} to {outcome}" from whatever structured fields the grader
// filled in. Results under 20 characters are discarded as too thin.
func templateRewrite(s episodic.QualityStructure) string {
	var b strings.Builder
	if s.Condition != "" {
		fmt.Fprintf(&b, "When %s: ", s.Condition)
	}
	if s.Action != "" {
		b.WriteString(s.Action)
	}
	if s.Reasoning != "" {
		fmt.Fprintf(&b, " because %s", s.Reasoning)
	}
	if s.Outcome != "" {
		fmt.Fprintf(&b, " to %s", s.Outcome)
	}
	out := strings.TrimSpace(b.String())
	if len(out) < 20 {
		return ""
	}
	return capitalizeFirst(out)
}

// composeFromStructure is the from-scratch fallback: action first,
// then scope and reason.
func composeFromStructure(s episodic.QualityStructure) string {
	if s.Action == "" {
		return ""
	}
	out := capitalizeFirst(s.Action)
	if s.Condition != "" {
		out += " when " + s.Condition
	}
	if s.Reasoning != "" {
		out += " because " + s.Reasoning
	}
	return out
}
