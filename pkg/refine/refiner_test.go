package refine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/engram-go/pkg/episodic"
)

// scriptedGrader returns canned scores per exact text, falling back to
// the lexical grader for everything else.
type scriptedGrader struct {
	scores map[string]*episodic.AdvisoryQuality
}

func (g scriptedGrader) TransformForAdvisory(ctx context.Context, text, source string) (*episodic.AdvisoryQuality, error) {
	if q, ok := g.scores[text]; ok {
		out := *q
		out.AdvisoryText = text
		return &out, nil
	}
	return LexicalGrader{}.TransformForAdvisory(ctx, text, source)
}

type recordingRewriter struct {
	reply  string
	called bool
}

func (r *recordingRewriter) Call(_ context.Context, _, _, fallback string) RewriteResult {
	r.called = true
	if r.reply == "" {
		return RewriteResult{Text: fallback}
	}
	return RewriteResult{Text: r.reply, UsedLLM: true, Provider: "test", Latency: time.Millisecond}
}

func TestRefineKeepsElevatedCandidate(t *testing.T) {
	r := NewRefiner(nil, DefaultOptions(), nil)

	text, q := r.RefineDistillation(context.Background(), "Maybe consider using Redis", "active", Context{
		Error: "cache misses held p95 at 2.3s",
	}, 0.60)

	assert.NotContains(t, text, "Maybe")
	assert.Contains(t, text, "because")
	require.NotNil(t, q)
	assert.False(t, q.Suppressed)
}

func TestRefineNonRegression(t *testing.T) {
	r := NewRefiner(nil, DefaultOptions(), nil)
	ctx := context.Background()

	inputs := []string{
		"Maybe consider using Redis",
		"Close connections in a defer because leaks exhaust the pool",
		"It was found that caching improves latency",
		"x",
	}
	for _, input := range inputs {
		baseline, err := LexicalGrader{}.TransformForAdvisory(ctx, input, "active")
		require.NoError(t, err)

		text, q := r.RefineDistillation(ctx, input, "active", Context{}, 0.9)
		assert.False(t, RankHigher(RankKey(input, baseline), RankKey(text, q)),
			"refined %q ranked below its input", input)
	}
}

func TestRefineStopsOnceAboveFloor(t *testing.T) {
	rw := &recordingRewriter{reply: "Should not be consulted"}
	opts := DefaultOptions()
	opts.Rewrite = rw
	r := NewRefiner(nil, opts, nil)

	good := "Check the index before querying because full scans stall the batch"
	text, q := r.RefineDistillation(context.Background(), good, "active", Context{}, 0.30)
	assert.Equal(t, good, text)
	assert.GreaterOrEqual(t, q.UnifiedScore, 0.30)
	assert.False(t, rw.called)
}

func TestRefineConsultsRewriteWhenSuppressed(t *testing.T) {
	rw := &recordingRewriter{reply: "Validate the payload before sending because malformed rows poison the queue"}
	opts := DefaultOptions()
	opts.Rewrite = rw
	r := NewRefiner(nil, opts, nil)

	// Under 10 characters, so the lexical grader suppresses it.
	text, q := r.RefineDistillation(context.Background(), "bad", "active", Context{}, 0.60)
	assert.True(t, rw.called)
	assert.Equal(t, rw.reply, text)
	assert.False(t, q.Suppressed)
}

func TestRefineRejectsWorseRewrite(t *testing.T) {
	rw := &recordingRewriter{reply: "meh"}
	opts := DefaultOptions()
	opts.Rewrite = rw
	opts.RewriteFloor = 0.99
	r := NewRefiner(nil, opts, nil)

	input := "Batch writes into one transaction because row-at-a-time commits are slow"
	text, _ := r.RefineDistillation(context.Background(), input, "active", Context{}, 0.99)
	assert.True(t, rw.called)
	assert.Equal(t, input, text)
}

func TestRefineUsesTemplateRewrite(t *testing.T) {
	weak := "something vague happened somewhere"
	g := scriptedGrader{scores: map[string]*episodic.AdvisoryQuality{
		weak: {
			UnifiedScore:  0.2,
			Actionability: 0.2,
			Reasoning:     0.2,
			Specificity:   0.2,
			Structure: episodic.QualityStructure{
				Condition: "a batch import runs",
				Action:    "disable per-row triggers",
				Reasoning: "trigger overhead dominates",
			},
		},
	}}
	r := NewRefiner(g, DefaultOptions(), nil)

	text, q := r.RefineDistillation(context.Background(), weak, "active", Context{}, 0.60)
	assert.Contains(t, text, "disable per-row triggers")
	assert.Contains(t, text, "because trigger overhead dominates")
	assert.Greater(t, q.UnifiedScore, 0.2)
}

func TestTemplateRewriteDiscardsThinResults(t *testing.T) {
	assert.Equal(t, "", templateRewrite(episodic.QualityStructure{Action: "do it"}))
	assert.Equal(t, "", templateRewrite(episodic.QualityStructure{}))
}

func TestDisabledRewriter(t *testing.T) {
	res := DisabledRewriter{}.Call(context.Background(), "area", "prompt", "fallback")
	assert.Equal(t, "fallback", res.Text)
	assert.False(t, res.UsedLLM)
}
