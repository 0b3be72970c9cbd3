package refine

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/XiaoConstantine/engram-go/pkg/episodic"
)

// Grader scores a candidate statement. Implementations must behave as
// pure functions of their inputs.
type Grader interface {
	TransformForAdvisory(ctx context.Context, text, source string) (*episodic.AdvisoryQuality, error)
}

// RewriteResult is what a rewrite capability hands back. A disabled or
// failing capability returns the fallback text with UsedLLM=false.
type RewriteResult struct {
	Text     string
	UsedLLM  bool
	Provider string
	Latency  time.Duration
}

// RewriteCapability is an optional, gated text rewriter. Call never
// fails: the worst case is the fallback coming back unchanged.
type RewriteCapability interface {
	Call(ctx context.Context, areaID, prompt, fallback string) RewriteResult
}

// DisabledRewriter is the always-off capability.
type DisabledRewriter struct{}

func (DisabledRewriter) Call(_ context.Context, _, _, fallback string) RewriteResult {
	return RewriteResult{Text: fallback, Provider: "disabled"}
}

// LexicalGrader is a deterministic local grader used when no external
// grading service is wired in. It scores surface features only.
type LexicalGrader struct{}

var (
	imperativeOpeners = regexp.MustCompile(`(?i)^(use|check|validate|avoid|add|remove|set|run|close|prefer|never|always|stop|batch|cache|verify|escalate|split|keep|test|guard|prevent|when|log|measure)\b`)
	specificTokenRe   = regexp.MustCompile(`[0-9]|ms\b|%|\.go\b|\.sql\b`)
	hedgeTokenRe      = regexp.MustCompile(`(?i)\b(maybe|perhaps|might|probably|consider)\b`)
)

func (LexicalGrader) TransformForAdvisory(_ context.Context, text, _ string) (*episodic.AdvisoryQuality, error) {
	trimmed := strings.TrimSpace(text)
	q := &episodic.AdvisoryQuality{AdvisoryText: trimmed}
	if len(trimmed) < 10 {
		q.Suppressed = true
		return q, nil
	}

	q.Actionability = 0.3
	if imperativeOpeners.MatchString(trimmed) {
		q.Actionability = 0.8
	}
	if hedgeTokenRe.MatchString(trimmed) {
		q.Actionability -= 0.2
	}

	q.Reasoning = 0.2
	if strings.Contains(strings.ToLower(trimmed), "because") {
		q.Reasoning = 0.8
	}

	q.Specificity = 0.3
	if specificTokenRe.MatchString(trimmed) {
		q.Specificity = 0.7
	}
	if len(strings.Fields(trimmed)) >= 6 {
		q.Specificity += 0.1
	}

	q.UnifiedScore = (q.Actionability + q.Reasoning + q.Specificity) / 3
	if q.UnifiedScore < 0 {
		q.UnifiedScore = 0
	}
	if q.UnifiedScore > 1 {
		q.UnifiedScore = 1
	}
	return q, nil
}
