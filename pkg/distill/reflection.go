// Package distill turns finished episodes into reflections and
// reusable distillation candidates.
package distill

import (
	"fmt"
	"sort"
	"strings"

	"github.com/XiaoConstantine/engram-go/pkg/episodic"
	"github.com/XiaoConstantine/engram-go/pkg/logging"
)

// ReflectionResult is the deterministic post-episode analysis. Empty
// string fields mean "nothing identified" for that slot.
type ReflectionResult struct {
	EpisodeID       string  `json:"episode_id"`
	KeyInsight      string  `json:"key_insight"`
	NewRule         string  `json:"new_rule"`
	WrongAssumption string  `json:"wrong_assumption"`
	PreventiveCheck string  `json:"preventive_check"`
	Bottleneck      string  `json:"bottleneck"`
	StopDoing       string  `json:"stop_doing"`
	Confidence      float64 `json:"confidence"`
}

// Engine derives reflections and distillations from episodes. It holds
// no state beyond its logger; all inputs arrive per call.
type Engine struct {
	logger *logging.Logger
}

// NewEngine returns an engine logging through the given logger, or the
// process default when nil.
func NewEngine(logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Engine{logger: logger}
}

type reflectFunc func(e *episodic.Episode, steps []*episodic.Step) *ReflectionResult

// ReflectOnEpisode dispatches on the episode outcome. Outcomes without
// a dedicated handler fall through to a generic pass/fail summary.
func (en *Engine) ReflectOnEpisode(e *episodic.Episode, steps []*episodic.Step) *ReflectionResult {
	handlers := map[episodic.Outcome]reflectFunc{
		episodic.OutcomeSuccess:   reflectSuccess,
		episodic.OutcomeFailure:   reflectFailure,
		episodic.OutcomeEscalated: reflectEscalated,
	}

	handler, ok := handlers[e.Outcome]
	if !ok {
		handler = reflectDefault
	}
	r := handler(e, steps)
	r.EpisodeID = e.EpisodeID
	return r
}

func reflectSuccess(e *episodic.Episode, steps []*episodic.Step) *ReflectionResult {
	r := &ReflectionResult{Confidence: 0.8}

	// The breakthrough is the last confident PASS: the step where the
	// approach that actually worked was found.
	for i := len(steps) - 1; i >= 0; i-- {
		st := steps[i]
		if st.Evaluation == episodic.EvaluationPass && st.ConfidenceAfter > 0.7 {
			r.KeyInsight = fmt.Sprintf("Breakthrough at step %d: %s", i+1, st.Lesson)
			r.NewRule = fmt.Sprintf("When %s, try: %s", st.Intent, st.Decision)
			break
		}
	}

	for _, st := range steps {
		if st.Evaluation == episodic.EvaluationFail && len(st.Assumptions) > 0 {
			r.WrongAssumption = st.Assumptions[0]
			r.PreventiveCheck = fmt.Sprintf("Verify assumption before acting: %s", st.Assumptions[0])
			break
		}
	}

	if len(steps) > 5 {
		r.Bottleneck = fmt.Sprintf("Took %d steps to succeed; look for a shorter path", len(steps))
	}
	return r
}

func reflectFailure(e *episodic.Episode, steps []*episodic.Step) *ReflectionResult {
	r := &ReflectionResult{Confidence: 0.6}

	var failed []*episodic.Step
	for _, st := range steps {
		if st.Evaluation == episodic.EvaluationFail {
			failed = append(failed, st)
		}
	}

	if len(failed) >= 2 {
		r.Bottleneck = fmt.Sprintf("%d failed steps out of %d", len(failed), len(steps))
	}
	if len(failed) > 0 {
		first := failed[0]
		r.WrongAssumption = fmt.Sprintf("Predicted %q but got %q", first.Prediction, first.Result)
		r.PreventiveCheck = fmt.Sprintf("Check prediction against reality early: %s", first.Intent)
	}

	if repeated := mostRepeatedDecision(failed); repeated != "" {
		r.StopDoing = "Stop: " + truncate(repeated, 50)
	}
	return r
}

func reflectEscalated(e *episodic.Episode, steps []*episodic.Step) *ReflectionResult {
	distinct := map[string]bool{}
	for _, st := range steps {
		distinct[firstWords(st.Decision, 3)] = true
	}
	return &ReflectionResult{
		Bottleneck: "Escalated: the approaches tried did not converge",
		KeyInsight: fmt.Sprintf("Tried %d distinct approaches before escalating", len(distinct)),
		NewRule:    "Escalate earlier when distinct approaches stop producing new information",
		Confidence: 0.5,
	}
}

func reflectDefault(e *episodic.Episode, steps []*episodic.Step) *ReflectionResult {
	var pass, fail int
	for _, st := range steps {
		switch st.Evaluation {
		case episodic.EvaluationPass:
			pass++
		case episodic.EvaluationFail:
			fail++
		}
	}
	return &ReflectionResult{
		KeyInsight: fmt.Sprintf("Mixed outcome: %d passed, %d failed of %d steps", pass, fail, len(steps)),
		Confidence: 0.6,
	}
}

// mostRepeatedDecision returns the decision text repeated at least
// twice among the given steps, most frequent first. Ties break by
// lexical order so the result is stable.
func mostRepeatedDecision(steps []*episodic.Step) string {
	counts := map[string]int{}
	for _, st := range steps {
		if st.Decision != "" {
			counts[st.Decision]++
		}
	}

	var best string
	bestCount := 1
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if counts[k] > bestCount {
			best = k
			bestCount = counts[k]
		}
	}
	return best
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
