package distill

import (
	"context"
	"fmt"
	"strings"

	"github.com/XiaoConstantine/engram-go/pkg/episodic"
)

// domainKeywords is the fixed vocabulary scanned for in goals and
// intents. Anything outside it maps to "general".
var domainKeywords = []string{"api", "auth", "database", "ui", "test", "deploy", "config"}

// GenerateDistillations emits candidate rules from a reflection. Each
// candidate is independent; an episode can produce zero or several.
func (en *Engine) GenerateDistillations(ctx context.Context, e *episodic.Episode, steps []*episodic.Step, r *ReflectionResult) []*episodic.Distillation {
	var out []*episodic.Distillation

	domains := extractDomains(e, steps)
	triggers := extractTriggers(steps)

	var passIDs, failIDs []string
	for _, st := range steps {
		switch st.Evaluation {
		case episodic.EvaluationPass:
			passIDs = append(passIDs, st.StepID)
		case episodic.EvaluationFail:
			failIDs = append(failIDs, st.StepID)
		}
	}

	if r.NewRule != "" {
		d := episodic.NewDistillation(episodic.TypeHeuristic, r.NewRule, r.Confidence)
		d.Domains = domains
		d.Triggers = triggers
		d.SourceSteps = append([]string{}, passIDs...)
		out = append(out, d)
	}

	if r.StopDoing != "" {
		d := episodic.NewDistillation(episodic.TypeAntiPattern, r.StopDoing, r.Confidence*0.8)
		d.Domains = domains
		d.Triggers = triggers
		d.SourceSteps = append([]string{}, failIDs...)
		out = append(out, d)
	}

	if r.PreventiveCheck != "" {
		d := episodic.NewDistillation(episodic.TypeSharpEdge, r.PreventiveCheck, r.Confidence*0.7)
		d.Domains = domains
		d.Triggers = []string{"before", "check", "validate"}
		for i, st := range steps {
			if i >= 3 {
				break
			}
			d.SourceSteps = append(d.SourceSteps, st.StepID)
		}
		out = append(out, d)
	}

	if e.Outcome == episodic.OutcomeSuccess && len(steps) >= 3 && len(passIDs) >= 2 {
		if playbook := buildPlaybook(e, steps); playbook != nil {
			playbook.Domains = domains
			playbook.Triggers = triggers
			playbook.SourceSteps = append([]string{}, passIDs...)
			out = append(out, playbook)
		}
	}

	en.logger.Info(ctx, "generated %d distillation candidates from episode %s", len(out), e.EpisodeID)
	return out
}

func buildPlaybook(e *episodic.Episode, steps []*episodic.Step) *episodic.Distillation {
	var lines []string
	for _, st := range steps {
		if st.Evaluation != episodic.EvaluationPass {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d. %s", len(lines)+1, st.Decision))
		if len(lines) == 5 {
			break
		}
	}
	if len(lines) == 0 {
		return nil
	}
	statement := fmt.Sprintf("Playbook for %q:\n%s", e.Goal, strings.Join(lines, "\n"))
	return episodic.NewDistillation(episodic.TypePlaybook, statement, 0.6)
}

// extractDomains scans the goal and the first 5 step intents for known
// domain keywords.
func extractDomains(e *episodic.Episode, steps []*episodic.Step) []string {
	texts := []string{strings.ToLower(e.Goal)}
	for i, st := range steps {
		if i >= 5 {
			break
		}
		texts = append(texts, strings.ToLower(st.Intent))
	}

	var domains []string
	for _, kw := range domainKeywords {
		for _, text := range texts {
			if strings.Contains(text, kw) {
				domains = append(domains, kw)
				break
			}
		}
	}
	if len(domains) == 0 {
		return []string{"general"}
	}
	return domains
}

// extractTriggers takes the first word of each intent, deduplicated,
// capped at 5.
func extractTriggers(steps []*episodic.Step) []string {
	seen := map[string]bool{}
	var triggers []string
	for _, st := range steps {
		words := strings.Fields(strings.ToLower(st.Intent))
		if len(words) == 0 {
			continue
		}
		w := words[0]
		if seen[w] {
			continue
		}
		seen[w] = true
		triggers = append(triggers, w)
		if len(triggers) == 5 {
			break
		}
	}
	return triggers
}

// MergeSimilarDistillations clusters near-duplicate rules within each
// type and collapses each cluster onto its highest-confidence member.
func (en *Engine) MergeSimilarDistillations(list []*episodic.Distillation) []*episodic.Distillation {
	byType := map[episodic.DistillationType][]*episodic.Distillation{}
	var typeOrder []episodic.DistillationType
	for _, d := range list {
		if _, ok := byType[d.Type]; !ok {
			typeOrder = append(typeOrder, d.Type)
		}
		byType[d.Type] = append(byType[d.Type], d)
	}

	var out []*episodic.Distillation
	for _, t := range typeOrder {
		group := byType[t]
		used := make([]bool, len(group))
		for i := range group {
			if used[i] {
				continue
			}
			cluster := []*episodic.Distillation{group[i]}
			used[i] = true
			for j := i + 1; j < len(group); j++ {
				if used[j] {
					continue
				}
				if episodic.JaccardWords(group[i].Statement, group[j].Statement) > 0.5 {
					cluster = append(cluster, group[j])
					used[j] = true
				}
			}
			out = append(out, mergeCluster(cluster))
		}
	}
	return out
}

func mergeCluster(cluster []*episodic.Distillation) *episodic.Distillation {
	base := cluster[0]
	for _, d := range cluster[1:] {
		if d.Confidence > base.Confidence {
			base = d
		}
	}
	if len(cluster) == 1 {
		return base
	}

	merged := *base
	sources := map[string]bool{}
	merged.SourceSteps = nil
	merged.ValidationCount = 0
	merged.ContradictionCount = 0
	merged.TimesUsed = 0
	merged.TimesHelped = 0
	for _, d := range cluster {
		for _, sid := range d.SourceSteps {
			if !sources[sid] {
				sources[sid] = true
				merged.SourceSteps = append(merged.SourceSteps, sid)
			}
		}
		merged.ValidationCount += d.ValidationCount
		merged.ContradictionCount += d.ContradictionCount
		merged.TimesUsed += d.TimesUsed
		merged.TimesHelped += d.TimesHelped
	}
	return &merged
}

// ValidateDistillation is the usage-feedback hook: it adjusts the
// confidence and the validation counters in one move.
func (en *Engine) ValidateDistillation(d *episodic.Distillation, helped bool) {
	d.TimesUsed++
	if helped {
		d.TimesHelped++
		d.ValidationCount++
		d.Confidence = episodic.ClampConfidence(d.Confidence + 0.05)
	} else {
		d.ContradictionCount++
		d.Confidence = episodic.ClampConfidence(d.Confidence - 0.10)
	}
}
