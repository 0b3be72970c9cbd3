package episodic

import (
	"time"

	"github.com/XiaoConstantine/engram-go/pkg/errors"
)

// Budget bounds how much work an episode may consume. It is immutable
// configuration attached at episode creation.
type Budget struct {
	MaxSteps           int     `json:"max_steps"`
	MaxTimeSeconds     float64 `json:"max_time_seconds"`
	MaxRetriesPerError int     `json:"max_retries_per_error"`
}

// DefaultBudget returns the budget applied when callers do not supply one.
func DefaultBudget() Budget {
	return Budget{
		MaxSteps:           25,
		MaxTimeSeconds:     1800,
		MaxRetriesPerError: 3,
	}
}

// ToMap serializes the budget for persistence.
func (b Budget) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"max_steps":             b.MaxSteps,
		"max_time_seconds":      b.MaxTimeSeconds,
		"max_retries_per_error": b.MaxRetriesPerError,
	}
}

// BudgetFromMap reconstructs a budget from its map form.
func BudgetFromMap(m map[string]interface{}) Budget {
	return Budget{
		MaxSteps:           asInt(m["max_steps"]),
		MaxTimeSeconds:     asFloat(m["max_time_seconds"]),
		MaxRetriesPerError: asInt(m["max_retries_per_error"]),
	}
}

// Episode is a bounded unit of agent work: one goal, one budget, one
// terminal outcome. Once the outcome turns terminal the episode becomes
// eligible for distillation and must not be completed again.
type Episode struct {
	EpisodeID       string         `json:"episode_id"`
	Goal            string         `json:"goal"`
	SuccessCriteria string         `json:"success_criteria"`
	Constraints     []string       `json:"constraints"`
	Budget          Budget         `json:"budget"`
	Phase           Phase          `json:"phase"`
	Outcome         Outcome        `json:"outcome"`
	FinalEvaluation string         `json:"final_evaluation"`
	StartTS         time.Time      `json:"start_ts"`
	EndTS           time.Time      `json:"end_ts"`
	StepCount       int            `json:"step_count"`
	ErrorCounts     map[string]int `json:"error_counts"`
}

// NewEpisode creates an episode at task start. The ID is derived from the
// goal fingerprint and construction time unless the caller overrides it
// afterwards.
func NewEpisode(goal, successCriteria string, constraints []string, budget Budget) *Episode {
	if constraints == nil {
		constraints = []string{}
	}
	return &Episode{
		EpisodeID:       NewID(goal),
		Goal:            goal,
		SuccessCriteria: successCriteria,
		Constraints:     constraints,
		Budget:          budget,
		Phase:           PhaseExplore,
		Outcome:         OutcomeInProgress,
		StartTS:         time.Now(),
		ErrorCounts:     map[string]int{},
	}
}

// IsBudgetExceeded is true iff the step count has reached the budget's
// step cap or elapsed wall time has reached the time cap.
func (e *Episode) IsBudgetExceeded() bool {
	if e.Budget.MaxSteps > 0 && e.StepCount >= e.Budget.MaxSteps {
		return true
	}
	if e.Budget.MaxTimeSeconds > 0 && e.Elapsed().Seconds() >= e.Budget.MaxTimeSeconds {
		return true
	}
	return false
}

// Elapsed returns wall time since the episode started, frozen at EndTS
// once the episode is complete.
func (e *Episode) Elapsed() time.Duration {
	if !e.EndTS.IsZero() {
		return e.EndTS.Sub(e.StartTS)
	}
	return time.Since(e.StartTS)
}

// IsErrorLimitExceeded is true iff the recorded count for the signature
// has reached the per-error retry budget.
func (e *Episode) IsErrorLimitExceeded(signature string) bool {
	return e.Budget.MaxRetriesPerError > 0 && e.ErrorCounts[signature] >= e.Budget.MaxRetriesPerError
}

// RecordError increments the count for an error signature.
func (e *Episode) RecordError(signature string) {
	if e.ErrorCounts == nil {
		e.ErrorCounts = map[string]int{}
	}
	e.ErrorCounts[signature]++
}

// RecordStepCompleted bumps the step counter.
func (e *Episode) RecordStepCompleted() {
	e.StepCount++
}

// AdvancePhase moves the episode to the next forward phase. ESCALATE is
// absorbing and never advanced out of.
func (e *Episode) AdvancePhase() {
	e.Phase = e.Phase.Next()
}

// Escalate moves the episode into the absorbing ESCALATE phase.
func (e *Episode) Escalate() {
	e.Phase = PhaseEscalate
}

// Complete transitions the episode to a terminal outcome exactly once.
func (e *Episode) Complete(outcome Outcome, finalEvaluation string) error {
	if !outcome.IsTerminal() {
		return errors.WithFields(
			errors.New(errors.InvalidInput, "outcome is not terminal"),
			errors.Fields{"outcome": string(outcome)},
		)
	}
	if e.Outcome.IsTerminal() {
		return errors.WithFields(
			errors.New(errors.ValidationFailed, "episode already completed"),
			errors.Fields{"episode_id": e.EpisodeID, "outcome": string(e.Outcome)},
		)
	}
	e.Outcome = outcome
	e.FinalEvaluation = finalEvaluation
	e.EndTS = time.Now()
	return nil
}

// IsEligibleForDistillation reports whether the episode has finished and
// can feed the distillation engine.
func (e *Episode) IsEligibleForDistillation() bool {
	return e.Outcome.IsTerminal()
}

// ToMap serializes the episode. Enum values are stored as their lowercase
// string tags; timestamps as Unix nanoseconds (zero time stays zero).
func (e *Episode) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"episode_id":       e.EpisodeID,
		"goal":             e.Goal,
		"success_criteria": e.SuccessCriteria,
		"constraints":      append([]string{}, e.Constraints...),
		"budget":           e.Budget.ToMap(),
		"phase":            string(e.Phase),
		"outcome":          string(e.Outcome),
		"final_evaluation": e.FinalEvaluation,
		"start_ts":         timeToNanos(e.StartTS),
		"end_ts":           timeToNanos(e.EndTS),
		"step_count":       e.StepCount,
		"error_counts":     copyIntMap(e.ErrorCounts),
	}
}

// EpisodeFromMap reconstructs an episode from its map form. Missing or
// malformed values decode to safe defaults, never errors.
func EpisodeFromMap(m map[string]interface{}) *Episode {
	budget := Budget{}
	if bm, ok := m["budget"].(map[string]interface{}); ok {
		budget = BudgetFromMap(bm)
	}
	return &Episode{
		EpisodeID:       asString(m["episode_id"]),
		Goal:            asString(m["goal"]),
		SuccessCriteria: asString(m["success_criteria"]),
		Constraints:     asStringSlice(m["constraints"]),
		Budget:          budget,
		Phase:           ParsePhase(asString(m["phase"])),
		Outcome:         ParseOutcome(asString(m["outcome"])),
		FinalEvaluation: asString(m["final_evaluation"]),
		StartTS:         nanosToTime(asInt64(m["start_ts"])),
		EndTS:           nanosToTime(asInt64(m["end_ts"])),
		StepCount:       asInt(m["step_count"]),
		ErrorCounts:     asIntMap(m["error_counts"]),
	}
}

func timeToNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nanosToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func copyIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
