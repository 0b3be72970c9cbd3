// Package episodic defines the core value objects of the episodic-learning
// system: bounded units of agent work (Episode), their atomic decision
// packets (Step), the reusable rules crystallized from them (Distillation),
// and top-level operating constraints (Policy).
package episodic

// Phase tracks where an episode is in its working lifecycle.
// Episodes move forward through EXPLORE, DIAGNOSE, EXECUTE and CONSOLIDATE;
// ESCALATE is absorbing and reachable from any phase.
type Phase string

const (
	PhaseExplore     Phase = "explore"
	PhaseDiagnose    Phase = "diagnose"
	PhaseExecute     Phase = "execute"
	PhaseConsolidate Phase = "consolidate"
	PhaseEscalate    Phase = "escalate"
)

// ParsePhase converts a stored tag to a Phase, defaulting to EXPLORE.
func ParsePhase(s string) Phase {
	switch Phase(s) {
	case PhaseExplore, PhaseDiagnose, PhaseExecute, PhaseConsolidate, PhaseEscalate:
		return Phase(s)
	default:
		return PhaseExplore
	}
}

// Next returns the phase that follows p in the forward progression.
// CONSOLIDATE and ESCALATE have no successor.
func (p Phase) Next() Phase {
	switch p {
	case PhaseExplore:
		return PhaseDiagnose
	case PhaseDiagnose:
		return PhaseExecute
	case PhaseExecute:
		return PhaseConsolidate
	default:
		return p
	}
}

// Outcome is the terminal (or in-progress) status of an episode.
// IN_PROGRESS is the only non-terminal value.
type Outcome string

const (
	OutcomeInProgress Outcome = "in_progress"
	OutcomeSuccess    Outcome = "success"
	OutcomeFailure    Outcome = "failure"
	OutcomePartial    Outcome = "partial"
	OutcomeEscalated  Outcome = "escalated"
)

// ParseOutcome converts a stored tag to an Outcome, defaulting to IN_PROGRESS.
func ParseOutcome(s string) Outcome {
	switch Outcome(s) {
	case OutcomeInProgress, OutcomeSuccess, OutcomeFailure, OutcomePartial, OutcomeEscalated:
		return Outcome(s)
	default:
		return OutcomeInProgress
	}
}

// IsTerminal reports whether the outcome closes the episode.
func (o Outcome) IsTerminal() bool {
	return o != OutcomeInProgress && o != ""
}

// Evaluation grades a step's result against its prediction.
type Evaluation string

const (
	EvaluationPass    Evaluation = "pass"
	EvaluationFail    Evaluation = "fail"
	EvaluationPartial Evaluation = "partial"
	EvaluationUnknown Evaluation = "unknown"
)

// ParseEvaluation converts a stored tag to an Evaluation, defaulting to UNKNOWN.
func ParseEvaluation(s string) Evaluation {
	switch Evaluation(s) {
	case EvaluationPass, EvaluationFail, EvaluationPartial, EvaluationUnknown:
		return Evaluation(s)
	default:
		return EvaluationUnknown
	}
}

// ActionType classifies what kind of action a step took.
type ActionType string

const (
	ActionToolCall  ActionType = "tool_call"
	ActionReasoning ActionType = "reasoning"
	ActionQuestion  ActionType = "question"
	ActionWait      ActionType = "wait"
)

// ParseActionType converts a stored tag to an ActionType, defaulting to REASONING.
func ParseActionType(s string) ActionType {
	switch ActionType(s) {
	case ActionToolCall, ActionReasoning, ActionQuestion, ActionWait:
		return ActionType(s)
	default:
		return ActionReasoning
	}
}

// DistillationType classifies the kind of reusable rule.
type DistillationType string

const (
	TypeHeuristic   DistillationType = "heuristic"
	TypeSharpEdge   DistillationType = "sharp_edge"
	TypeAntiPattern DistillationType = "anti_pattern"
	TypePlaybook    DistillationType = "playbook"
	TypePolicy      DistillationType = "policy"
)

// ParseDistillationType converts a stored tag, defaulting to HEURISTIC.
func ParseDistillationType(s string) DistillationType {
	switch DistillationType(s) {
	case TypeHeuristic, TypeSharpEdge, TypeAntiPattern, TypePlaybook, TypePolicy:
		return DistillationType(s)
	default:
		return TypeHeuristic
	}
}

// PolicyScope bounds where a policy applies.
type PolicyScope string

const (
	ScopeGlobal  PolicyScope = "global"
	ScopeProject PolicyScope = "project"
	ScopeSession PolicyScope = "session"
)

// ParsePolicyScope converts a stored tag, defaulting to GLOBAL.
func ParsePolicyScope(s string) PolicyScope {
	switch PolicyScope(s) {
	case ScopeGlobal, ScopeProject, ScopeSession:
		return PolicyScope(s)
	default:
		return ScopeGlobal
	}
}

// PolicySource records where a policy came from.
type PolicySource string

const (
	SourceUser      PolicySource = "user"
	SourceDistilled PolicySource = "distilled"
	SourceInferred  PolicySource = "inferred"
)

// ParsePolicySource converts a stored tag, defaulting to INFERRED.
func ParsePolicySource(s string) PolicySource {
	switch PolicySource(s) {
	case SourceUser, SourceDistilled, SourceInferred:
		return PolicySource(s)
	default:
		return SourceInferred
	}
}
