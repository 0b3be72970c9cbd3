package episodic

import (
	"strings"
	"time"
	"unicode"
)

// Step is the atomic decision packet inside an episode: what the agent
// intended, what it decided, what it predicted, and what actually
// happened. A step is owned by exactly one episode through EpisodeID.
type Step struct {
	StepID    string    `json:"step_id"`
	EpisodeID string    `json:"episode_id"`
	CreatedAt time.Time `json:"created_at"`

	// Pre-action fields, mandatory before the action executes.
	Intent           string   `json:"intent"`
	Decision         string   `json:"decision"`
	Alternatives     []string `json:"alternatives"`
	Assumptions      []string `json:"assumptions"`
	Prediction       string   `json:"prediction"`
	ConfidenceBefore float64  `json:"confidence_before"`

	// Action fields.
	ActionType    ActionType             `json:"action_type"`
	ActionDetails map[string]interface{} `json:"action_details"`

	// Post-action fields, mandatory after the action executes.
	Result          string     `json:"result"`
	Evaluation      Evaluation `json:"evaluation"`
	SurpriseLevel   float64    `json:"surprise_level"`
	Lesson          string     `json:"lesson"`
	ConfidenceAfter float64    `json:"confidence_after"`

	// Memory-binding fields.
	RetrievedMemories []string `json:"retrieved_memories"`
	MemoryCited       bool     `json:"memory_cited"`
	MemoryUseful      *bool    `json:"memory_useful"`

	// Validation fields.
	Validated        bool   `json:"validated"`
	ValidationMethod string `json:"validation_method"`
}

// NewStep creates a step bound to an episode.
func NewStep(episodeID, intent, decision string) *Step {
	return &Step{
		StepID:            NewID(episodeID + "|" + intent),
		EpisodeID:         episodeID,
		CreatedAt:         time.Now(),
		Intent:            intent,
		Decision:          decision,
		Alternatives:      []string{},
		Assumptions:       []string{},
		ActionType:        ActionReasoning,
		ActionDetails:     map[string]interface{}{},
		Evaluation:        EvaluationUnknown,
		RetrievedMemories: []string{},
	}
}

// IsValidBeforeAction returns the mandatory pre-action fields that are
// still missing. An empty slice means the step may execute its action.
func (s *Step) IsValidBeforeAction() []string {
	var missing []string
	if strings.TrimSpace(s.Intent) == "" {
		missing = append(missing, "intent")
	}
	if strings.TrimSpace(s.Decision) == "" {
		missing = append(missing, "decision")
	}
	if strings.TrimSpace(s.Prediction) == "" {
		missing = append(missing, "prediction")
	}
	if s.ConfidenceBefore <= 0 {
		missing = append(missing, "confidence_before")
	}
	return missing
}

// IsValidAfterAction returns the mandatory post-action fields that are
// still missing. Validated=false is acceptable only when a validation
// method is recorded.
func (s *Step) IsValidAfterAction() []string {
	var missing []string
	if strings.TrimSpace(s.Result) == "" {
		missing = append(missing, "result")
	}
	if s.Evaluation == "" {
		missing = append(missing, "evaluation")
	}
	if strings.TrimSpace(s.Lesson) == "" {
		missing = append(missing, "lesson")
	}
	if s.ConfidenceAfter <= 0 {
		missing = append(missing, "confidence_after")
	}
	if !s.Validated && strings.TrimSpace(s.ValidationMethod) == "" {
		missing = append(missing, "validation_method")
	}
	return missing
}

// IsComplete reports whether both validators pass; only complete steps
// may feed distillation.
func (s *Step) IsComplete() bool {
	return len(s.IsValidBeforeAction()) == 0 && len(s.IsValidAfterAction()) == 0
}

// CalculateSurprise scores how unexpected the result was. FAIL is fixed
// at 0.8 and PARTIAL at 0.5; otherwise the score is one minus the Jaccard
// similarity of the prediction and result word sets, or 0.0 when either
// text is empty.
func (s *Step) CalculateSurprise() float64 {
	switch s.Evaluation {
	case EvaluationFail:
		return 0.8
	case EvaluationPartial:
		return 0.5
	}
	if strings.TrimSpace(s.Prediction) == "" || strings.TrimSpace(s.Result) == "" {
		return 0.0
	}
	return 1.0 - JaccardWords(s.Prediction, s.Result)
}

// ToMap serializes the step for persistence.
func (s *Step) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"step_id":            s.StepID,
		"episode_id":         s.EpisodeID,
		"created_at":         timeToNanos(s.CreatedAt),
		"intent":             s.Intent,
		"decision":           s.Decision,
		"alternatives":       append([]string{}, s.Alternatives...),
		"assumptions":        append([]string{}, s.Assumptions...),
		"prediction":         s.Prediction,
		"confidence_before":  s.ConfidenceBefore,
		"action_type":        string(s.ActionType),
		"action_details":     s.ActionDetails,
		"result":             s.Result,
		"evaluation":         string(s.Evaluation),
		"surprise_level":     s.SurpriseLevel,
		"lesson":             s.Lesson,
		"confidence_after":   s.ConfidenceAfter,
		"retrieved_memories": append([]string{}, s.RetrievedMemories...),
		"memory_cited":       s.MemoryCited,
		"validated":          s.Validated,
		"validation_method":  s.ValidationMethod,
	}
	if s.MemoryUseful != nil {
		m["memory_useful"] = *s.MemoryUseful
	}
	return m
}

// StepFromMap reconstructs a step from its map form.
func StepFromMap(m map[string]interface{}) *Step {
	s := &Step{
		StepID:            asString(m["step_id"]),
		EpisodeID:         asString(m["episode_id"]),
		CreatedAt:         nanosToTime(asInt64(m["created_at"])),
		Intent:            asString(m["intent"]),
		Decision:          asString(m["decision"]),
		Alternatives:      asStringSlice(m["alternatives"]),
		Assumptions:       asStringSlice(m["assumptions"]),
		Prediction:        asString(m["prediction"]),
		ConfidenceBefore:  asFloat(m["confidence_before"]),
		ActionType:        ParseActionType(asString(m["action_type"])),
		ActionDetails:     asAnyMap(m["action_details"]),
		Result:            asString(m["result"]),
		Evaluation:        ParseEvaluation(asString(m["evaluation"])),
		SurpriseLevel:     asFloat(m["surprise_level"]),
		Lesson:            asString(m["lesson"]),
		ConfidenceAfter:   asFloat(m["confidence_after"]),
		RetrievedMemories: asStringSlice(m["retrieved_memories"]),
		MemoryCited:       asBool(m["memory_cited"]),
		Validated:         asBool(m["validated"]),
		ValidationMethod:  asString(m["validation_method"]),
	}
	if v, ok := m["memory_useful"]; ok {
		useful := asBool(v)
		s.MemoryUseful = &useful
	}
	return s
}

// WordSet splits text into a lowercase word set.
func WordSet(text string) map[string]bool {
	set := make(map[string]bool)
	var word strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(r)
		} else if word.Len() > 0 {
			set[word.String()] = true
			word.Reset()
		}
	}
	if word.Len() > 0 {
		set[word.String()] = true
	}
	return set
}

// JaccardWords computes the Jaccard index of two texts' word sets.
func JaccardWords(a, b string) float64 {
	return JaccardSets(WordSet(a), WordSet(b))
}

// JaccardSets computes the Jaccard index between two token sets.
func JaccardSets(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	intersection := 0
	for token := range a {
		if b[token] {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0.0
	}

	return float64(intersection) / float64(union)
}
