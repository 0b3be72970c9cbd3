package episodic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeStep(episodeID string) *Step {
	s := NewStep(episodeID, "query the index", "use the covering index")
	s.Prediction = "query returns in under 10ms"
	s.ConfidenceBefore = 0.7
	s.ActionType = ActionToolCall
	s.Result = "query returned in 8ms"
	s.Evaluation = EvaluationPass
	s.Lesson = "covering index avoids the table scan"
	s.ConfidenceAfter = 0.9
	s.Validated = true
	return s
}

func TestStepValidators(t *testing.T) {
	t.Run("fresh step misses pre-action fields", func(t *testing.T) {
		s := NewStep("ep1", "", "")
		missing := s.IsValidBeforeAction()
		assert.Contains(t, missing, "intent")
		assert.Contains(t, missing, "decision")
		assert.Contains(t, missing, "prediction")
		assert.Contains(t, missing, "confidence_before")
	})

	t.Run("complete step passes both", func(t *testing.T) {
		s := completeStep("ep1")
		assert.Empty(t, s.IsValidBeforeAction())
		assert.Empty(t, s.IsValidAfterAction())
		assert.True(t, s.IsComplete())
	})

	t.Run("unvalidated step needs a method", func(t *testing.T) {
		s := completeStep("ep1")
		s.Validated = false
		s.ValidationMethod = ""
		assert.Contains(t, s.IsValidAfterAction(), "validation_method")

		s.ValidationMethod = "manual inspection"
		assert.Empty(t, s.IsValidAfterAction())
	})
}

func TestCalculateSurprise(t *testing.T) {
	tests := []struct {
		name       string
		evaluation Evaluation
		prediction string
		result     string
		expected   float64
	}{
		{"fail is fixed", EvaluationFail, "works", "broken", 0.8},
		{"partial is fixed", EvaluationPartial, "works", "half works", 0.5},
		{"empty prediction", EvaluationPass, "", "something happened", 0.0},
		{"empty result", EvaluationPass, "something", "", 0.0},
		{"identical texts", EvaluationPass, "tests pass quickly", "tests pass quickly", 0.0},
		{"disjoint texts", EvaluationPass, "alpha beta", "gamma delta", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStep("ep1", "intent", "decision")
			s.Evaluation = tt.evaluation
			s.Prediction = tt.prediction
			s.Result = tt.result
			assert.InDelta(t, tt.expected, s.CalculateSurprise(), 0.001)
		})
	}
}

func TestJaccardWords(t *testing.T) {
	assert.InDelta(t, 1.0, JaccardWords("same words", "same words"), 0.001)
	assert.InDelta(t, 0.0, JaccardWords("aaa", "bbb"), 0.001)
	// {use, redis, cache} vs {use, redis, queue}: 2 shared of 4 total
	assert.InDelta(t, 0.5, JaccardWords("use redis cache", "use redis queue"), 0.001)
}

func TestStepRoundTrip(t *testing.T) {
	s := completeStep("ep42")
	s.Alternatives = []string{"full scan", "partial scan"}
	s.Assumptions = []string{"index is fresh"}
	s.ActionDetails = map[string]interface{}{"tool": "sql"}
	s.RetrievedMemories = []string{"mem1", "mem2"}
	s.MemoryCited = true
	useful := true
	s.MemoryUseful = &useful
	s.SurpriseLevel = s.CalculateSurprise()

	t.Run("direct map round trip", func(t *testing.T) {
		got := StepFromMap(s.ToMap())
		assertStepEqual(t, s, got)
	})

	t.Run("json round trip", func(t *testing.T) {
		data, err := json.Marshal(s.ToMap())
		require.NoError(t, err)

		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &m))
		assertStepEqual(t, s, StepFromMap(m))
	})
}

func assertStepEqual(t *testing.T, want, got *Step) {
	t.Helper()
	assert.Equal(t, want.StepID, got.StepID)
	assert.Equal(t, want.EpisodeID, got.EpisodeID)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, want.Intent, got.Intent)
	assert.Equal(t, want.Decision, got.Decision)
	assert.Equal(t, want.Alternatives, got.Alternatives)
	assert.Equal(t, want.Assumptions, got.Assumptions)
	assert.Equal(t, want.Prediction, got.Prediction)
	assert.Equal(t, want.ConfidenceBefore, got.ConfidenceBefore)
	assert.Equal(t, want.ActionType, got.ActionType)
	assert.Equal(t, want.ActionDetails, got.ActionDetails)
	assert.Equal(t, want.Result, got.Result)
	assert.Equal(t, want.Evaluation, got.Evaluation)
	assert.Equal(t, want.SurpriseLevel, got.SurpriseLevel)
	assert.Equal(t, want.Lesson, got.Lesson)
	assert.Equal(t, want.ConfidenceAfter, got.ConfidenceAfter)
	assert.Equal(t, want.RetrievedMemories, got.RetrievedMemories)
	assert.Equal(t, want.MemoryCited, got.MemoryCited)
	require.NotNil(t, got.MemoryUseful)
	assert.Equal(t, *want.MemoryUseful, *got.MemoryUseful)
	assert.Equal(t, want.Validated, got.Validated)
	assert.Equal(t, want.ValidationMethod, got.ValidationMethod)
}

func TestStepFromMapMissingMemoryUseful(t *testing.T) {
	got := StepFromMap(map[string]interface{}{"step_id": "s1"})
	assert.Nil(t, got.MemoryUseful)
	assert.Equal(t, EvaluationUnknown, got.Evaluation)
	assert.Equal(t, ActionReasoning, got.ActionType)
}
