package episodic

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEpisode(t *testing.T) {
	e := NewEpisode("fix auth bug", "tests pass", []string{"no force push"}, DefaultBudget())

	assert.Len(t, e.EpisodeID, 12)
	assert.Equal(t, PhaseExplore, e.Phase)
	assert.Equal(t, OutcomeInProgress, e.Outcome)
	assert.False(t, e.IsEligibleForDistillation())
}

func TestBudgetExceeded(t *testing.T) {
	t.Run("step cap reached", func(t *testing.T) {
		e := NewEpisode("goal", "", nil, Budget{MaxSteps: 25, MaxTimeSeconds: 3600})
		e.StepCount = 25
		assert.True(t, e.IsBudgetExceeded())
	})

	t.Run("below step cap", func(t *testing.T) {
		e := NewEpisode("goal", "", nil, Budget{MaxSteps: 25, MaxTimeSeconds: 3600})
		e.StepCount = 24
		assert.False(t, e.IsBudgetExceeded())
	})

	t.Run("time cap reached", func(t *testing.T) {
		e := NewEpisode("goal", "", nil, Budget{MaxSteps: 100, MaxTimeSeconds: 1})
		e.StartTS = time.Now().Add(-2 * time.Second)
		assert.True(t, e.IsBudgetExceeded())
	})
}

func TestErrorLimit(t *testing.T) {
	e := NewEpisode("goal", "", nil, Budget{MaxRetriesPerError: 3})

	e.RecordError("E_TIMEOUT")
	e.RecordError("E_TIMEOUT")
	assert.False(t, e.IsErrorLimitExceeded("E_TIMEOUT"))

	e.RecordError("E_TIMEOUT")
	assert.True(t, e.IsErrorLimitExceeded("E_TIMEOUT"))
	assert.False(t, e.IsErrorLimitExceeded("E_OTHER"))
}

func TestPhaseProgression(t *testing.T) {
	e := NewEpisode("goal", "", nil, DefaultBudget())

	e.AdvancePhase()
	assert.Equal(t, PhaseDiagnose, e.Phase)
	e.AdvancePhase()
	assert.Equal(t, PhaseExecute, e.Phase)
	e.AdvancePhase()
	assert.Equal(t, PhaseConsolidate, e.Phase)
	e.AdvancePhase()
	assert.Equal(t, PhaseConsolidate, e.Phase)
}

func TestEscalateIsAbsorbing(t *testing.T) {
	e := NewEpisode("goal", "", nil, DefaultBudget())
	e.AdvancePhase()
	e.Escalate()
	assert.Equal(t, PhaseEscalate, e.Phase)
	e.AdvancePhase()
	assert.Equal(t, PhaseEscalate, e.Phase)
}

func TestCompleteExactlyOnce(t *testing.T) {
	e := NewEpisode("goal", "", nil, DefaultBudget())

	require.NoError(t, e.Complete(OutcomeSuccess, "all criteria met"))
	assert.True(t, e.IsEligibleForDistillation())
	assert.False(t, e.EndTS.IsZero())

	assert.Error(t, e.Complete(OutcomeFailure, "again"))
	assert.Equal(t, OutcomeSuccess, e.Outcome)
}

func TestCompleteRejectsNonTerminal(t *testing.T) {
	e := NewEpisode("goal", "", nil, DefaultBudget())
	assert.Error(t, e.Complete(OutcomeInProgress, ""))
}

func TestEpisodeRoundTrip(t *testing.T) {
	e := NewEpisode("deploy service", "healthy pods", []string{"staging first"}, Budget{
		MaxSteps:           10,
		MaxTimeSeconds:     600,
		MaxRetriesPerError: 2,
	})
	e.RecordError("E_CONN")
	e.RecordError("E_CONN")
	e.StepCount = 4
	e.AdvancePhase()
	require.NoError(t, e.Complete(OutcomePartial, "rolled back"))

	t.Run("direct map round trip", func(t *testing.T) {
		got := EpisodeFromMap(e.ToMap())
		assertEpisodeEqual(t, e, got)
	})

	t.Run("json round trip", func(t *testing.T) {
		data, err := json.Marshal(e.ToMap())
		require.NoError(t, err)

		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &m))
		got := EpisodeFromMap(m)
		assertEpisodeEqual(t, e, got)
	})
}

func assertEpisodeEqual(t *testing.T, want, got *Episode) {
	t.Helper()
	assert.Equal(t, want.EpisodeID, got.EpisodeID)
	assert.Equal(t, want.Goal, got.Goal)
	assert.Equal(t, want.SuccessCriteria, got.SuccessCriteria)
	assert.Equal(t, want.Constraints, got.Constraints)
	assert.Equal(t, want.Budget, got.Budget)
	assert.Equal(t, want.Phase, got.Phase)
	assert.Equal(t, want.Outcome, got.Outcome)
	assert.Equal(t, want.FinalEvaluation, got.FinalEvaluation)
	assert.True(t, want.StartTS.Equal(got.StartTS))
	assert.True(t, want.EndTS.Equal(got.EndTS))
	assert.Equal(t, want.StepCount, got.StepCount)
	assert.Equal(t, want.ErrorCounts, got.ErrorCounts)
}

func TestEpisodeFromMapDefaults(t *testing.T) {
	e := EpisodeFromMap(map[string]interface{}{
		"episode_id": "abc123def456",
		"phase":      "not-a-phase",
		"outcome":    "garbage",
	})

	assert.Equal(t, PhaseExplore, e.Phase)
	assert.Equal(t, OutcomeInProgress, e.Outcome)
	assert.Empty(t, e.Constraints)
	assert.Empty(t, e.ErrorCounts)
}
