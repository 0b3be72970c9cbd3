package episodic

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDistillation(t *testing.T) {
	d := NewDistillation(TypeHeuristic, "Prefer batch writes over row-at-a-time", 0.8)

	assert.Len(t, d.DistillationID, 12)
	assert.Equal(t, 0.8, d.Confidence)
	assert.InDelta(t, RevalidateAfter.Seconds(), d.RevalidateBy.Sub(d.CreatedAt).Seconds(), 1)
}

func TestConfidenceClamp(t *testing.T) {
	assert.Equal(t, MinConfidence, ClampConfidence(-5))
	assert.Equal(t, MaxConfidence, ClampConfidence(2))
	assert.Equal(t, 0.5, ClampConfidence(0.5))
}

func TestRecordUsage(t *testing.T) {
	t.Run("helped nudges up", func(t *testing.T) {
		d := NewDistillation(TypeHeuristic, "rule", 0.5)
		d.RecordUsage(true)
		assert.InDelta(t, 0.55, d.Confidence, 0.001)
		assert.Equal(t, 1, d.TimesUsed)
		assert.Equal(t, 1, d.TimesHelped)
	})

	t.Run("not helped nudges down", func(t *testing.T) {
		d := NewDistillation(TypeHeuristic, "rule", 0.5)
		d.RecordUsage(false)
		assert.InDelta(t, 0.40, d.Confidence, 0.001)
		assert.Equal(t, 1, d.TimesUsed)
		assert.Equal(t, 0, d.TimesHelped)
	})

	t.Run("confidence stays bounded under any sequence", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		d := NewDistillation(TypeSharpEdge, "rule", 0.5)
		for i := 0; i < 500; i++ {
			d.RecordUsage(rng.Intn(2) == 0)
			assert.GreaterOrEqual(t, d.Confidence, MinConfidence)
			assert.LessOrEqual(t, d.Confidence, MaxConfidence)
		}
	})
}

func TestEffectivenessAndReliability(t *testing.T) {
	d := NewDistillation(TypeHeuristic, "rule", 0.7)

	assert.Equal(t, 0.5, d.Effectiveness())
	assert.Equal(t, 0.7, d.Reliability())

	d.TimesUsed = 4
	d.TimesHelped = 3
	assert.InDelta(t, 0.75, d.Effectiveness(), 0.001)

	d.ValidationCount = 8
	d.ContradictionCount = 2
	assert.InDelta(t, 0.8, d.Reliability(), 0.001)
}

func TestIsDueForRevalidation(t *testing.T) {
	d := NewDistillation(TypeHeuristic, "rule", 0.7)
	assert.False(t, d.IsDueForRevalidation(time.Now()))
	assert.True(t, d.IsDueForRevalidation(time.Now().Add(8*24*time.Hour)))
}

func TestIsSuppressed(t *testing.T) {
	d := NewDistillation(TypeHeuristic, "rule", 0.7)
	assert.False(t, d.IsSuppressed())

	d.AdvisoryQuality = &AdvisoryQuality{Suppressed: true}
	assert.True(t, d.IsSuppressed())

	d.AdvisoryQuality = nil
	d.ArchiveReason = "suppressed:too_vague"
	assert.True(t, d.IsSuppressed())

	d.ArchiveReason = "unified_score_below_floor:0.31"
	assert.False(t, d.IsSuppressed())
}

func TestActiveStatement(t *testing.T) {
	d := NewDistillation(TypeHeuristic, "original", 0.7)
	assert.Equal(t, "original", d.ActiveStatement())
	d.RefinedStatement = "refined"
	assert.Equal(t, "refined", d.ActiveStatement())
}

func TestDistillationRoundTrip(t *testing.T) {
	d := NewDistillation(TypeAntiPattern, "Stop: retrying the same failing call", 0.48)
	d.Domains = []string{"api", "auth"}
	d.Triggers = []string{"retry", "call"}
	d.AntiTriggers = []string{"first attempt"}
	d.SourceSteps = []string{"s1", "s2"}
	d.ValidationCount = 3
	d.ContradictionCount = 1
	d.TimesRetrieved = 9
	d.TimesUsed = 5
	d.TimesHelped = 4
	d.RefinedStatement = "Never retry the same failing call without changing inputs"
	d.AdvisoryQuality = &AdvisoryQuality{
		UnifiedScore:  0.62,
		Actionability: 0.7,
		Reasoning:     0.5,
		Specificity:   0.6,
		Structure: QualityStructure{
			Condition: "a call failed",
			Action:    "change inputs before retrying",
			Reasoning: "identical retries reproduce the failure",
		},
		AdvisoryText: "Never retry the same failing call without changing inputs",
	}

	t.Run("direct map round trip", func(t *testing.T) {
		assertDistillationEqual(t, d, DistillationFromMap(d.ToMap()))
	})

	t.Run("json round trip", func(t *testing.T) {
		data, err := json.Marshal(d.ToMap())
		require.NoError(t, err)

		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &m))
		assertDistillationEqual(t, d, DistillationFromMap(m))
	})
}

func assertDistillationEqual(t *testing.T, want, got *Distillation) {
	t.Helper()
	assert.Equal(t, want.DistillationID, got.DistillationID)
	assert.Equal(t, want.Type, got.Type)
	assert.Equal(t, want.Statement, got.Statement)
	assert.Equal(t, want.Domains, got.Domains)
	assert.Equal(t, want.Triggers, got.Triggers)
	assert.Equal(t, want.AntiTriggers, got.AntiTriggers)
	assert.Equal(t, want.SourceSteps, got.SourceSteps)
	assert.Equal(t, want.ValidationCount, got.ValidationCount)
	assert.Equal(t, want.ContradictionCount, got.ContradictionCount)
	assert.Equal(t, want.Confidence, got.Confidence)
	assert.Equal(t, want.TimesRetrieved, got.TimesRetrieved)
	assert.Equal(t, want.TimesUsed, got.TimesUsed)
	assert.Equal(t, want.TimesHelped, got.TimesHelped)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, want.RevalidateBy.Equal(got.RevalidateBy))
	assert.Equal(t, want.RefinedStatement, got.RefinedStatement)
	assert.Equal(t, want.ArchiveReason, got.ArchiveReason)
	require.Equal(t, want.AdvisoryQuality == nil, got.AdvisoryQuality == nil)
	if want.AdvisoryQuality != nil {
		assert.Equal(t, *want.AdvisoryQuality, *got.AdvisoryQuality)
	}
}

func TestPolicyRoundTrip(t *testing.T) {
	p := NewPolicy("Never commit directly to main", ScopeProject, 10, SourceUser)

	t.Run("direct map round trip", func(t *testing.T) {
		assert.Equal(t, p, PolicyFromMap(p.ToMap()))
	})

	t.Run("json round trip", func(t *testing.T) {
		data, err := json.Marshal(p.ToMap())
		require.NoError(t, err)

		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &m))
		assert.Equal(t, p, PolicyFromMap(m))
	})
}

func TestEnumFallbacks(t *testing.T) {
	assert.Equal(t, PhaseExplore, ParsePhase("weird"))
	assert.Equal(t, OutcomeInProgress, ParseOutcome("weird"))
	assert.Equal(t, EvaluationUnknown, ParseEvaluation("weird"))
	assert.Equal(t, ActionReasoning, ParseActionType("weird"))
	assert.Equal(t, TypeHeuristic, ParseDistillationType("weird"))
	assert.Equal(t, ScopeGlobal, ParsePolicyScope("weird"))
	assert.Equal(t, SourceInferred, ParsePolicySource("weird"))
}

func TestNewIDShape(t *testing.T) {
	id1 := NewID("fingerprint")
	id2 := NewID("fingerprint")
	assert.Len(t, id1, 12)
	assert.NotEqual(t, id1, id2)
}
