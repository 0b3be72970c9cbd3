package refine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestElevateHedges(t *testing.T) {
	assert.Equal(t, "Use Redis", Elevate("Maybe consider using Redis", Context{}))
	assert.Equal(t, "Add an index on episode_id", Elevate("I think adding an index on episode_id", Context{}))
}

func TestElevateObservationWithError(t *testing.T) {
	got := Elevate("It was found that caching improves latency", Context{
		Error: "p95=2.3s, should be <500ms",
	})
	assert.NotContains(t, got, "It was found")
	assert.Contains(t, got, "because")
	assert.Contains(t, got, "p95=2.3s")
}

func TestElevateNoOp(t *testing.T) {
	original := "Close connections in a defer because leaks exhaust the pool"
	assert.Equal(t, original, Elevate(original, Context{}))
}

func TestPassiveToActive(t *testing.T) {
	got, ok := passiveToActive("Connections should be closed promptly", Context{})
	assert.True(t, ok)
	assert.Equal(t, "Close connections promptly", got)

	got, ok = passiveToActive("Secrets should not be logged", Context{})
	assert.True(t, ok)
	assert.Equal(t, "Never log secrets", got)

	_, ok = passiveToActive("Use signed JWTs", Context{})
	assert.False(t, ok)
}

func TestErrorToPrevention(t *testing.T) {
	got, ok := errorToPrevention("Error: connection pool exhausted under load", Context{})
	assert.True(t, ok)
	assert.Equal(t, "Prevent: connection pool exhausted under load", got)
}

func TestSplitCompound(t *testing.T) {
	got, ok := splitCompound("the build was slow; use the remote cache because local rebuilds repeat work", Context{})
	assert.True(t, ok)
	assert.Equal(t, "Use the remote cache because local rebuilds repeat work", got)

	_, ok = splitCompound("Use the remote cache", Context{})
	assert.False(t, ok)
}

func TestConditionAndTemporalPrefixes(t *testing.T) {
	ts := time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)
	got := Elevate("Use prepared statements", Context{File: "store.go", Timestamp: ts})
	assert.True(t, strings.HasPrefix(got, "Since March 2026: When store.go: "), got)
}

func TestSuffixReasoningTautologyGuard(t *testing.T) {
	// Statement and error open with the same words, so no suffix.
	got, ok := suffixReasoning("the deploy timed out badly", Context{Error: "the deploy timed out badly again"})
	assert.False(t, ok)
	assert.NotContains(t, got, "because")
}

func TestInsertImplicitReasoning(t *testing.T) {
	got, ok := insertImplicitReasoning("Use connection pooling to reduce latency", Context{})
	assert.True(t, ok)
	assert.Contains(t, got, "because")
	assert.Contains(t, got, "reduce latency")

	// "for <noun>" style context clauses are not purpose clauses.
	_, ok = insertImplicitReasoning("Use a queue for ingestion", Context{})
	assert.False(t, ok)
}

func TestQuantifyVagueOutcome(t *testing.T) {
	got, ok := quantifyVagueOutcome("Batching made the import much faster", Context{Metric: "4x faster (90s to 22s)"})
	assert.True(t, ok)
	assert.Equal(t, "Batching made the import 4x faster (90s to 22s)", got)

	_, ok = quantifyVagueOutcome("Batching made the import much faster", Context{})
	assert.False(t, ok)
}

func TestCollapseRedundantSentences(t *testing.T) {
	long := "The pipeline was observed to be somewhat unreliable in many situations over time. Retry failed stages once"
	got, ok := collapseRedundantSentences(long, Context{})
	assert.True(t, ok)
	assert.Equal(t, "Retry failed stages once", got)
}
