package curriculum

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/engram-go/pkg/episodic"
	"github.com/XiaoConstantine/engram-go/pkg/errors"
	"github.com/XiaoConstantine/engram-go/pkg/refine"
	"github.com/XiaoConstantine/engram-go/pkg/store"
)

// dumpTables renders every distillation row (both tables) into one
// deterministic string, for before/after mutation checks.
func dumpTables(t *testing.T, s *store.Store) string {
	t.Helper()
	out := ""
	for _, table := range []string{"distillations", "distillations_archive"} {
		rows, err := s.DB().Query(fmt.Sprintf(
			"SELECT distillation_id, statement, refined_statement, advisory_quality FROM %s ORDER BY distillation_id", table))
		require.NoError(t, err)
		for rows.Next() {
			var id, statement, refined, quality string
			require.NoError(t, rows.Scan(&id, &statement, &refined, &quality))
			out += fmt.Sprintf("%s|%s|%s|%s|%s\n", table, id, statement, refined, quality)
		}
		require.NoError(t, rows.Err())
		rows.Close()
	}
	return out
}

func seedWeakCorpus(t *testing.T, s *store.Store) (*episodic.Distillation, *episodic.Distillation) {
	t.Helper()
	active := saveActive(t, s, "maybe consider using smaller batches for the 500-row importer",
		&episodic.AdvisoryQuality{UnifiedScore: 0.15, Actionability: 0.1, Reasoning: 0.1, Specificity: 0.2})
	archived := saveArchived(t, s, "maybe checking the 30s webhook timeout before retrying because the gateway drops idle connections",
		"unified_score_below_floor:0.20",
		&episodic.AdvisoryQuality{UnifiedScore: 0.20, Actionability: 0.2, Reasoning: 0.2, Specificity: 0.2})
	return active, archived
}

// cancelingGrader cancels the run's context on its first use, then
// grades normally.
type cancelingGrader struct{ cancel context.CancelFunc }

func (g cancelingGrader) TransformForAdvisory(ctx context.Context, text, source string) (*episodic.AdvisoryQuality, error) {
	g.cancel()
	return refine.LexicalGrader{}.TransformForAdvisory(ctx, text, source)
}

func TestAutofixStopsOnCanceledContext(t *testing.T) {
	s := newTestStore(t)
	seedWeakCorpus(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewFixer(s, nil, cancelingGrader{cancel}, nil)
	_, err := f.RunAutofix(ctx, DefaultAutofixOptions())
	require.Error(t, err)
	assert.Equal(t, errors.Canceled, errors.CodeOf(err))
}

func TestAutofixDryRunNeverWrites(t *testing.T) {
	s := newTestStore(t)
	seedWeakCorpus(t, s)

	before := dumpTables(t, s)

	f := NewFixer(s, nil, nil, nil)
	opts := DefaultAutofixOptions()
	opts.Apply = false
	report, err := f.RunAutofix(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, before, dumpTables(t, s))
	assert.False(t, report.Apply)
	assert.Greater(t, report.Attempted, 0)
}

func TestAutofixApplyPersistsImprovements(t *testing.T) {
	s := newTestStore(t)
	active, _ := seedWeakCorpus(t, s)

	f := NewFixer(s, nil, nil, nil)
	opts := DefaultAutofixOptions()
	opts.Apply = true
	report, err := f.RunAutofix(context.Background(), opts)
	require.NoError(t, err)
	assert.Greater(t, report.Updated, 0)

	got, err := s.GetDistillationByID(context.Background(), active.DistillationID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotEmpty(t, got.RefinedStatement)
	assert.NotContains(t, got.RefinedStatement, "maybe")
	require.NotNil(t, got.AdvisoryQuality)
	assert.Greater(t, got.AdvisoryQuality.UnifiedScore, 0.15)
}

func TestAutofixPromotesRescuedArchiveRow(t *testing.T) {
	s := newTestStore(t)
	_, archived := seedWeakCorpus(t, s)

	f := NewFixer(s, nil, nil, nil)
	opts := DefaultAutofixOptions()
	opts.Apply = true
	opts.PromoteMinUnified = 0.50
	report, err := f.RunAutofix(context.Background(), opts)
	require.NoError(t, err)

	var archiveRow *AutofixRow
	for i := range report.Rows {
		if report.Rows[i].DistillationID == archived.DistillationID {
			archiveRow = &report.Rows[i]
		}
	}
	require.NotNil(t, archiveRow)
	require.Equal(t, "promoted", archiveRow.Action)
	assert.Greater(t, report.ArchivePromoted, 0)

	promoted, err := s.GetDistillationByID(context.Background(), archived.DistillationID)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.NotEmpty(t, promoted.RefinedStatement)
}

func TestAutofixSoftPromotion(t *testing.T) {
	s := newTestStore(t)
	_, archived := seedWeakCorpus(t, s)

	f := NewFixer(s, nil, nil, nil)
	opts := DefaultAutofixOptions()
	opts.Apply = true
	// Hard floor out of reach, soft floor reachable.
	opts.PromoteMinUnified = 0.99
	opts.SoftPromoteMinUnified = 0.40
	report, err := f.RunAutofix(context.Background(), opts)
	require.NoError(t, err)

	var archiveRow *AutofixRow
	for i := range report.Rows {
		if report.Rows[i].DistillationID == archived.DistillationID {
			archiveRow = &report.Rows[i]
		}
	}
	require.NotNil(t, archiveRow)
	require.Equal(t, "soft_promoted", archiveRow.Action)
	assert.Equal(t, 0, report.ArchivePromoted)

	// The row stays in the archive, tagged in place.
	stillActive, err := s.GetDistillationByID(context.Background(), archived.DistillationID)
	require.NoError(t, err)
	assert.Nil(t, stillActive)

	rows, err := s.GetArchivedDistillations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].AdvisoryQuality)
	assert.True(t, rows[0].AdvisoryQuality.SoftPromoted)
}

func TestAutofixReportShape(t *testing.T) {
	s := newTestStore(t)
	seedWeakCorpus(t, s)

	f := NewFixer(s, nil, nil, nil)
	report, err := f.RunAutofix(context.Background(), DefaultAutofixOptions())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, s.Path(), report.DBPath)
	assert.Equal(t, report.Candidates, len(report.Rows))
	assert.GreaterOrEqual(t, report.ArchiveAttempted, 1)
	if report.ArchiveAttempted > 0 && report.ArchiveUpdated > 0 {
		assert.False(t, report.ArchiveStagnationDetected)
	}
}

func TestDedupeTargets(t *testing.T) {
	cards := []Card{
		{Source: SourceActive, DistillationID: "a"},
		{Source: SourceArchive, DistillationID: "a"},
		{Source: SourceActive, DistillationID: "a"},
		{Source: SourceActive, DistillationID: "b"},
	}
	got := dedupeTargets(cards, 0)
	require.Len(t, got, 3)
	assert.Equal(t, target{SourceActive, "a"}, got[0])
	assert.Equal(t, target{SourceArchive, "a"}, got[1])
	assert.Equal(t, target{SourceActive, "b"}, got[2])

	assert.Len(t, dedupeTargets(cards, 2), 2)
}

func TestColumnRegistry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conn, err := s.DB().Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	reg := newColumnRegistry()
	info, err := reg.resolve(ctx, conn, "distillations")
	require.NoError(t, err)
	assert.True(t, info.has("refined_statement"))
	assert.True(t, info.has("advisory_quality"))
	assert.False(t, info.has("archive_reason"))
	assert.Equal(t, []string{"distillation_id"}, info.pks)

	// Cached on second resolve.
	again, err := reg.resolve(ctx, conn, "distillations")
	require.NoError(t, err)
	assert.Same(t, info, again)

	_, err = reg.resolve(ctx, conn, "no_such_table")
	require.Error(t, err)
}
