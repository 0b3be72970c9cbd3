package curriculum

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/XiaoConstantine/engram-go/pkg/episodic"
	"github.com/XiaoConstantine/engram-go/pkg/errors"
	"github.com/XiaoConstantine/engram-go/pkg/logging"
	"github.com/XiaoConstantine/engram-go/pkg/refine"
	"github.com/XiaoConstantine/engram-go/pkg/store"
)

const (
	autofixMinUnified = 0.60

	// Archive update rates below this fraction flag stagnation.
	stagnationRate = 0.05
)

// AutofixOptions bounds one batch run.
type AutofixOptions struct {
	MaxCards       int
	MinGain        float64
	Apply          bool
	IncludeArchive bool

	PromoteOnSuccess      bool
	PromoteMinUnified     float64
	SoftPromoteOnSuccess  bool
	SoftPromoteMinUnified float64

	// ArchiveSecondPass reseeds a weak first refinement of an archive
	// row with its own output and keeps the better of the two.
	ArchiveSecondPass bool
}

func DefaultAutofixOptions() AutofixOptions {
	return AutofixOptions{
		MaxCards:              20,
		MinGain:               0.05,
		IncludeArchive:        true,
		PromoteOnSuccess:      true,
		PromoteMinUnified:     0.70,
		SoftPromoteOnSuccess:  true,
		SoftPromoteMinUnified: 0.50,
		ArchiveSecondPass:     true,
	}
}

// AutofixRow records one target's before and after.
type AutofixRow struct {
	DistillationID string  `json:"distillation_id"`
	Source         string  `json:"source"`
	OldUnified     float64 `json:"old_unified"`
	NewUnified     float64 `json:"new_unified"`
	OldSuppressed  bool    `json:"old_suppressed"`
	NewSuppressed  bool    `json:"new_suppressed"`
	ChangedText    bool    `json:"changed_text"`
	Action         string  `json:"action"`
}

// AutofixReport is the complete batch outcome. It is produced even
// when every row failed; only an unopenable database aborts the run.
type AutofixReport struct {
	RunID     string  `json:"run_id"`
	TS        int64   `json:"ts"`
	DBPath    string  `json:"db_path"`
	DBMissing bool    `json:"db_missing,omitempty"`
	MaxCards  int     `json:"max_cards"`
	MinGain   float64 `json:"min_gain"`
	Apply     bool    `json:"apply"`

	Candidates int `json:"candidates"`
	Attempted  int `json:"attempted"`
	Updated    int `json:"updated"`

	ArchiveAttempted          int     `json:"archive_attempted"`
	ArchiveUpdated            int     `json:"archive_updated"`
	ArchivePromoted           int     `json:"archive_promoted"`
	ArchiveStagnationDetected bool    `json:"archive_stagnation_detected"`
	ArchiveUpdateRate         float64 `json:"archive_update_rate"`
	SuppressionRecoveryRate   float64 `json:"suppression_recovery_rate"`

	Rows []AutofixRow `json:"rows"`
}

// Fixer runs the auto-fix batch over curriculum targets.
type Fixer struct {
	store   *store.Store
	builder *Builder
	refiner *refine.Refiner
	grader  refine.Grader
	logger  *logging.Logger
}

func NewFixer(s *store.Store, refiner *refine.Refiner, grader refine.Grader, logger *logging.Logger) *Fixer {
	if grader == nil {
		grader = refine.LexicalGrader{}
	}
	if refiner == nil {
		refiner = refine.NewRefiner(grader, refine.DefaultOptions(), logger)
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Fixer{
		store:   s,
		builder: NewBuilder(s, logger),
		refiner: refiner,
		grader:  grader,
		logger:  logger,
	}
}

// dbRunner is satisfied by *sql.Conn and *sql.Tx, so the same target
// handling runs inside or outside the batch transaction.
type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type target struct {
	source string
	id     string
}

// RunAutofix builds a curriculum over a widened candidate pool and
// re-refines the top targets on one connection. With Apply set the
// whole batch runs in a single transaction committed at the end.
func (f *Fixer) RunAutofix(ctx context.Context, opts AutofixOptions) (*AutofixReport, error) {
	report := &AutofixReport{
		RunID:    uuid.NewString(),
		TS:       time.Now().Unix(),
		DBPath:   f.store.Path(),
		MaxCards: opts.MaxCards,
		MinGain:  opts.MinGain,
		Apply:    opts.Apply,
		Rows:     []AutofixRow{},
	}
	if _, err := os.Stat(f.store.Path()); f.store.Path() != ":memory:" && os.IsNotExist(err) {
		report.DBMissing = true
		return report, nil
	}

	cur, err := f.builder.BuildCurriculum(ctx, BuildOptions{
		MaxRows:        opts.MaxCards * 20,
		MaxCards:       opts.MaxCards * 4,
		IncludeArchive: opts.IncludeArchive,
	})
	if err != nil {
		return nil, err
	}

	targets := dedupeTargets(cur.Cards, opts.MaxCards)
	report.Candidates = len(targets)

	conn, err := f.store.DB().Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to acquire autofix connection")
	}
	defer conn.Close()

	var runner dbRunner = conn
	var tx *sql.Tx
	if opts.Apply {
		tx, err = conn.BeginTx(ctx, nil)
		if err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to begin autofix transaction")
		}
		runner = tx
		defer func() {
			if tx != nil {
				_ = tx.Rollback()
			}
		}()
	}

	registry := newColumnRegistry()
	var oldSuppressedCount, recoveredCount int

	for _, tg := range targets {
		if err := errors.CheckContext(ctx, "autofix batch"); err != nil {
			return nil, err
		}
		row, err := f.processTarget(ctx, runner, registry, tg, opts)
		if err != nil {
			if errors.CodeOf(err) == errors.ResourceNotFound {
				f.logger.Debug(ctx, "autofix target %s/%s no longer exists", tg.source, tg.id)
			} else {
				f.logger.Warn(ctx, "autofix skipped %s/%s: %v", tg.source, tg.id, err)
			}
			continue
		}
		report.Attempted++
		if tg.source == SourceArchive {
			report.ArchiveAttempted++
		}
		switch row.Action {
		case "updated", "improved":
			report.Updated++
			if tg.source == SourceArchive {
				report.ArchiveUpdated++
			}
		case "promoted":
			report.Updated++
			report.ArchivePromoted++
			report.ArchiveUpdated++
		case "soft_promoted":
			report.Updated++
			report.ArchiveUpdated++
		}
		if row.OldSuppressed {
			oldSuppressedCount++
			if !row.NewSuppressed {
				recoveredCount++
			}
		}
		report.Rows = append(report.Rows, row)
	}

	if report.ArchiveAttempted > 0 {
		report.ArchiveUpdateRate = float64(report.ArchiveUpdated) / float64(report.ArchiveAttempted)
		report.ArchiveStagnationDetected = report.ArchiveUpdateRate < stagnationRate
	}
	if oldSuppressedCount > 0 {
		report.SuppressionRecoveryRate = float64(recoveredCount) / float64(oldSuppressedCount)
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to commit autofix batch")
		}
		tx = nil
	}

	f.logger.Info(ctx, "autofix: %d candidates, %d attempted, %d updated, %d promoted (apply=%v)",
		report.Candidates, report.Attempted, report.Updated, report.ArchivePromoted, opts.Apply)
	return report, nil
}

// dedupeTargets keeps the first (highest-priority) card per
// (source, id) pair.
func dedupeTargets(cards []Card, limit int) []target {
	seen := map[target]bool{}
	var out []target
	for _, c := range cards {
		tg := target{source: c.Source, id: c.DistillationID}
		if seen[tg] {
			continue
		}
		seen[tg] = true
		out = append(out, tg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func tableForSource(source string) string {
	if source == SourceArchive {
		return "distillations_archive"
	}
	return "distillations"
}

func (f *Fixer) processTarget(ctx context.Context, runner dbRunner, registry *columnRegistry, tg target, opts AutofixOptions) (AutofixRow, error) {
	table := tableForSource(tg.source)
	info, err := registry.resolve(ctx, runner, table)
	if err != nil {
		return AutofixRow{}, err
	}

	oldText, oldQ, err := f.loadTarget(ctx, runner, info, tg.id)
	if err != nil {
		return AutofixRow{}, err
	}

	row := AutofixRow{
		DistillationID: tg.id,
		Source:         tg.source,
		OldUnified:     oldQ.UnifiedScore,
		OldSuppressed:  oldQ.Suppressed,
		Action:         "noop",
	}

	newText, newQ := f.refiner.RefineDistillation(ctx, oldText, tg.source, refine.Context{}, autofixMinUnified)
	if tg.source == SourceArchive && opts.ArchiveSecondPass &&
		(newQ.Suppressed || newQ.UnifiedScore-oldQ.UnifiedScore < opts.MinGain) {
		secondText, secondQ := f.refiner.RefineDistillation(ctx, newText, tg.source, refine.Context{}, autofixMinUnified)
		if refine.RankHigher(refine.RankKey(secondText, secondQ), refine.RankKey(newText, newQ)) {
			newText, newQ = secondText, secondQ
		}
	}

	row.NewUnified = newQ.UnifiedScore
	row.NewSuppressed = newQ.Suppressed
	row.ChangedText = newText != oldText

	improved := (refine.RankHigher(refine.RankKey(newText, newQ), refine.RankKey(oldText, oldQ)) &&
		newQ.UnifiedScore >= oldQ.UnifiedScore) ||
		newQ.UnifiedScore-oldQ.UnifiedScore >= opts.MinGain
	if !improved {
		return row, nil
	}

	row.Action = "improved"
	if opts.Apply {
		if err := f.writeRefinement(ctx, runner, info, tg.id, newText, newQ); err != nil {
			return AutofixRow{}, err
		}
		row.Action = "updated"
	}

	if tg.source != SourceArchive {
		return row, nil
	}

	// Hard and soft promotion are mutually exclusive within one pass.
	hardEligible := opts.PromoteOnSuccess && !newQ.Suppressed &&
		newQ.UnifiedScore >= opts.PromoteMinUnified &&
		newQ.SubScoreSum() >= oldQ.SubScoreSum()
	softEligible := opts.SoftPromoteOnSuccess && !newQ.Suppressed &&
		newQ.UnifiedScore >= opts.SoftPromoteMinUnified

	switch {
	case hardEligible:
		if opts.Apply {
			if err := f.promote(ctx, runner, registry, tg.id, newText, newQ); err != nil {
				return AutofixRow{}, err
			}
		}
		row.Action = "promoted"
	case softEligible:
		tagged := *newQ
		tagged.SoftPromoted = true
		if opts.Apply {
			if err := f.writeRefinement(ctx, runner, info, tg.id, newText, &tagged); err != nil {
				return AutofixRow{}, err
			}
		}
		row.Action = "soft_promoted"
	}
	return row, nil
}

// loadTarget reads the current text and quality, selecting only
// columns the registry verified.
func (f *Fixer) loadTarget(ctx context.Context, runner dbRunner, info *tableInfo, id string) (string, *episodic.AdvisoryQuality, error) {
	cols := []string{"statement"}
	if info.has("refined_statement") {
		cols = append(cols, "refined_statement")
	}
	if info.has("advisory_quality") {
		cols = append(cols, "advisory_quality")
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE distillation_id = ?", strings.Join(cols, ", "), info.name)
	dest := make([]interface{}, len(cols))
	var statement, refined, quality string
	dest[0] = &statement
	for i, col := range cols[1:] {
		if col == "refined_statement" {
			dest[i+1] = &refined
		} else {
			dest[i+1] = &quality
		}
	}
	if err := runner.QueryRowContext(ctx, query, id).Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return "", nil, errors.New(errors.ResourceNotFound, "distillation vanished during batch")
		}
		return "", nil, errors.Wrap(err, errors.StorageFailed, "failed to load autofix target")
	}

	text := statement
	if refined != "" {
		text = refined
	}

	var q *episodic.AdvisoryQuality
	if quality != "" {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(quality), &m); err == nil && len(m) > 0 {
			q = episodic.AdvisoryQualityFromMap(m)
		}
	}
	if q == nil {
		graded, err := f.grader.TransformForAdvisory(ctx, text, info.name)
		if err != nil || graded == nil {
			graded = &episodic.AdvisoryQuality{AdvisoryText: text}
		}
		q = graded
	}
	return text, q, nil
}

// writeRefinement persists the new text and quality, touching only
// columns verified to exist on this table.
func (f *Fixer) writeRefinement(ctx context.Context, runner dbRunner, info *tableInfo, id, text string, q *episodic.AdvisoryQuality) error {
	var sets []string
	var args []interface{}
	if info.has("refined_statement") {
		sets = append(sets, "refined_statement = ?")
		args = append(args, text)
	}
	if info.has("advisory_quality") {
		payload, err := json.Marshal(q)
		if err != nil {
			payload = []byte("")
		}
		sets = append(sets, "advisory_quality = ?")
		args = append(args, string(payload))
	}
	if len(sets) == 0 {
		// Schema drift: nowhere safe to write.
		f.logger.Warn(ctx, "table %s carries no refinement columns, skipping write for %s", info.name, id)
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE distillation_id = ?", info.name, strings.Join(sets, ", "))
	if _, err := runner.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to persist refinement")
	}
	return nil
}

// promote copies an archive row into the active table via a generic
// upsert keyed by the active table's discovered primary keys.
func (f *Fixer) promote(ctx context.Context, runner dbRunner, registry *columnRegistry, id, text string, q *episodic.AdvisoryQuality) error {
	archive, err := registry.resolve(ctx, runner, "distillations_archive")
	if err != nil {
		return err
	}
	active, err := registry.resolve(ctx, runner, "distillations")
	if err != nil {
		return err
	}
	if len(active.pks) == 0 {
		return errors.New(errors.SchemaMismatch, "active table exposes no primary key")
	}

	where := make([]string, len(active.pks))
	args := make([]interface{}, len(active.pks))
	for i, pk := range active.pks {
		where[i] = pk + " = ?"
		args[i] = id
	}
	whereClause := strings.Join(where, " AND ")

	var exists int
	existsQuery := fmt.Sprintf("SELECT COUNT(*) FROM distillations WHERE %s", whereClause)
	if err := runner.QueryRowContext(ctx, existsQuery, args...).Scan(&exists); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to probe active table")
	}

	if exists > 0 {
		return f.writeRefinement(ctx, runner, active, id, text, q)
	}

	// Insert from the columns both tables share, then overlay the
	// refreshed text and quality.
	var common []string
	for col := range active.columns {
		if archive.has(col) && col != "archive_reason" {
			common = append(common, col)
		}
	}
	if len(common) == 0 {
		return errors.New(errors.SchemaMismatch, "no shared columns between archive and active tables")
	}
	colList := strings.Join(common, ", ")
	insert := fmt.Sprintf(
		"INSERT INTO distillations (%s) SELECT %s FROM distillations_archive WHERE distillation_id = ?",
		colList, colList)
	if _, err := runner.ExecContext(ctx, insert, id); err != nil {
		// A racing writer may have landed the row; degrade to a
		// best-effort text and quality update.
		f.logger.Warn(ctx, "promotion insert for %s degraded to update: %v", id, err)
		if _, uerr := runner.ExecContext(ctx,
			"UPDATE distillations SET statement = ?, advisory_quality = ? WHERE distillation_id = ?",
			text, encodeQuality(q), id); uerr != nil {
			return errors.Wrap(uerr, errors.StorageFailed, "failed degraded promotion update")
		}
		return nil
	}
	return f.writeRefinement(ctx, runner, active, id, text, q)
}

func encodeQuality(q *episodic.AdvisoryQuality) string {
	payload, err := json.Marshal(q)
	if err != nil {
		return ""
	}
	return string(payload)
}

// tableInfo is the resolved column registry entry for one table.
type tableInfo struct {
	name    string
	columns map[string]bool
	pks     []string
}

func (t *tableInfo) has(col string) bool { return t.columns[col] }

// columnRegistry caches PRAGMA table_info results for the lifetime of
// one batch connection. Nothing is ever written to an unverified
// column.
type columnRegistry struct {
	tables map[string]*tableInfo
}

func newColumnRegistry() *columnRegistry {
	return &columnRegistry{tables: map[string]*tableInfo{}}
}

func (r *columnRegistry) resolve(ctx context.Context, runner dbRunner, table string) (*tableInfo, error) {
	if info, ok := r.tables[table]; ok {
		return info, nil
	}

	rows, err := runner.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to introspect table"),
			errors.Fields{"table": table},
		)
	}
	defer rows.Close()

	info := &tableInfo{name: table, columns: map[string]bool{}}
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, ctype      string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan table_info row")
		}
		info.columns[name] = true
		if pk > 0 {
			info.pks = append(info.pks, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed reading table_info rows")
	}
	if len(info.columns) == 0 {
		return nil, errors.WithFields(
			errors.New(errors.SchemaMismatch, "table does not exist"),
			errors.Fields{"table": table},
		)
	}
	r.tables[table] = info
	return info, nil
}
