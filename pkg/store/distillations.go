package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/XiaoConstantine/engram-go/pkg/episodic"
	"github.com/XiaoConstantine/engram-go/pkg/errors"
)

const distillationColumns = `
    distillation_id, type, statement, domains, triggers, anti_triggers,
    source_steps, validation_count, contradiction_count, confidence,
    times_retrieved, times_used, times_helped, created_at, revalidate_by,
    refined_statement, advisory_quality`

// SaveDistillation upserts a rule into the active table.
func (s *Store) SaveDistillation(ctx context.Context, d *episodic.Distillation) error {
	query := `
    INSERT INTO distillations (` + distillationColumns + `
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(distillation_id) DO UPDATE SET
        type = excluded.type,
        statement = excluded.statement,
        domains = excluded.domains,
        triggers = excluded.triggers,
        anti_triggers = excluded.anti_triggers,
        source_steps = excluded.source_steps,
        validation_count = excluded.validation_count,
        contradiction_count = excluded.contradiction_count,
        confidence = excluded.confidence,
        times_retrieved = excluded.times_retrieved,
        times_used = excluded.times_used,
        times_helped = excluded.times_helped,
        created_at = excluded.created_at,
        revalidate_by = excluded.revalidate_by,
        refined_statement = excluded.refined_statement,
        advisory_quality = excluded.advisory_quality
    `

	_, err := s.db.ExecContext(ctx, query, distillationArgs(d)...)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to save distillation"),
			errors.Fields{"distillation_id": d.DistillationID},
		)
	}
	return nil
}

func distillationArgs(d *episodic.Distillation) []interface{} {
	quality := ""
	if d.AdvisoryQuality != nil {
		quality = encodeJSON(d.AdvisoryQuality, "")
	}
	return []interface{}{
		d.DistillationID,
		string(d.Type),
		d.Statement,
		encodeJSON(d.Domains, "[]"),
		encodeJSON(d.Triggers, "[]"),
		encodeJSON(d.AntiTriggers, "[]"),
		encodeJSON(d.SourceSteps, "[]"),
		d.ValidationCount,
		d.ContradictionCount,
		d.Confidence,
		d.TimesRetrieved,
		d.TimesUsed,
		d.TimesHelped,
		nanosOf(d.CreatedAt),
		nanosOf(d.RevalidateBy),
		d.RefinedStatement,
		quality,
	}
}

// GetDistillationByID returns the rule, or nil (no error) when absent.
func (s *Store) GetDistillationByID(ctx context.Context, id string) (*episodic.Distillation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+distillationColumns+` FROM distillations WHERE distillation_id = ?`, id)
	d, err := scanDistillation(row, false)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to load distillation"),
			errors.Fields{"distillation_id": id},
		)
	}
	return d, nil
}

// GetDistillationsByType returns active rules of the given type.
func (s *Store) GetDistillationsByType(ctx context.Context, dtype episodic.DistillationType) ([]*episodic.Distillation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+distillationColumns+` FROM distillations WHERE type = ? ORDER BY confidence DESC`,
		string(dtype))
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to query distillations by type")
	}
	defer rows.Close()
	return collectDistillations(rows, false)
}

// GetHighConfidenceDistillations returns active rules at or above the
// confidence floor, best first.
func (s *Store) GetHighConfidenceDistillations(ctx context.Context, minConfidence float64, limit int) ([]*episodic.Distillation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+distillationColumns+` FROM distillations
         WHERE confidence >= ? ORDER BY confidence DESC LIMIT ?`,
		minConfidence, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to query high-confidence distillations")
	}
	defer rows.Close()
	return collectDistillations(rows, false)
}

// GetDistillationsForRevalidation returns all rules whose revalidate_by
// deadline has elapsed.
func (s *Store) GetDistillationsForRevalidation(ctx context.Context) ([]*episodic.Distillation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+distillationColumns+` FROM distillations
         WHERE revalidate_by > 0 AND revalidate_by <= ? ORDER BY revalidate_by ASC`,
		time.Now().UnixNano())
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to query distillations for revalidation")
	}
	defer rows.Close()
	return collectDistillations(rows, false)
}

// GetRecentDistillations returns active rules ordered by creation time
// descending, for curriculum scans.
func (s *Store) GetRecentDistillations(ctx context.Context, limit int) ([]*episodic.Distillation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+distillationColumns+` FROM distillations ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to query recent distillations")
	}
	defer rows.Close()
	return collectDistillations(rows, false)
}

// ArchiveDistillation moves a rule from the active table into the
// archive with the given reason. The move is transactional.
func (s *Store) ArchiveDistillation(ctx context.Context, id, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to begin archive transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
    INSERT INTO distillations_archive (`+distillationColumns+`, archive_reason)
    SELECT `+distillationColumns+`, ? FROM distillations WHERE distillation_id = ?
    ON CONFLICT(distillation_id) DO UPDATE SET archive_reason = excluded.archive_reason`,
		reason, id)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to copy distillation into archive"),
			errors.Fields{"distillation_id": id},
		)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.WithFields(
			errors.New(errors.ResourceNotFound, "distillation not found"),
			errors.Fields{"distillation_id": id},
		)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM distillations WHERE distillation_id = ?`, id); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to remove archived distillation")
	}

	return tx.Commit()
}

// SaveArchivedDistillation upserts a rule directly into the archive.
func (s *Store) SaveArchivedDistillation(ctx context.Context, d *episodic.Distillation) error {
	query := `
    INSERT INTO distillations_archive (` + distillationColumns + `, archive_reason
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(distillation_id) DO UPDATE SET
        statement = excluded.statement,
        refined_statement = excluded.refined_statement,
        advisory_quality = excluded.advisory_quality,
        archive_reason = excluded.archive_reason
    `
	args := append(distillationArgs(d), d.ArchiveReason)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to save archived distillation"),
			errors.Fields{"distillation_id": d.DistillationID},
		)
	}
	return nil
}

// GetArchivedDistillations returns archive rows, newest first.
func (s *Store) GetArchivedDistillations(ctx context.Context, limit int) ([]*episodic.Distillation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+distillationColumns+`, archive_reason FROM distillations_archive
         ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to query archived distillations")
	}
	defer rows.Close()
	return collectDistillations(rows, true)
}

func collectDistillations(rows *sql.Rows, archived bool) ([]*episodic.Distillation, error) {
	var out []*episodic.Distillation
	for rows.Next() {
		d, err := scanDistillation(rows, archived)
		if err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan distillation")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDistillation(r rowScanner, archived bool) (*episodic.Distillation, error) {
	var (
		d                                      episodic.Distillation
		dtype, domains, triggers, antiTriggers string
		sourceSteps, quality                   string
		createdAt, revalidateBy                int64
	)

	dest := []interface{}{
		&d.DistillationID, &dtype, &d.Statement, &domains, &triggers,
		&antiTriggers, &sourceSteps, &d.ValidationCount,
		&d.ContradictionCount, &d.Confidence, &d.TimesRetrieved,
		&d.TimesUsed, &d.TimesHelped, &createdAt, &revalidateBy,
		&d.RefinedStatement, &quality,
	}
	if archived {
		dest = append(dest, &d.ArchiveReason)
	}
	if err := r.Scan(dest...); err != nil {
		return nil, err
	}

	d.Type = episodic.ParseDistillationType(dtype)
	d.Domains = decodeStringList(domains)
	d.Triggers = decodeStringList(triggers)
	d.AntiTriggers = decodeStringList(antiTriggers)
	d.SourceSteps = decodeStringList(sourceSteps)
	d.CreatedAt = timeOf(createdAt)
	d.RevalidateBy = timeOf(revalidateBy)
	if quality != "" {
		if qm := decodeAnyMap(quality); len(qm) > 0 {
			d.AdvisoryQuality = episodic.AdvisoryQualityFromMap(qm)
		}
	}
	return &d, nil
}
