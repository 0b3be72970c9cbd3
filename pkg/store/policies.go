package store

import (
	"context"
	"database/sql"

	"github.com/XiaoConstantine/engram-go/pkg/episodic"
	"github.com/XiaoConstantine/engram-go/pkg/errors"
)

// SavePolicy upserts a policy keyed by its primary ID.
func (s *Store) SavePolicy(ctx context.Context, p *episodic.Policy) error {
	query := `
    INSERT INTO policies (policy_id, statement, scope, priority, source)
    VALUES (?, ?, ?, ?, ?)
    ON CONFLICT(policy_id) DO UPDATE SET
        statement = excluded.statement,
        scope = excluded.scope,
        priority = excluded.priority,
        source = excluded.source
    `
	_, err := s.db.ExecContext(ctx, query,
		p.PolicyID, p.Statement, string(p.Scope), p.Priority, string(p.Source))
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to save policy"),
			errors.Fields{"policy_id": p.PolicyID},
		)
	}
	return nil
}

// GetPolicyByID returns the policy, or nil (no error) when absent.
func (s *Store) GetPolicyByID(ctx context.Context, policyID string) (*episodic.Policy, error) {
	row := s.db.QueryRowContext(ctx, `
    SELECT policy_id, statement, scope, priority, source
    FROM policies WHERE policy_id = ?`, policyID)

	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to load policy"),
			errors.Fields{"policy_id": policyID},
		)
	}
	return p, nil
}

// GetPoliciesByScope returns policies for a scope, highest priority
// first.
func (s *Store) GetPoliciesByScope(ctx context.Context, scope episodic.PolicyScope) ([]*episodic.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
    SELECT policy_id, statement, scope, priority, source
    FROM policies WHERE scope = ? ORDER BY priority DESC`, string(scope))
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to query policies by scope")
	}
	defer rows.Close()

	var policies []*episodic.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan policy")
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// DeletePolicy removes a policy. Deleting an absent policy is not an
// error.
func (s *Store) DeletePolicy(ctx context.Context, policyID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE policy_id = ?`, policyID); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to delete policy"),
			errors.Fields{"policy_id": policyID},
		)
	}
	return nil
}

func scanPolicy(r rowScanner) (*episodic.Policy, error) {
	var (
		p             episodic.Policy
		scope, source string
	)
	if err := r.Scan(&p.PolicyID, &p.Statement, &scope, &p.Priority, &source); err != nil {
		return nil, err
	}
	p.Scope = episodic.ParsePolicyScope(scope)
	p.Source = episodic.ParsePolicySource(source)
	return &p, nil
}
