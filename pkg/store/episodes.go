package store

import (
	"context"
	"database/sql"

	"github.com/XiaoConstantine/engram-go/pkg/episodic"
	"github.com/XiaoConstantine/engram-go/pkg/errors"
)

// SaveEpisode upserts an episode keyed by its primary ID. Re-saving an
// episode with the same ID fully replaces the row.
func (s *Store) SaveEpisode(ctx context.Context, e *episodic.Episode) error {
	query := `
    INSERT INTO episodes (
        episode_id, goal, success_criteria, constraints, budget, phase,
        outcome, final_evaluation, start_ts, end_ts, step_count, error_counts
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(episode_id) DO UPDATE SET
        goal = excluded.goal,
        success_criteria = excluded.success_criteria,
        constraints = excluded.constraints,
        budget = excluded.budget,
        phase = excluded.phase,
        outcome = excluded.outcome,
        final_evaluation = excluded.final_evaluation,
        start_ts = excluded.start_ts,
        end_ts = excluded.end_ts,
        step_count = excluded.step_count,
        error_counts = excluded.error_counts
    `

	_, err := s.db.ExecContext(ctx, query,
		e.EpisodeID,
		e.Goal,
		e.SuccessCriteria,
		encodeJSON(e.Constraints, "[]"),
		encodeJSON(e.Budget.ToMap(), "{}"),
		string(e.Phase),
		string(e.Outcome),
		e.FinalEvaluation,
		nanosOf(e.StartTS),
		nanosOf(e.EndTS),
		e.StepCount,
		encodeJSON(e.ErrorCounts, "{}"),
	)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to save episode"),
			errors.Fields{"episode_id": e.EpisodeID},
		)
	}
	return nil
}

// GetEpisodeByID returns the episode, or nil (no error) when absent.
func (s *Store) GetEpisodeByID(ctx context.Context, episodeID string) (*episodic.Episode, error) {
	row := s.db.QueryRowContext(ctx, `
    SELECT episode_id, goal, success_criteria, constraints, budget, phase,
           outcome, final_evaluation, start_ts, end_ts, step_count, error_counts
    FROM episodes WHERE episode_id = ?`, episodeID)

	e, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to load episode"),
			errors.Fields{"episode_id": episodeID},
		)
	}
	return e, nil
}

// GetRecentEpisodes returns episodes ordered by start time descending.
func (s *Store) GetRecentEpisodes(ctx context.Context, limit int) ([]*episodic.Episode, error) {
	rows, err := s.db.QueryContext(ctx, `
    SELECT episode_id, goal, success_criteria, constraints, budget, phase,
           outcome, final_evaluation, start_ts, end_ts, step_count, error_counts
    FROM episodes ORDER BY start_ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to query recent episodes")
	}
	defer rows.Close()

	var episodes []*episodic.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan episode")
		}
		episodes = append(episodes, e)
	}
	return episodes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEpisode(r rowScanner) (*episodic.Episode, error) {
	var (
		e                              episodic.Episode
		constraints, budget, errCounts string
		phase, outcome                 string
		startTS, endTS                 int64
	)
	if err := r.Scan(
		&e.EpisodeID, &e.Goal, &e.SuccessCriteria, &constraints, &budget,
		&phase, &outcome, &e.FinalEvaluation, &startTS, &endTS,
		&e.StepCount, &errCounts,
	); err != nil {
		return nil, err
	}

	e.Constraints = decodeStringList(constraints)
	e.Budget = episodic.BudgetFromMap(decodeAnyMap(budget))
	e.Phase = episodic.ParsePhase(phase)
	e.Outcome = episodic.ParseOutcome(outcome)
	e.StartTS = timeOf(startTS)
	e.EndTS = timeOf(endTS)
	e.ErrorCounts = decodeIntMap(errCounts)
	return &e, nil
}

// SaveStep upserts a step keyed by its primary ID.
func (s *Store) SaveStep(ctx context.Context, st *episodic.Step) error {
	query := `
    INSERT INTO steps (
        step_id, episode_id, created_at, intent, decision, alternatives,
        assumptions, prediction, confidence_before, action_type,
        action_details, result, evaluation, surprise_level, lesson,
        confidence_after, retrieved_memories, memory_cited, memory_useful,
        validated, validation_method
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(step_id) DO UPDATE SET
        episode_id = excluded.episode_id,
        created_at = excluded.created_at,
        intent = excluded.intent,
        decision = excluded.decision,
        alternatives = excluded.alternatives,
        assumptions = excluded.assumptions,
        prediction = excluded.prediction,
        confidence_before = excluded.confidence_before,
        action_type = excluded.action_type,
        action_details = excluded.action_details,
        result = excluded.result,
        evaluation = excluded.evaluation,
        surprise_level = excluded.surprise_level,
        lesson = excluded.lesson,
        confidence_after = excluded.confidence_after,
        retrieved_memories = excluded.retrieved_memories,
        memory_cited = excluded.memory_cited,
        memory_useful = excluded.memory_useful,
        validated = excluded.validated,
        validation_method = excluded.validation_method
    `

	var memoryUseful interface{}
	if st.MemoryUseful != nil {
		memoryUseful = boolToInt(*st.MemoryUseful)
	}

	_, err := s.db.ExecContext(ctx, query,
		st.StepID,
		st.EpisodeID,
		nanosOf(st.CreatedAt),
		st.Intent,
		st.Decision,
		encodeJSON(st.Alternatives, "[]"),
		encodeJSON(st.Assumptions, "[]"),
		st.Prediction,
		st.ConfidenceBefore,
		string(st.ActionType),
		encodeJSON(st.ActionDetails, "{}"),
		st.Result,
		string(st.Evaluation),
		st.SurpriseLevel,
		st.Lesson,
		st.ConfidenceAfter,
		encodeJSON(st.RetrievedMemories, "[]"),
		boolToInt(st.MemoryCited),
		memoryUseful,
		boolToInt(st.Validated),
		st.ValidationMethod,
	)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to save step"),
			errors.Fields{"step_id": st.StepID, "episode_id": st.EpisodeID},
		)
	}
	return nil
}

// GetStepByID returns the step, or nil (no error) when absent.
func (s *Store) GetStepByID(ctx context.Context, stepID string) (*episodic.Step, error) {
	row := s.db.QueryRowContext(ctx, stepSelect+` WHERE step_id = ?`, stepID)
	st, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to load step"),
			errors.Fields{"step_id": stepID},
		)
	}
	return st, nil
}

// GetEpisodeSteps returns all steps of an episode ordered by creation
// time ascending.
func (s *Store) GetEpisodeSteps(ctx context.Context, episodeID string) ([]*episodic.Step, error) {
	rows, err := s.db.QueryContext(ctx, stepSelect+` WHERE episode_id = ? ORDER BY created_at ASC`, episodeID)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to query episode steps"),
			errors.Fields{"episode_id": episodeID},
		)
	}
	defer rows.Close()

	var steps []*episodic.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan step")
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

const stepSelect = `
    SELECT step_id, episode_id, created_at, intent, decision, alternatives,
           assumptions, prediction, confidence_before, action_type,
           action_details, result, evaluation, surprise_level, lesson,
           confidence_after, retrieved_memories, memory_cited, memory_useful,
           validated, validation_method
    FROM steps`

func scanStep(r rowScanner) (*episodic.Step, error) {
	var (
		st                            episodic.Step
		createdAt                     int64
		alternatives, assumptions     string
		actionType, actionDetails     string
		evaluation, retrievedMemories string
		memoryCited, validated        int
		memoryUseful                  sql.NullInt64
	)
	if err := r.Scan(
		&st.StepID, &st.EpisodeID, &createdAt, &st.Intent, &st.Decision,
		&alternatives, &assumptions, &st.Prediction, &st.ConfidenceBefore,
		&actionType, &actionDetails, &st.Result, &evaluation,
		&st.SurpriseLevel, &st.Lesson, &st.ConfidenceAfter,
		&retrievedMemories, &memoryCited, &memoryUseful, &validated,
		&st.ValidationMethod,
	); err != nil {
		return nil, err
	}

	st.CreatedAt = timeOf(createdAt)
	st.Alternatives = decodeStringList(alternatives)
	st.Assumptions = decodeStringList(assumptions)
	st.ActionType = episodic.ParseActionType(actionType)
	st.ActionDetails = decodeAnyMap(actionDetails)
	st.Evaluation = episodic.ParseEvaluation(evaluation)
	st.RetrievedMemories = decodeStringList(retrievedMemories)
	st.MemoryCited = memoryCited != 0
	st.Validated = validated != 0
	if memoryUseful.Valid {
		useful := memoryUseful.Int64 != 0
		st.MemoryUseful = &useful
	}
	return &st, nil
}
