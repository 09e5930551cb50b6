package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Operations provides the query surface over the experiments store.
type Operations struct {
	db *sql.DB
}

// NewOperations creates an Operations instance for the given connection.
func NewOperations(db *sql.DB) *Operations {
	return &Operations{db: db}
}

// InsertExperiment records a new experiment before the loop runs. Outcome
// fields are filled in by CompleteExperiment.
func (ops *Operations) InsertExperiment(exp *Experiment) error {
	if exp.ID == "" {
		return fmt.Errorf("experiment has no id")
	}
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now().UTC()
	}

	_, err := ops.db.Exec(`
		INSERT INTO experiments (
			id, created_at, put_id, technique, category, model, provider,
			max_iterations, execute_tests, measure_coverage
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.ID, exp.CreatedAt, exp.PUTID, exp.Technique, exp.Category,
		exp.Model, exp.Provider, exp.MaxIterations, exp.ExecuteTests, exp.MeasureCoverage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert experiment %s: %w", exp.ID, err)
	}
	return nil
}

// CompleteExperiment writes the terminal outcome and accounting totals.
func (ops *Operations) CompleteExperiment(exp *Experiment) error {
	if !IsValidOutcomeKind(exp.OutcomeKind) {
		return fmt.Errorf("invalid outcome kind %q", exp.OutcomeKind)
	}
	completedAt := time.Now().UTC()
	exp.CompletedAt = &completedAt

	result, err := ops.db.Exec(`
		UPDATE experiments SET
			completed_at = ?, outcome_kind = ?, iterations = ?,
			coverage_percent = ?, test_count = ?,
			prompt_tokens = ?, completion_tokens = ?, cost_usd = ?, error_text = ?
		WHERE id = ?`,
		exp.CompletedAt, exp.OutcomeKind, exp.Iterations,
		exp.CoveragePercent, exp.TestCount,
		exp.PromptTokens, exp.CompletionTokens, exp.CostUSD, exp.ErrorText,
		exp.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete experiment %s: %w", exp.ID, err)
	}
	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("experiment %s not found", exp.ID)
	}
	return nil
}

// InsertAttempts stores the full attempt trace for one experiment in a
// single transaction.
func (ops *Operations) InsertAttempts(records []AttemptRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := ops.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO attempts (
			experiment_id, iteration, valid, validity_message,
			execution_status, execution_detail, coverage_percent,
			candidate, error_text, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare attempt insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range records {
		r := &records[i]
		if _, err := stmt.Exec(
			r.ExperimentID, r.Iteration, r.Valid, r.ValidityMessage,
			r.ExecutionStatus, r.ExecutionDetail, r.CoveragePercent,
			r.Candidate, r.ErrorText, r.DurationMS,
		); err != nil {
			return fmt.Errorf("failed to insert attempt %d of experiment %s: %w",
				r.Iteration, r.ExperimentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attempts: %w", err)
	}
	return nil
}

// GetExperiment returns one experiment by id, or nil when not found.
func (ops *Operations) GetExperiment(id string) (*Experiment, error) {
	row := ops.db.QueryRow(`
		SELECT id, created_at, completed_at, put_id, technique, category,
			model, provider, max_iterations, execute_tests, measure_coverage,
			outcome_kind, iterations, coverage_percent, test_count,
			prompt_tokens, completion_tokens, cost_usd, error_text
		FROM experiments WHERE id = ?`, id)

	exp, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return exp, err
}

// ListExperiments returns experiments newest first, bounded by limit
// (0 = no limit).
func (ops *Operations) ListExperiments(limit int) ([]*Experiment, error) {
	query := `
		SELECT id, created_at, completed_at, put_id, technique, category,
			model, provider, max_iterations, execute_tests, measure_coverage,
			outcome_kind, iterations, coverage_percent, test_count,
			prompt_tokens, completion_tokens, cost_usd, error_text
		FROM experiments ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := ops.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate experiments: %w", err)
	}
	return out, nil
}

// GetAttempts returns the ordered attempt trace for one experiment.
func (ops *Operations) GetAttempts(experimentID string) ([]AttemptRecord, error) {
	rows, err := ops.db.Query(`
		SELECT experiment_id, iteration, valid, validity_message,
			execution_status, execution_detail, coverage_percent,
			candidate, error_text, duration_ms
		FROM attempts WHERE experiment_id = ? ORDER BY iteration`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts for %s: %w", experimentID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []AttemptRecord
	for rows.Next() {
		var r AttemptRecord
		if err := rows.Scan(
			&r.ExperimentID, &r.Iteration, &r.Valid, &r.ValidityMessage,
			&r.ExecutionStatus, &r.ExecutionDetail, &r.CoveragePercent,
			&r.Candidate, &r.ErrorText, &r.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempts: %w", err)
	}
	return out, nil
}

// ReportRow is one aggregation bucket of the report command.
type ReportRow struct {
	Group          string   // technique or model name
	Experiments    int      // completed experiments in the bucket
	Successes      int      // outcome = success
	SuccessRate    float64  // Successes / Experiments
	MeanIterations float64  // mean iterations consumed
	MeanCoverage   *float64 // mean coverage over experiments that measured one, nil when none did
}

// ReportByTechnique aggregates success rate, mean iterations, and mean
// coverage grouped by technique.
func (ops *Operations) ReportByTechnique() ([]ReportRow, error) {
	return ops.report("technique")
}

// ReportByModel aggregates the same statistics grouped by model.
func (ops *Operations) ReportByModel() ([]ReportRow, error) {
	return ops.report("model")
}

// report runs the grouped aggregation. column is a trusted identifier, never
// user input.
func (ops *Operations) report(column string) ([]ReportRow, error) {
	query := fmt.Sprintf(`
		SELECT %s,
			COUNT(*) AS experiments,
			SUM(CASE WHEN outcome_kind = 'success' THEN 1 ELSE 0 END) AS successes,
			AVG(iterations) AS mean_iterations,
			AVG(coverage_percent) AS mean_coverage
		FROM experiments
		WHERE outcome_kind != ''
		GROUP BY %s
		ORDER BY %s`, column, column, column)

	rows, err := ops.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query report by %s: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	var out []ReportRow
	for rows.Next() {
		var r ReportRow
		var meanIterations sql.NullFloat64
		var meanCoverage sql.NullFloat64
		if err := rows.Scan(&r.Group, &r.Experiments, &r.Successes, &meanIterations, &meanCoverage); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		if meanIterations.Valid {
			r.MeanIterations = meanIterations.Float64
		}
		if meanCoverage.Valid {
			v := meanCoverage.Float64
			r.MeanCoverage = &v
		}
		if r.Experiments > 0 {
			r.SuccessRate = float64(r.Successes) / float64(r.Experiments)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate report rows: %w", err)
	}
	return out, nil
}

// scanner abstracts sql.Row and sql.Rows for scanExperiment.
type scanner interface {
	Scan(dest ...any) error
}

func scanExperiment(s scanner) (*Experiment, error) {
	var exp Experiment
	err := s.Scan(
		&exp.ID, &exp.CreatedAt, &exp.CompletedAt, &exp.PUTID, &exp.Technique,
		&exp.Category, &exp.Model, &exp.Provider, &exp.MaxIterations,
		&exp.ExecuteTests, &exp.MeasureCoverage, &exp.OutcomeKind,
		&exp.Iterations, &exp.CoveragePercent, &exp.TestCount,
		&exp.PromptTokens, &exp.CompletionTokens, &exp.CostUSD, &exp.ErrorText,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan experiment: %w", err)
	}
	return &exp, nil
}
