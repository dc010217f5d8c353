package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/fixloop/internal/workflow"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// Run represents a row in the fix_runs table.
type Run struct {
	ID              string `json:"id"`
	Source          string `json:"source"`
	Status          string `json:"status"`
	Iterations      int    `json:"iterations"`
	MaxIterations   int    `json:"max_iterations"`
	IssuesFixed     int    `json:"issues_fixed"`
	IssuesRemaining int    `json:"issues_remaining"`
	Changed         bool   `json:"changed"`
	SyntaxValid     bool   `json:"syntax_valid"`
	Flagged         string `json:"flagged,omitempty"`
	DurationMs      int    `json:"duration_ms"`
	CreatedAt       string `json:"created_at"`
}

// Iteration represents a row in the fix_iterations table.
type Iteration struct {
	ID          int    `json:"id"`
	RunID       string `json:"run_id"`
	Iteration   int    `json:"iteration"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Strategy    string `json:"strategy"`
	Changed     bool   `json:"changed"`
	RolledBack  bool   `json:"rolled_back"`
	SyntaxValid bool   `json:"syntax_valid"`
	Flagged     string `json:"flagged,omitempty"`
	Passed      bool   `json:"passed"`
	Error       string `json:"error,omitempty"`
}

// LogRun inserts a fix run. CreatedAt defaults to now (UTC, RFC 3339).
func (d *DB) LogRun(ctx context.Context, r Run) error {
	if r.CreatedAt == "" {
		r.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := d.conn.ExecContext(ctx, d.rebind(
		`INSERT INTO fix_runs (id, source, status, iterations, max_iterations, issues_fixed, issues_remaining, changed, syntax_valid, flagged, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.Source, r.Status, r.Iterations, r.MaxIterations, r.IssuesFixed, r.IssuesRemaining,
		r.Changed, r.SyntaxValid, r.Flagged, r.DurationMs, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("log run: %w", err)
	}
	return nil
}

// LogIteration inserts one iteration of a run.
func (d *DB) LogIteration(ctx context.Context, it Iteration) error {
	_, err := d.conn.ExecContext(ctx, d.rebind(
		`INSERT INTO fix_iterations (run_id, iteration, severity, description, strategy, changed, rolled_back, syntax_valid, flagged, passed, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		it.RunID, it.Iteration, it.Severity, it.Description, it.Strategy,
		it.Changed, it.RolledBack, it.SyntaxValid, it.Flagged, it.Passed, it.Error,
	)
	if err != nil {
		return fmt.Errorf("log iteration: %w", err)
	}
	return nil
}

// RunFromResult builds the fix_runs row for a workflow result.
func RunFromResult(id, source string, res workflow.Result, duration time.Duration) Run {
	return Run{
		ID:              id,
		Source:          source,
		Status:          string(res.Status),
		Iterations:      res.Iterations,
		MaxIterations:   res.MaxIterations,
		IssuesFixed:     res.IssuesFixed,
		IssuesRemaining: res.IssuesRemaining,
		Changed:         res.Changed(),
		SyntaxValid:     res.LastTestReport.SyntaxValid,
		Flagged:         strings.Join(res.LastTestReport.FlaggedPatterns, ","),
		DurationMs:      int(duration.Milliseconds()),
	}
}

// IterationsFromResult builds the fix_iterations rows for a workflow result.
func IterationsFromResult(id string, res workflow.Result) []Iteration {
	out := make([]Iteration, 0, len(res.Steps))
	for _, s := range res.Steps {
		out = append(out, Iteration{
			RunID:       id,
			Iteration:   s.Iteration,
			Severity:    string(s.Issue.Severity),
			Description: s.Issue.Description,
			Strategy:    s.Strategy,
			Changed:     s.Changed,
			RolledBack:  s.RolledBack,
			SyntaxValid: s.Report.SyntaxValid,
			Flagged:     strings.Join(s.Report.FlaggedPatterns, ","),
			Passed:      s.Report.Passed,
			Error:       s.FallbackErr,
		})
	}
	return out
}

// LogResult records a run and all its iterations in one transaction.
func (d *DB) LogResult(ctx context.Context, id, source string, res workflow.Result, duration time.Duration) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	txdb := &txDB{tx: tx, d: d}
	run := RunFromResult(id, source, res, duration)
	run.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := txdb.exec(ctx,
		`INSERT INTO fix_runs (id, source, status, iterations, max_iterations, issues_fixed, issues_remaining, changed, syntax_valid, flagged, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.Status, run.Iterations, run.MaxIterations, run.IssuesFixed, run.IssuesRemaining,
		run.Changed, run.SyntaxValid, run.Flagged, run.DurationMs, run.CreatedAt,
	); err != nil {
		return fmt.Errorf("log run: %w", err)
	}
	for _, it := range IterationsFromResult(id, res) {
		if err := txdb.exec(ctx,
			`INSERT INTO fix_iterations (run_id, iteration, severity, description, strategy, changed, rolled_back, syntax_valid, flagged, passed, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			it.RunID, it.Iteration, it.Severity, it.Description, it.Strategy,
			it.Changed, it.RolledBack, it.SyntaxValid, it.Flagged, it.Passed, it.Error,
		); err != nil {
			return fmt.Errorf("log iteration %d: %w", it.Iteration, err)
		}
	}
	return tx.Commit()
}

type txDB struct {
	tx *sql.Tx
	d  *DB
}

func (t *txDB) exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(query), args...)
	return err
}

const runColumns = `id, source, status, iterations, max_iterations, issues_fixed, issues_remaining, changed, syntax_valid, flagged, duration_ms, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var flagged sql.NullString
	var duration sql.NullInt64
	err := row.Scan(&r.ID, &r.Source, &r.Status, &r.Iterations, &r.MaxIterations, &r.IssuesFixed,
		&r.IssuesRemaining, &r.Changed, &r.SyntaxValid, &flagged, &duration, &r.CreatedAt)
	r.Flagged = flagged.String
	r.DurationMs = int(duration.Int64)
	return r, err
}

// ListRuns returns the most recent runs, newest first. limit <= 0 means 50.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.QueryContext(ctx, d.rebind(
		`SELECT `+runColumns+` FROM fix_runs ORDER BY created_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run by id, or ErrRunNotFound.
func (d *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := d.conn.QueryRowContext(ctx, d.rebind(`SELECT `+runColumns+` FROM fix_runs WHERE id = ?`), id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// RunIterations returns a run's iterations in order.
func (d *DB) RunIterations(ctx context.Context, id string) ([]Iteration, error) {
	rows, err := d.conn.QueryContext(ctx, d.rebind(
		`SELECT id, run_id, iteration, severity, description, strategy, changed, rolled_back, syntax_valid, flagged, passed, error
		 FROM fix_iterations WHERE run_id = ? ORDER BY iteration ASC, id ASC`), id)
	if err != nil {
		return nil, fmt.Errorf("run iterations: %w", err)
	}
	defer rows.Close()

	var out []Iteration
	for rows.Next() {
		var it Iteration
		var severity, description, flagged, errText sql.NullString
		if err := rows.Scan(&it.ID, &it.RunID, &it.Iteration, &severity, &description, &it.Strategy,
			&it.Changed, &it.RolledBack, &it.SyntaxValid, &flagged, &it.Passed, &errText); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		it.Severity = severity.String
		it.Description = description.String
		it.Flagged = flagged.String
		it.Error = errText.String
		out = append(out, it)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its iterations.
func (d *DB) DeleteRun(ctx context.Context, id string) error {
	if _, err := d.conn.ExecContext(ctx, d.rebind(`DELETE FROM fix_iterations WHERE run_id = ?`), id); err != nil {
		return fmt.Errorf("delete iterations: %w", err)
	}
	res, err := d.conn.ExecContext(ctx, d.rebind(`DELETE FROM fix_runs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}
