package db

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/lucasnoah/fixloop/internal/issue"
	"github.com/lucasnoah/fixloop/internal/validate"
	"github.com/lucasnoah/fixloop/internal/workflow"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(DialectSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func sampleResult() workflow.Result {
	return workflow.Result{
		OriginalCode:    "h = hashlib.md5(b'x')\n",
		FixedCode:       "h = hashlib.sha256(b'x')\n",
		Iterations:      2,
		MaxIterations:   10,
		IssuesFixed:     2,
		IssuesRemaining: 0,
		Status:          workflow.StatusDone,
		LastTestReport:  validate.TestReport{SyntaxValid: true, FlaggedPatterns: []string{}, Passed: true},
		Steps: []workflow.Step{
			{
				Iteration: 1,
				Issue:     issue.Issue{Severity: issue.SeverityHigh, Description: "Weak MD5 hash"},
				Strategy:  workflow.RuleStrategy("weak-crypto"),
				Changed:   true,
				Report:    validate.TestReport{SyntaxValid: true, FlaggedPatterns: []string{}, Passed: true},
			},
			{
				Iteration:   2,
				Issue:       issue.Issue{Severity: issue.SeverityLow, Description: "Style"},
				Strategy:    workflow.StrategyLLM,
				FallbackErr: "llm: no API credentials configured",
				Report:      validate.TestReport{SyntaxValid: true, FlaggedPatterns: []string{}, Passed: true},
			},
		},
	}
}

func TestMigrate(t *testing.T) {
	d, err := Open(DialectSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// Verify all tables exist
	tables := []string{"schema_version", "fix_runs", "fix_iterations"}
	for _, table := range tables {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	var version int
	if err := d.conn.QueryRow("SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}

	// Migrate again should be idempotent
	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open("mysql", "x"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if _, err := Open(DialectPostgres, ""); err == nil {
		t.Fatal("expected error for empty postgres dsn")
	}
}

func TestReset(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	if err := d.LogRun(ctx, Run{ID: "r1", Source: "app.py", Status: "done"}); err != nil {
		t.Fatalf("log run: %v", err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	runs, err := d.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs after reset, got %d", len(runs))
	}
}

func TestLogRun_GetRun(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	in := Run{
		ID: "run-1", Source: "app.py", Status: "failed", Iterations: 1, MaxIterations: 1,
		IssuesFixed: 1, IssuesRemaining: 2, Changed: true, SyntaxValid: true,
		Flagged: "weak-hash", DurationMs: 12, CreatedAt: "2026-10-01T10:00:00Z",
	}
	if err := d.LogRun(ctx, in); err != nil {
		t.Fatalf("log run: %v", err)
	}

	got, err := d.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if *got != in {
		t.Errorf("GetRun() = %+v, want %+v", *got, in)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	d := testDB(t)
	_, err := d.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestLogRun_DefaultsCreatedAt(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	if err := d.LogRun(ctx, Run{ID: "r", Source: "api", Status: "done"}); err != nil {
		t.Fatalf("log run: %v", err)
	}
	got, err := d.GetRun(ctx, "r")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if _, err := time.Parse(time.RFC3339, got.CreatedAt); err != nil {
		t.Errorf("created_at %q is not RFC 3339: %v", got.CreatedAt, err)
	}
}

func TestListRuns_NewestFirstWithLimit(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	for i, ts := range []string{"2026-10-01T10:00:00Z", "2026-10-03T10:00:00Z", "2026-10-02T10:00:00Z"} {
		id := []string{"a", "b", "c"}[i]
		if err := d.LogRun(ctx, Run{ID: id, Source: "x.py", Status: "done", CreatedAt: ts}); err != nil {
			t.Fatalf("log run %s: %v", id, err)
		}
	}

	runs, err := d.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "b" || runs[1].ID != "c" {
		t.Errorf("expected [b c], got [%s %s]", runs[0].ID, runs[1].ID)
	}
}

func TestLogIteration_RunIterations(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	if err := d.LogRun(ctx, Run{ID: "r1", Source: "app.py", Status: "done"}); err != nil {
		t.Fatalf("log run: %v", err)
	}
	for _, it := range []Iteration{
		{RunID: "r1", Iteration: 2, Severity: "Low", Description: "second", Strategy: "none"},
		{RunID: "r1", Iteration: 1, Severity: "High", Description: "first", Strategy: "rule:sql-injection", Changed: true, SyntaxValid: true, Passed: true},
	} {
		if err := d.LogIteration(ctx, it); err != nil {
			t.Fatalf("log iteration: %v", err)
		}
	}

	its, err := d.RunIterations(ctx, "r1")
	if err != nil {
		t.Fatalf("run iterations: %v", err)
	}
	if len(its) != 2 {
		t.Fatalf("expected 2 iterations, got %d", len(its))
	}
	if its[0].Description != "first" || its[0].Strategy != "rule:sql-injection" || !its[0].Changed {
		t.Errorf("unexpected first iteration: %+v", its[0])
	}
	if its[1].Iteration != 2 {
		t.Errorf("expected ordering by iteration, got %+v", its[1])
	}
}

func TestLogIteration_RequiresRun(t *testing.T) {
	d := testDB(t)
	err := d.LogIteration(context.Background(), Iteration{RunID: "ghost", Iteration: 1, Strategy: "none"})
	if err == nil {
		t.Fatal("expected foreign key error for unknown run")
	}
}

func TestLogResult(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	if err := d.LogResult(ctx, "run-42", "app.py", sampleResult(), 1500*time.Millisecond); err != nil {
		t.Fatalf("log result: %v", err)
	}

	run, err := d.GetRun(ctx, "run-42")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != "done" || run.IssuesFixed != 2 || !run.Changed || run.DurationMs != 1500 {
		t.Errorf("unexpected run: %+v", run)
	}

	its, err := d.RunIterations(ctx, "run-42")
	if err != nil {
		t.Fatalf("run iterations: %v", err)
	}
	if len(its) != 2 {
		t.Fatalf("expected 2 iterations, got %d", len(its))
	}
	if its[0].Strategy != "rule:weak-crypto" || its[0].Severity != "High" {
		t.Errorf("unexpected iteration 1: %+v", its[0])
	}
	if its[1].Error != "llm: no API credentials configured" {
		t.Errorf("fallback error not recorded: %+v", its[1])
	}
}

func TestDeleteRun(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	if err := d.LogResult(ctx, "r", "app.py", sampleResult(), 0); err != nil {
		t.Fatalf("log result: %v", err)
	}
	if err := d.DeleteRun(ctx, "r"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	its, err := d.RunIterations(ctx, "r")
	if err != nil {
		t.Fatalf("run iterations: %v", err)
	}
	if len(its) != 0 {
		t.Errorf("expected iterations deleted, got %d", len(its))
	}
	if err := d.DeleteRun(ctx, "r"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound on second delete, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	pg := New(nil, DialectPostgres)
	got := pg.rebind("SELECT * FROM fix_runs WHERE id = ? AND status = ? LIMIT ?")
	want := "SELECT * FROM fix_runs WHERE id = $1 AND status = $2 LIMIT $3"
	if got != want {
		t.Errorf("rebind() = %q, want %q", got, want)
	}

	lite := New(nil, DialectSQLite)
	if q := "WHERE id = ?"; lite.rebind(q) != q {
		t.Errorf("sqlite queries must not be rebound")
	}
}

func TestPostgres_LogRunUsesNumberedPlaceholders(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	d := New(conn, DialectPostgres)
	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)")).
		WithArgs("run-1", "app.py", "done", 1, 10, 1, 0, true, true, "", 0, "2026-10-01T10:00:00Z").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = d.LogRun(context.Background(), Run{
		ID: "run-1", Source: "app.py", Status: "done", Iterations: 1, MaxIterations: 10,
		IssuesFixed: 1, Changed: true, SyntaxValid: true, CreatedAt: "2026-10-01T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("LogRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPostgres_GetRun(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	d := New(conn, DialectPostgres)
	rows := sqlmock.NewRows([]string{"id", "source", "status", "iterations", "max_iterations", "issues_fixed",
		"issues_remaining", "changed", "syntax_valid", "flagged", "duration_ms", "created_at"}).
		AddRow("run-1", "api", "failed", 1, 1, 1, 2, true, true, nil, 40, "2026-10-01T10:00:00Z")
	mock.ExpectQuery(regexp.QuoteMeta("FROM fix_runs WHERE id = $1")).
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := d.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != "failed" || run.IssuesRemaining != 2 || run.Flagged != "" || run.DurationMs != 40 {
		t.Errorf("unexpected run: %+v", run)
	}

	mock.ExpectQuery(regexp.QuoteMeta("FROM fix_runs WHERE id = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := d.GetRun(context.Background(), "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPostgres_LogResultRollsBackOnError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	d := New(conn, DialectPostgres)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fix_runs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO fix_iterations").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = d.LogResult(context.Background(), "r", "app.py", sampleResult(), 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
