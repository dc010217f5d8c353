package analytics

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/lucasnoah/fixloop/internal/db"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(db.DialectSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func logRun(t *testing.T, d *db.DB, r db.Run, its ...db.Iteration) {
	t.Helper()
	ctx := context.Background()
	if r.Source == "" {
		r.Source = "app.py"
	}
	if r.MaxIterations == 0 {
		r.MaxIterations = 10
	}
	if err := d.LogRun(ctx, r); err != nil {
		t.Fatalf("LogRun: %v", err)
	}
	for _, it := range its {
		it.RunID = r.ID
		if err := d.LogIteration(ctx, it); err != nil {
			t.Fatalf("LogIteration: %v", err)
		}
	}
}

// seed records three runs: two done on June 1, one failed on June 2.
func seed(t *testing.T, d *db.DB) {
	t.Helper()
	logRun(t, d, db.Run{ID: "r1", Status: "done", Iterations: 1, IssuesFixed: 1, Changed: true, DurationMs: 100, CreatedAt: "2024-06-01T10:00:00Z"},
		db.Iteration{Iteration: 1, Severity: "High", Description: "Weak MD5 hash", Strategy: "rule:weak-crypto", Changed: true, Passed: true},
	)
	logRun(t, d, db.Run{ID: "r2", Status: "done", Iterations: 2, IssuesFixed: 2, Changed: true, DurationMs: 300, CreatedAt: "2024-06-01T11:00:00Z"},
		db.Iteration{Iteration: 1, Severity: "High", Description: "Weak MD5 hash", Strategy: "rule:weak-crypto", Changed: true, Passed: false},
		db.Iteration{Iteration: 2, Severity: "Low", Description: "Variable name too short", Strategy: "llm", Changed: true, Passed: true},
	)
	logRun(t, d, db.Run{ID: "r3", Status: "failed", Iterations: 3, IssuesFixed: 3, IssuesRemaining: 2, DurationMs: 900, CreatedAt: "2024-06-02T09:00:00Z"},
		db.Iteration{Iteration: 1, Severity: "Critical", Description: "SQL injection", Strategy: "rule:sql-injection", Changed: true, RolledBack: true},
		db.Iteration{Iteration: 2, Severity: "High", Description: "Weak MD5 hash", Strategy: "none"},
		db.Iteration{Iteration: 3, Severity: "Low", Description: "Variable name too short", Strategy: "none"},
	)
}

func TestQuerySummary(t *testing.T) {
	d := testDB(t)
	seed(t, d)

	s, err := QuerySummary(d, "")
	if err != nil {
		t.Fatalf("QuerySummary: %v", err)
	}
	want := Summary{Runs: 3, Done: 2, Failed: 1, DonePct: 66.7, Changed: 2, AvgIterations: 2, IssuesFixed: 6, IssuesRemaining: 2}
	if s != want {
		t.Errorf("summary = %+v, want %+v", s, want)
	}
}

func TestQuerySummary_Empty(t *testing.T) {
	d := testDB(t)
	s, err := QuerySummary(d, "")
	if err != nil {
		t.Fatalf("QuerySummary: %v", err)
	}
	if s != (Summary{}) {
		t.Errorf("expected zero summary, got %+v", s)
	}
}

func TestQuerySummary_Since(t *testing.T) {
	d := testDB(t)
	seed(t, d)

	s, err := QuerySummary(d, "2024-06-02")
	if err != nil {
		t.Fatalf("QuerySummary: %v", err)
	}
	if s.Runs != 1 || s.Failed != 1 {
		t.Errorf("expected only the June 2 run, got %+v", s)
	}
}

func TestQueryRunDurations(t *testing.T) {
	d := testDB(t)
	seed(t, d)

	results, err := QueryRunDurations(d, "")
	if err != nil {
		t.Fatalf("QueryRunDurations: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(results))
	}
	done := results[0]
	if done.Status != "done" || done.Count != 2 || done.AvgMs != 200 || done.P50Ms != 200 {
		t.Errorf("done durations = %+v", done)
	}
	if results[1].Status != "failed" || results[1].P95Ms != 900 {
		t.Errorf("failed durations = %+v", results[1])
	}
}

func TestQueryStrategyRates(t *testing.T) {
	d := testDB(t)
	seed(t, d)

	results, err := QueryStrategyRates(d, "")
	if err != nil {
		t.Fatalf("QueryStrategyRates: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 strategies, got %d: %+v", len(results), results)
	}
	// none and rule:weak-crypto both have 2; ties break by name
	if results[0].Strategy != "none" || results[0].Total != 2 || results[0].Changed != 0 {
		t.Errorf("results[0] = %+v", results[0])
	}
	wc := results[1]
	if wc.Strategy != "rule:weak-crypto" || wc.Total != 2 || wc.Changed != 100 || wc.Passed != 50 {
		t.Errorf("weak-crypto = %+v", wc)
	}
	var sql StrategyRate
	for _, r := range results {
		if r.Strategy == "rule:sql-injection" {
			sql = r
		}
	}
	if sql.RolledBack != 100 {
		t.Errorf("sql-injection rolled back = %v, want 100", sql.RolledBack)
	}
}

func TestQueryIterationDist(t *testing.T) {
	d := testDB(t)
	seed(t, d)
	logRun(t, d, db.Run{ID: "r4", Status: "done", CreatedAt: "2024-06-02T10:00:00Z"})

	dist, err := QueryIterationDist(d, "")
	if err != nil {
		t.Fatalf("QueryIterationDist: %v", err)
	}
	want := IterationDist{Total: 4, Zero: 25, One: 25, Two: 25, ThreePlus: 25, Exhausted: 25}
	if dist != want {
		t.Errorf("dist = %+v, want %+v", dist, want)
	}
}

func TestQueryThroughput(t *testing.T) {
	d := testDB(t)
	seed(t, d)

	results, err := QueryThroughput(d, "")
	if err != nil {
		t.Fatalf("QueryThroughput: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 days, got %d", len(results))
	}
	if results[0].Period != "2024-06-02" || results[0].Failed != 1 || results[0].AvgIterations != 3 {
		t.Errorf("june 2 = %+v", results[0])
	}
	if results[1].Period != "2024-06-01" || results[1].Runs != 2 || results[1].Done != 2 || results[1].AvgIterations != 1.5 {
		t.Errorf("june 1 = %+v", results[1])
	}
}

func TestQueryCommonIssues(t *testing.T) {
	d := testDB(t)
	seed(t, d)

	results, err := QueryCommonIssues(d, "", 2)
	if err != nil {
		t.Fatalf("QueryCommonIssues: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(results))
	}
	top := results[0]
	if top.Description != "Weak MD5 hash" || top.Count != 3 || top.Severity != "High" {
		t.Errorf("top issue = %+v", top)
	}
	if top.Strategies != "rule:weak-crypto (2), none (1)" {
		t.Errorf("strategies = %q", top.Strategies)
	}
	if top.Passed != 33.3 {
		t.Errorf("passed = %v, want 33.3", top.Passed)
	}
	if results[1].Description != "Variable name too short" {
		t.Errorf("second issue = %+v", results[1])
	}
}

func TestQueryReport(t *testing.T) {
	d := testDB(t)
	seed(t, d)

	r, err := QueryReport(d, "")
	if err != nil {
		t.Fatalf("QueryReport: %v", err)
	}
	if r.Summary.Runs != 3 || len(r.Strategies) != 4 || len(r.Throughput) != 2 || len(r.CommonIssues) != 3 {
		t.Errorf("unexpected report: %+v", r)
	}
}

func TestQuerySummary_PostgresPlaceholders(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()
	d := db.New(conn, db.DialectPostgres)

	mock.ExpectQuery(regexp.QuoteMeta(`AND created_at >= $1`)).
		WithArgs("2024-06-01").
		WillReturnRows(sqlmock.NewRows([]string{"count", "done", "failed", "changed", "iterations", "fixed", "remaining"}).
			AddRow(4, 3, 1, 2, 6, 5, 1))

	s, err := QuerySummary(d, "2024-06-01")
	if err != nil {
		t.Fatalf("QuerySummary: %v", err)
	}
	if s.Runs != 4 || s.DonePct != 75 || s.AvgIterations != 1.5 {
		t.Errorf("summary = %+v", s)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{10, 20, 30, 40}
	if got := percentile(values, 50); got != 25 {
		t.Errorf("p50 = %v, want 25", got)
	}
	if got := percentile(values, 95); got != 38.5 {
		t.Errorf("p95 = %v, want 38.5", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("empty p50 = %v", got)
	}
}
