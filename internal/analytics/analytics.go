// Package analytics aggregates recorded fix runs: outcome rates, strategy
// effectiveness, iteration and duration distributions.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
)

// DB is the interface for database queries used by analytics.
// *db.DB implements it.
type DB interface {
	Conn() *sql.DB
	Rebind(query string) string
}

// Summary holds overall run outcomes.
type Summary struct {
	Runs            int     `json:"runs"`
	Done            int     `json:"done"`
	Failed          int     `json:"failed"`
	DonePct         float64 `json:"done_pct"`
	Changed         int     `json:"changed"`
	AvgIterations   float64 `json:"avg_iterations"`
	IssuesFixed     int     `json:"issues_fixed"`
	IssuesRemaining int     `json:"issues_remaining"`
}

// sinceFilter appends a created_at filter. since is an RFC3339 timestamp or a
// date prefix such as 2024-06-01; created_at is stored as RFC3339 text, so
// the comparison is lexical.
func sinceFilter(query, column, since string, args []interface{}) (string, []interface{}) {
	if since == "" {
		return query, args
	}
	return query + ` AND ` + column + ` >= ?`, append(args, since)
}

// QuerySummary returns overall outcome counts.
func QuerySummary(database DB, since string) (Summary, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN changed THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(iterations), 0),
			COALESCE(SUM(issues_fixed), 0),
			COALESCE(SUM(issues_remaining), 0)
		FROM fix_runs
		WHERE 1 = 1`
	query, args := sinceFilter(query, "created_at", since, nil)

	var s Summary
	var iterations int
	err := database.Conn().QueryRow(database.Rebind(query), args...).Scan(
		&s.Runs, &s.Done, &s.Failed, &s.Changed, &iterations, &s.IssuesFixed, &s.IssuesRemaining)
	if err != nil {
		return Summary{}, fmt.Errorf("query summary: %w", err)
	}
	s.DonePct = pct(s.Done, s.Runs)
	if s.Runs > 0 {
		s.AvgIterations = math.Round(float64(iterations)/float64(s.Runs)*10) / 10
	}
	return s, nil
}

// RunDuration holds wall-clock stats for runs ending in one status.
type RunDuration struct {
	Status string  `json:"status"`
	Count  int     `json:"count"`
	AvgMs  float64 `json:"avg_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
}

// QueryRunDurations returns average and percentile durations per final status.
func QueryRunDurations(database DB, since string) ([]RunDuration, error) {
	query := `SELECT status, duration_ms FROM fix_runs WHERE duration_ms IS NOT NULL`
	query, args := sinceFilter(query, "created_at", since, nil)

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query run durations: %w", err)
	}
	defer rows.Close()

	byStatus := make(map[string][]float64)
	for rows.Next() {
		var status string
		var ms int
		if err := rows.Scan(&status, &ms); err != nil {
			return nil, fmt.Errorf("scan run duration: %w", err)
		}
		byStatus[status] = append(byStatus[status], float64(ms))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []RunDuration
	for status, durations := range byStatus {
		sort.Float64s(durations)
		results = append(results, RunDuration{
			Status: status,
			Count:  len(durations),
			AvgMs:  avg(durations),
			P50Ms:  percentile(durations, 50),
			P95Ms:  percentile(durations, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Status < results[j].Status
	})
	return results, nil
}

// StrategyRate holds how iterations handled by one strategy turned out.
type StrategyRate struct {
	Strategy   string  `json:"strategy"`
	Total      int     `json:"total"`
	Changed    float64 `json:"changed_pct"`
	Passed     float64 `json:"passed_pct"`
	RolledBack float64 `json:"rolled_back_pct"`
}

// QueryStrategyRates returns per-strategy change, pass and rollback rates,
// busiest strategy first.
func QueryStrategyRates(database DB, since string) ([]StrategyRate, error) {
	query := `
		SELECT i.strategy,
			COUNT(*) as total,
			SUM(CASE WHEN i.changed THEN 1 ELSE 0 END),
			SUM(CASE WHEN i.passed THEN 1 ELSE 0 END),
			SUM(CASE WHEN i.rolled_back THEN 1 ELSE 0 END)
		FROM fix_iterations i
		JOIN fix_runs r ON r.id = i.run_id
		WHERE 1 = 1`
	query, args := sinceFilter(query, "r.created_at", since, nil)
	query += ` GROUP BY i.strategy ORDER BY total DESC, i.strategy ASC`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query strategy rates: %w", err)
	}
	defer rows.Close()

	var results []StrategyRate
	for rows.Next() {
		var strategy string
		var total, changed, passed, rolledBack int
		if err := rows.Scan(&strategy, &total, &changed, &passed, &rolledBack); err != nil {
			return nil, fmt.Errorf("scan strategy rate: %w", err)
		}
		results = append(results, StrategyRate{
			Strategy:   strategy,
			Total:      total,
			Changed:    pct(changed, total),
			Passed:     pct(passed, total),
			RolledBack: pct(rolledBack, total),
		})
	}
	return results, rows.Err()
}

// IterationDist is the distribution of iterations used per run.
type IterationDist struct {
	Total     int     `json:"total"`
	Zero      float64 `json:"zero_pct"`
	One       float64 `json:"one_pct"`
	Two       float64 `json:"two_pct"`
	ThreePlus float64 `json:"three_plus_pct"`
	Exhausted float64 `json:"exhausted_pct"`
}

// QueryIterationDist returns how many iterations runs needed. Exhausted
// counts runs that ended failed with the budget spent.
func QueryIterationDist(database DB, since string) (IterationDist, error) {
	query := `SELECT iterations, status FROM fix_runs WHERE 1 = 1`
	query, args := sinceFilter(query, "created_at", since, nil)

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return IterationDist{}, fmt.Errorf("query iterations: %w", err)
	}
	defer rows.Close()

	var zero, one, two, threePlus, exhausted, total int
	for rows.Next() {
		var iterations int
		var status string
		if err := rows.Scan(&iterations, &status); err != nil {
			return IterationDist{}, fmt.Errorf("scan iterations: %w", err)
		}
		total++
		switch {
		case iterations == 0:
			zero++
		case iterations == 1:
			one++
		case iterations == 2:
			two++
		default:
			threePlus++
		}
		if status == "failed" {
			exhausted++
		}
	}
	if err := rows.Err(); err != nil {
		return IterationDist{}, err
	}

	return IterationDist{
		Total:     total,
		Zero:      pct(zero, total),
		One:       pct(one, total),
		Two:       pct(two, total),
		ThreePlus: pct(threePlus, total),
		Exhausted: pct(exhausted, total),
	}, nil
}

// Throughput holds run counts for one day.
type Throughput struct {
	Period        string  `json:"period"`
	Runs          int     `json:"runs"`
	Done          int     `json:"done"`
	Failed        int     `json:"failed"`
	AvgIterations float64 `json:"avg_iterations"`
}

// QueryThroughput returns run counts grouped by day, most recent ten days
// first.
func QueryThroughput(database DB, since string) ([]Throughput, error) {
	query := `
		SELECT substr(created_at, 1, 10) as period,
			COUNT(*),
			SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			SUM(iterations)
		FROM fix_runs
		WHERE 1 = 1`
	query, args := sinceFilter(query, "created_at", since, nil)
	query += ` GROUP BY period ORDER BY period DESC LIMIT 10`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query throughput: %w", err)
	}
	defer rows.Close()

	var results []Throughput
	for rows.Next() {
		var t Throughput
		var iterations int
		if err := rows.Scan(&t.Period, &t.Runs, &t.Done, &t.Failed, &iterations); err != nil {
			return nil, fmt.Errorf("scan throughput: %w", err)
		}
		if t.Runs > 0 {
			t.AvgIterations = math.Round(float64(iterations)/float64(t.Runs)*10) / 10
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// CommonIssue holds how often an issue description was worked on.
type CommonIssue struct {
	Description string  `json:"description"`
	Severity    string  `json:"severity"`
	Count       int     `json:"count"`
	Passed      float64 `json:"passed_pct"`
	Strategies  string  `json:"strategies"`
}

// QueryCommonIssues returns the most frequent issue descriptions with the
// strategies that handled them, most frequent first.
func QueryCommonIssues(database DB, since string, limit int) ([]CommonIssue, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT COALESCE(i.description, ''), COALESCE(i.severity, ''), i.strategy, i.passed
		FROM fix_iterations i
		JOIN fix_runs r ON r.id = i.run_id
		WHERE 1 = 1`
	query, args := sinceFilter(query, "r.created_at", since, nil)

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query common issues: %w", err)
	}
	defer rows.Close()

	type issueInfo struct {
		severity   string
		count      int
		passed     int
		strategies map[string]int
	}
	byDesc := make(map[string]*issueInfo)
	for rows.Next() {
		var desc, severity, strategy string
		var passed bool
		if err := rows.Scan(&desc, &severity, &strategy, &passed); err != nil {
			return nil, fmt.Errorf("scan common issue: %w", err)
		}
		info, ok := byDesc[desc]
		if !ok {
			info = &issueInfo{severity: severity, strategies: make(map[string]int)}
			byDesc[desc] = info
		}
		info.count++
		if passed {
			info.passed++
		}
		info.strategies[strategy]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]CommonIssue, 0, len(byDesc))
	for desc, info := range byDesc {
		results = append(results, CommonIssue{
			Description: desc,
			Severity:    info.severity,
			Count:       info.count,
			Passed:      pct(info.passed, info.count),
			Strategies:  topKeys(info.strategies),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Description < results[j].Description
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Report bundles every aggregate.
type Report struct {
	Summary      Summary        `json:"summary"`
	Durations    []RunDuration  `json:"durations"`
	Strategies   []StrategyRate `json:"strategies"`
	Iterations   IterationDist  `json:"iterations"`
	Throughput   []Throughput   `json:"throughput"`
	CommonIssues []CommonIssue  `json:"common_issues"`
}

// QueryReport runs every aggregate query.
func QueryReport(database DB, since string) (*Report, error) {
	var r Report
	var err error
	if r.Summary, err = QuerySummary(database, since); err != nil {
		return nil, err
	}
	if r.Durations, err = QueryRunDurations(database, since); err != nil {
		return nil, err
	}
	if r.Strategies, err = QueryStrategyRates(database, since); err != nil {
		return nil, err
	}
	if r.Iterations, err = QueryIterationDist(database, since); err != nil {
		return nil, err
	}
	if r.Throughput, err = QueryThroughput(database, since); err != nil {
		return nil, err
	}
	if r.CommonIssues, err = QueryCommonIssues(database, since, 10); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- helpers ---

// topKeys renders "a (3), b (1)" ordered by count.
func topKeys(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s (%d)", k, counts[k])
	}
	return strings.Join(parts, ", ")
}

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
