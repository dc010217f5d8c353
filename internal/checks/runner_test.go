package checks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockCmd records calls and returns configured results.
type mockCmd struct {
	calls   []mockCall
	results []mockResult
	callIdx int
	// onRun, when set, runs before each call (e.g. to rewrite the target file).
	onRun func(command string)
}

type mockCall struct {
	Dir     string
	Command string
}

type mockResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (m *mockCmd) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	m.calls = append(m.calls, mockCall{Dir: dir, Command: command})
	if m.onRun != nil {
		m.onRun(command)
	}
	if m.callIdx >= len(m.results) {
		return "", "", 0, nil
	}
	r := m.results[m.callIdx]
	m.callIdx++
	return r.Stdout, r.Stderr, r.ExitCode, r.Err
}

func TestRunner_Run_HappyPath(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Stdout: "", ExitCode: 0},
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:    "flake8",
		Command: "flake8 app.py",
		Parser:  "flake8",
		Timeout: 30 * time.Second,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Errorf("expected passed=true, got false")
	}
	if result.CheckName != "flake8" {
		t.Errorf("expected check_name=flake8, got %q", result.CheckName)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(mock.calls))
	}
	if mock.calls[0].Dir != "/tmp/test" {
		t.Errorf("expected dir=/tmp/test, got %q", mock.calls[0].Dir)
	}
	if mock.calls[0].Command != "flake8 app.py" {
		t.Errorf("expected command=flake8 app.py, got %q", mock.calls[0].Command)
	}
}

func TestRunner_Run_FailedCheck(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Stdout: "app.py:1:1: F401 'os' imported but unused\n", ExitCode: 1},
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:    "flake8",
		Command: "flake8 app.py",
		Parser:  "flake8",
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed {
		t.Errorf("expected passed=false, got true")
	}
	if result.ExitCode != 1 {
		t.Errorf("expected exit_code=1, got %d", result.ExitCode)
	}
	if len(result.Findings) != 1 || result.Findings[0].Code != "F401" {
		t.Errorf("expected one F401 finding, got %+v", result.Findings)
	}
}

func TestRunner_Run_AutoFix(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Stdout: "app.py:3:80: E501 line too long (95 > 79 characters)\n", ExitCode: 1}, // initial run
			{Stdout: "reformatted app.py", ExitCode: 0},                                     // fix command
			{Stdout: "", ExitCode: 0},                                                       // re-run
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:       "flake8",
		Command:    "flake8 app.py",
		Parser:     "flake8",
		AutoFix:    true,
		FixCommand: "autopep8 -i app.py",
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Errorf("expected passed=true after fix, got false")
	}
	if !result.AutoFixed {
		t.Errorf("expected auto_fixed=true")
	}
	if len(mock.calls) != 3 {
		t.Fatalf("expected 3 calls (run, fix, re-run), got %d", len(mock.calls))
	}
	if mock.calls[1].Command != "autopep8 -i app.py" {
		t.Errorf("expected fix command, got %q", mock.calls[1].Command)
	}
}

func TestRunner_Run_AutoFixStillFails(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{ExitCode: 1}, // initial run
			{ExitCode: 0}, // fix command
			{ExitCode: 1}, // re-run still fails
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:       "lint",
		Command:    "pycodestyle app.py",
		Parser:     "generic",
		AutoFix:    true,
		FixCommand: "autopep8 -i app.py",
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed {
		t.Errorf("expected passed=false even after fix attempt")
	}
	if !result.AutoFixed {
		t.Errorf("expected auto_fixed=true (fix was attempted)")
	}
}

func TestRunner_Run_NoAutoFixWhenPassing(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{ExitCode: 0}}}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:       "lint",
		Command:    "pycodestyle app.py",
		Parser:     "generic",
		AutoFix:    true,
		FixCommand: "autopep8 -i app.py",
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Errorf("expected passed=true")
	}
	if len(mock.calls) != 1 {
		t.Errorf("expected 1 call (no fix needed), got %d", len(mock.calls))
	}
}

func TestRunner_Run_UnknownParserFallsToGeneric(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stdout: "output", ExitCode: 0}}}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:    "custom",
		Command: "custom-check",
		Parser:  "unknown-parser",
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Errorf("expected passed=true")
	}
	if result.Summary != "passed (exit code 0)" {
		t.Errorf("expected generic summary, got %q", result.Summary)
	}
}

func TestRunner_Run_CommandError(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Err: fmt.Errorf("fork failed")}}}
	runner := NewRunner(mock)

	_, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:    "lint",
		Command: "flake8 app.py",
		Parser:  "flake8",
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// slowCmd blocks until its context ends.
type slowCmd struct{}

func (slowCmd) Run(ctx context.Context, dir, command string) (string, string, int, error) {
	<-ctx.Done()
	return "", "", -1, ctx.Err()
}

func TestRunner_Run_Timeout(t *testing.T) {
	runner := NewRunner(slowCmd{})

	result, err := runner.Run(context.Background(), "/tmp", CheckConfig{
		Name:    "bandit",
		Command: "bandit app.py",
		Parser:  "bandit",
		Timeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed || result.ExitCode != -1 {
		t.Errorf("expected failed timeout result, got %+v", result)
	}
	if !strings.HasPrefix(result.Summary, "timeout after") {
		t.Errorf("unexpected summary: %q", result.Summary)
	}
}

func TestRunner_Run_CancelledParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(slowCmd{}).Run(ctx, "/tmp", CheckConfig{Name: "bandit", Command: "bandit app.py", Timeout: time.Minute})
	if err == nil {
		t.Fatal("expected error when the caller cancels")
	}
}

func TestExpand(t *testing.T) {
	got := Expand("flake8 {{file}} && bandit -q {{file}}", "/tmp/it's here/app.py")
	want := `flake8 '/tmp/it'\''s here/app.py' && bandit -q '/tmp/it'\''s here/app.py'`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if Expand("flake8 .", "/x.py") != "flake8 ." {
		t.Error("commands without the placeholder are unchanged")
	}
}

func TestRunner_RunFile(t *testing.T) {
	mock := &mockCmd{}
	runner := NewRunner(mock)

	if _, err := runner.RunFile(context.Background(), "/work/src/app.py", CheckConfig{Name: "flake8", Command: "flake8 {{file}}", Parser: "flake8"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.calls[0].Dir != "/work/src" {
		t.Errorf("expected dir=/work/src, got %q", mock.calls[0].Dir)
	}
	if mock.calls[0].Command != "flake8 '/work/src/app.py'" {
		t.Errorf("unexpected command %q", mock.calls[0].Command)
	}
}

func TestRunner_CheckCode(t *testing.T) {
	var snippet string
	mock := &mockCmd{}
	mock.onRun = func(command string) {
		// The command gets the quoted temp path; the fixer rewrites the file.
		start := strings.Index(command, "'")
		end := strings.LastIndex(command, "'")
		snippet = command[start+1 : end]
		if strings.HasPrefix(command, "autopep8") {
			_ = os.WriteFile(snippet, []byte("x = 1\n"), 0o644)
		}
	}
	mock.results = []mockResult{
		{Stdout: "PLACEHOLDER", ExitCode: 1}, // flake8 before fix
		{ExitCode: 0},                        // autopep8
		{Stdout: "", ExitCode: 0},            // flake8 after fix
	}
	runner := NewRunner(mock)

	run, err := runner.CheckCode(context.Background(), "x=1\n", GateOpts{Checks: []GateCheckConfig{
		{Name: "flake8", Command: "flake8 {{file}}", Parser: "flake8", AutoFix: true, FixCommand: "autopep8 -i {{file}}"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(snippet) != "snippet.py" {
		t.Errorf("expected snippet.py target, got %q", snippet)
	}
	if run.Code != "x = 1\n" {
		t.Errorf("expected auto-fixed code, got %q", run.Code)
	}
	if !run.Gate.Passed || !run.Results[0].AutoFixed {
		t.Errorf("expected passing auto-fixed gate, got %+v", run.Gate)
	}
	if _, err := os.Stat(snippet); !os.IsNotExist(err) {
		t.Errorf("temp snippet should be removed, stat err = %v", err)
	}
}

func TestRunner_CheckCode_RelabelsFindings(t *testing.T) {
	mock := &mockCmd{}
	mock.onRun = func(command string) {
		path := command[strings.Index(command, "'")+1 : strings.LastIndex(command, "'")]
		mock.results = []mockResult{{Stdout: path + ":2:1: F821 undefined name 'y'\n", ExitCode: 1}}
		mock.callIdx = 0
	}
	run, err := NewRunner(mock).CheckCode(context.Background(), "x = 1\nprint(y)\n", GateOpts{Checks: []GateCheckConfig{
		{Name: "flake8", Command: "flake8 {{file}}", Parser: "flake8"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := run.Results[0].Findings
	if len(f) != 1 || f[0].File != "snippet.py" || f[0].Line != 2 {
		t.Errorf("unexpected findings %+v", f)
	}
}
