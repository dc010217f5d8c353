package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lucasnoah/fixloop/internal/rules"
	"github.com/lucasnoah/fixloop/internal/workflow"
)

// resetFlags restores every flag to its default so state from one
// invocation does not leak into the next.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func executeCommand(args ...string) (string, error) {
	stdout, stderr, err := executeCommandSplit(args...)
	return stdout + stderr, err
}

func executeCommandSplit(args ...string) (string, string, error) {
	resetFlags(rootCmd)
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

// isolate points HOME and the working directory at temp dirs and disables
// the language-model provider.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FIXLOOP_LLM_PROVIDER", "none")
	t.Setenv("FIXLOOP_LLM_MODEL", "")
	t.Setenv("FIXLOOP_DATABASE_URL", "")
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const md5Code = "import hashlib\nh = hashlib.md5(b'x')\n"

const md5Issues = `- severity: high
  description: Weak MD5 hash
  line: 2
`

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "fixloop version test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"fix", "fix-batch", "validate", "review", "check", "rules",
		"runs", "config", "db", "serve", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestSubcommandHelp(t *testing.T) {
	groups := map[string][]string{
		"runs":   {"list", "show", "delete", "stats"},
		"config": {"validate", "show", "init"},
		"db":     {"migrate", "reset"},
	}
	for parent, subs := range groups {
		for _, sub := range subs {
			out, err := executeCommand(parent, sub, "--help")
			if err != nil {
				t.Errorf("%s %s --help failed: %v", parent, sub, err)
			}
			if out == "" {
				t.Errorf("%s %s --help produced no output", parent, sub)
			}
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}

func TestFixCommand_JSONAndHistory(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, "app.py", md5Code)
	writeFile(t, dir, "issues.yaml", md5Issues)

	stdout, stderr, err := executeCommandSplit("fix", "app.py", "--issues", "issues.yaml", "-o", "json")
	if err != nil {
		t.Fatalf("fix failed: %v\nstderr: %s", err, stderr)
	}

	var res workflow.Result
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout)
	}
	if res.Status != workflow.StatusDone {
		t.Errorf("status = %q, want done", res.Status)
	}
	if !strings.Contains(res.FixedCode, "hashlib.sha256(b'x')") {
		t.Errorf("fixed code not rewritten:\n%s", res.FixedCode)
	}
	if strings.Contains(stderr, "not recorded") {
		t.Errorf("run was not recorded: %s", stderr)
	}

	// the file itself is untouched without --write
	data, _ := os.ReadFile(filepath.Join(dir, "app.py"))
	if string(data) != md5Code {
		t.Errorf("app.py modified without --write")
	}

	out, err := executeCommand("runs", "list")
	if err != nil {
		t.Fatalf("runs list failed: %v", err)
	}
	if !strings.Contains(out, "app.py") || !strings.Contains(out, "done") {
		t.Errorf("runs list missing the run:\n%s", out)
	}

	out, err = executeCommand("runs", "stats")
	if err != nil {
		t.Fatalf("runs stats failed: %v", err)
	}
	if !strings.Contains(out, "Runs: 1 (done 1, failed 0, 100.0% done)") || !strings.Contains(out, "rule:weak-crypto") {
		t.Errorf("unexpected stats output:\n%s", out)
	}
}

func TestFixCommand_WriteAndDiff(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "app.py", md5Code)
	writeFile(t, dir, "issues.yaml", md5Issues)

	out, err := executeCommand("fix", "app.py", "--issues", "issues.yaml", "--write", "--diff", "--no-history")
	if err != nil {
		t.Fatalf("fix failed: %v\n%s", err, out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hashlib.sha256") {
		t.Errorf("--write did not update the file:\n%s", data)
	}
	if !strings.Contains(out, "+h = hashlib.sha256(b'x')") {
		t.Errorf("diff missing from output:\n%s", out)
	}
}

func TestFixCommand_BudgetExhausted(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, "app.py", md5Code)
	writeFile(t, dir, "issues.yaml", md5Issues+`- severity: low
  description: Variable name is too short
`)

	_, _, err := executeCommandSplit("fix", "app.py", "--issues", "issues.yaml", "--max-iterations", "1", "--no-history", "-o", "yaml")
	if err == nil || !strings.Contains(err.Error(), "fix run failed") {
		t.Fatalf("expected fix run failed error, got %v", err)
	}
}

func TestFixCommand_BadOutputFormat(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, "app.py", md5Code)

	_, err := executeCommand("fix", "app.py", "-o", "xml")
	if err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestFixBatchCommand(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, "a.py", md5Code)
	writeFile(t, dir, "b.py", "import hashlib\nd = hashlib.md5(b'y').hexdigest()\n")
	writeFile(t, dir, "issues.yaml", md5Issues)

	stdout, stderr, err := executeCommandSplit("fix-batch", "a.py", "b.py", "--issues", "issues.yaml", "--concurrency", "2", "--no-history", "-o", "json")
	if err != nil {
		t.Fatalf("fix-batch failed: %v\n%s", err, stderr)
	}
	var results []workflow.JobResult
	if err := json.Unmarshal([]byte(stdout), &results); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout)
	}
	if len(results) != 2 || results[0].Name != "a.py" || results[1].Name != "b.py" {
		t.Fatalf("unexpected results: %+v", results)
	}
	for _, r := range results {
		if !strings.Contains(r.Result.FixedCode, "sha256") {
			t.Errorf("%s not fixed:\n%s", r.Name, r.Result.FixedCode)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, "ok.py", "x = 1\n")
	writeFile(t, dir, "bad.py", "result = eval(user_input)\n")

	if _, err := executeCommand("validate", "ok.py"); err != nil {
		t.Errorf("validate ok.py: %v", err)
	}
	out, err := executeCommand("validate", "bad.py", "-o", "json")
	if err == nil {
		t.Fatal("expected validation failure for eval")
	}
	if !strings.Contains(out, "eval/exec") {
		t.Errorf("expected eval/exec flag in output:\n%s", out)
	}
}

func TestRulesCommand(t *testing.T) {
	out, err := executeCommand("rules")
	if err != nil {
		t.Fatalf("rules failed: %v", err)
	}
	for _, r := range rules.All() {
		if !strings.Contains(out, r.Name) {
			t.Errorf("rules output missing %q", r.Name)
		}
	}
}

func TestReviewCommand_NoProvider(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, "app.py", md5Code)

	_, err := executeCommand("review", "app.py")
	if err == nil || !strings.Contains(err.Error(), "llm provider") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	dir := isolate(t)

	out, err := executeCommand("config", "init")
	if err != nil {
		t.Fatalf("config init failed: %v\n%s", err, out)
	}
	if _, err := os.Stat(filepath.Join(dir, "fixloop.yaml")); err != nil {
		t.Fatalf("fixloop.yaml not written: %v", err)
	}
	if !strings.Contains(out, "installed template") {
		t.Errorf("expected templates to be installed:\n%s", out)
	}

	if _, err := executeCommand("config", "init"); err == nil {
		t.Error("expected error when fixloop.yaml exists")
	}

	out, err = executeCommand("config", "validate")
	if err != nil {
		t.Fatalf("config validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration is valid.") {
		t.Errorf("unexpected validate output: %s", out)
	}

	out, err = executeCommand("config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, "# loaded from fixloop.yaml") || !strings.Contains(out, "max_iterations: 10") {
		t.Errorf("unexpected show output:\n%s", out)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, "bad.yaml", "fixer:\n  max_iterations: -1\nstorage:\n  driver: mysql\n")

	out, err := executeCommand("config", "validate", "--config", "bad.yaml")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(out, "storage.driver") {
		t.Errorf("expected storage.driver error:\n%s", out)
	}
}

func TestDBCommands(t *testing.T) {
	isolate(t)

	out, err := executeCommand("db", "migrate")
	if err != nil {
		t.Fatalf("db migrate failed: %v", err)
	}
	if !strings.Contains(out, "sqlite database is up to date") {
		t.Errorf("unexpected migrate output: %s", out)
	}

	if _, err := executeCommand("db", "reset"); err == nil {
		t.Error("expected db reset to require --yes")
	}
	if _, err := executeCommand("db", "reset", "--yes"); err != nil {
		t.Errorf("db reset --yes: %v", err)
	}
}

func TestRunsShow_NotFound(t *testing.T) {
	isolate(t)
	_, err := executeCommand("runs", "show", "00000000-0000-0000-0000-000000000000")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found, got %v", err)
	}
}
