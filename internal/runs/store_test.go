package runs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/lucasnoah/fixloop/internal/issue"
	"github.com/lucasnoah/fixloop/internal/validate"
	"github.com/lucasnoah/fixloop/internal/workflow"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func sampleResult() workflow.Result {
	return workflow.Result{
		OriginalCode:    "h = hashlib.md5(b'x')\n",
		FixedCode:       "h = hashlib.sha256(b'x')\n",
		Iterations:      1,
		MaxIterations:   10,
		IssuesFixed:     1,
		IssuesRemaining: 0,
		Status:          workflow.StatusDone,
		HandledIssues:   []issue.Issue{{Severity: issue.SeverityHigh, Description: "Weak MD5 hash"}},
		LastTestReport:  validate.TestReport{SyntaxValid: true, FlaggedPatterns: []string{}, Passed: true},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Save("src/app.py", sampleResult())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("ID should not be empty")
	}
	if rec.CreatedAt == "" {
		t.Error("CreatedAt should not be empty")
	}

	for _, name := range []string{OriginalFile, FixedFile, ResultFile, DiffFile} {
		if _, err := os.Stat(filepath.Join(s.Dir(rec.ID), name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}

	fixed, err := os.ReadFile(filepath.Join(s.Dir(rec.ID), FixedFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(fixed) != "h = hashlib.sha256(b'x')\n" {
		t.Errorf("fixed.py = %q", fixed)
	}

	got, err := s.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Source != "src/app.py" {
		t.Errorf("Source = %q", got.Source)
	}
	if got.Result.Status != workflow.StatusDone || got.Result.IssuesFixed != 1 {
		t.Errorf("Result = %+v", got.Result)
	}
	if got.Result.HandledIssues[0].Severity != issue.SeverityHigh {
		t.Errorf("severity lost in round trip: %+v", got.Result.HandledIssues)
	}
}

func TestDiff(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Save("app.py", sampleResult())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	d, err := s.Diff(rec.ID)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if !strings.Contains(d, "--- a/app.py") || !strings.Contains(d, "+h = hashlib.sha256(b'x')") {
		t.Errorf("unexpected diff:\n%s", d)
	}
}

func TestSave_UnchangedHasEmptyDiff(t *testing.T) {
	s := newTestStore(t)
	res := sampleResult()
	res.FixedCode = res.OriginalCode

	rec, err := s.Save("", res)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	d, err := s.Diff(rec.ID)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if d != "" {
		t.Errorf("expected empty diff, got %q", d)
	}
}

func TestSaveWithID_RejectsDuplicatesAndBadIDs(t *testing.T) {
	s := newTestStore(t)
	id := NewID()
	if _, err := s.SaveWithID(id, "a.py", sampleResult()); err != nil {
		t.Fatalf("SaveWithID: %v", err)
	}
	if _, err := s.SaveWithID(id, "a.py", sampleResult()); err == nil {
		t.Error("expected error for duplicate id")
	}
	if _, err := s.SaveWithID("../escape", "a.py", sampleResult()); err == nil {
		t.Error("expected error for non-uuid id")
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{NewID(), "not-a-uuid", "../../etc"} {
		if _, err := s.Get(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q) = %v, want ErrNotFound", id, err)
		}
	}
}

func TestList_NewestFirst(t *testing.T) {
	s := newTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := s.Save("app.py", sampleResult())
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		ids = append(ids, rec.ID)
	}
	// Incomplete runs and stray files are skipped.
	if err := os.MkdirAll(filepath.Join(s.BaseDir(), NewID()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.BaseDir(), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List returned %d runs, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].CreatedAt < list[i].CreatedAt {
			t.Errorf("list not sorted newest first: %s before %s", list[i-1].CreatedAt, list[i].CreatedAt)
		}
	}
}

func TestList_MissingBaseDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope"))
	list, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty list, got %d", len(list))
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Save("app.py", sampleResult())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestConcurrentSaves(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Save("app.py", sampleResult()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Save: %v", err)
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 10 {
		t.Errorf("List returned %d runs, want 10", len(list))
	}
}

func TestWriteAtomic_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "file.txt")
	if err := WriteAtomic(path, []byte("hello")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "file.txt" {
		t.Errorf("unexpected entries: %v", entries)
	}
}
