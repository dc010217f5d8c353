// Package runs keeps the on-disk artifacts of fix runs: the original and
// fixed code, the full result and a unified diff.
package runs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/fixloop/internal/report"
	"github.com/lucasnoah/fixloop/internal/workflow"
)

// ErrNotFound is returned for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Artifact file names inside a run directory.
const (
	OriginalFile = "original.py"
	FixedFile    = "fixed.py"
	ResultFile   = "result.json"
	DiffFile     = "diff.patch"
)

// timeLayout is fixed-width so CreatedAt sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is the stored form of a run.
type Record struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	CreatedAt string          `json:"created_at"`
	Result    workflow.Result `json:"result"`
}

// Store manages run artifacts on disk.
type Store struct {
	baseDir string // defaults to ~/.fixloop/runs
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.fixloop/runs, creating the directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".fixloop", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Dir returns the directory holding run id's artifacts.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.baseDir, id)
}

// NewID returns a fresh run id.
func NewID() string {
	return uuid.NewString()
}

// Save writes a run's artifacts under a new id and returns the record.
func (s *Store) Save(source string, res workflow.Result) (*Record, error) {
	return s.SaveWithID(NewID(), source, res)
}

// SaveWithID writes a run's artifacts under id. Existing runs are not
// overwritten.
func (s *Store) SaveWithID(id, source string, res workflow.Result) (*Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", id, err)
	}
	dir := s.Dir(id)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("run %s already exists", id)
	}

	rec := &Record{
		ID:        id,
		Source:    source,
		CreatedAt: time.Now().UTC().Format(timeLayout),
		Result:    res,
	}

	name := filepath.Base(source)
	if name == "." || name == "/" || name == "" {
		name = OriginalFile
	}
	files := map[string][]byte{
		OriginalFile: []byte(res.OriginalCode),
		FixedFile:    []byte(res.FixedCode),
		DiffFile:     []byte(report.UnifiedDiff(name, res.OriginalCode, res.FixedCode)),
	}
	for file, data := range files {
		if err := WriteAtomic(filepath.Join(dir, file), data); err != nil {
			return nil, fmt.Errorf("write %s: %w", file, err)
		}
	}
	// result.json last: its presence marks a complete run.
	if err := writeJSON(filepath.Join(dir, ResultFile), rec); err != nil {
		return nil, fmt.Errorf("write %s: %w", ResultFile, err)
	}
	return rec, nil
}

// Get reads the record for a run.
func (s *Store) Get(id string) (*Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var rec Record
	if err := readJSON(filepath.Join(s.Dir(id), ResultFile), &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &rec, nil
}

// Diff returns the stored unified diff of a run.
func (s *Store) Diff(id string) (string, error) {
	if _, err := s.Get(id); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(id), DiffFile))
	if err != nil {
		return "", fmt.Errorf("read diff: %w", err)
	}
	return string(data), nil
}

// List returns all complete runs, newest first.
func (s *Store) List() ([]Record, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var records []Record
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := s.Get(entry.Name())
		if err != nil {
			continue // skip incomplete or foreign directories
		}
		records = append(records, *rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt != records[j].CreatedAt {
			return records[i].CreatedAt > records[j].CreatedAt
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// Delete removes all artifacts of a run.
func (s *Store) Delete(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	dir := s.Dir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return os.RemoveAll(dir)
}
