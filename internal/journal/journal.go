// Package journal keeps a local, file-based record of handled rotation steps.
// One JSON file is written per step under <dir>/<secret>/.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/rotation"
)

// EnvDir overrides the default journal directory.
const EnvDir = "ROTATOR_JOURNAL_DIR"

const fileTimeFormat = "20060102-150405.000000000"

// Entry is one handled step.
type Entry struct {
	ID        string            `json:"id" yaml:"id"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
	SecretID  string            `json:"secret_id" yaml:"secret_id"`
	Token     string            `json:"token" yaml:"token"`
	Step      string            `json:"step" yaml:"step"`
	Outcome   rotation.Outcome  `json:"outcome" yaml:"outcome"`
	Duration  time.Duration     `json:"duration" yaml:"duration"`
	Error     string            `json:"error,omitempty" yaml:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Journal stores entries on the filesystem.
type Journal struct {
	baseDir string
	logger  *logging.Logger
	mu      sync.RWMutex
}

// New creates a journal rooted at baseDir.
func New(baseDir string, logger *logging.Logger) *Journal {
	if logger == nil {
		logger = logging.New(false, true)
	}
	return &Journal{baseDir: baseDir, logger: logger}
}

// Dir returns the journal directory.
func (j *Journal) Dir() string {
	return j.baseDir
}

// DefaultDir returns the default journal directory.
func DefaultDir() string {
	if dir := os.Getenv(EnvDir); dir != "" {
		return dir
	}

	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "rotator", "journal")
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "rotator", "journal")
	}

	return filepath.Join(os.TempDir(), "rotator", "journal")
}

// Record writes an entry.
func (j *Journal) Record(entry *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	dir := filepath.Join(j.baseDir, sanitizeFilename(entry.SecretID))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	if entry.ID == "" {
		entry.ID = fmt.Sprintf("%d-%s", entry.Timestamp.UnixNano(), entry.Step)
	}

	name := fmt.Sprintf("%s-%s.json", entry.Timestamp.UTC().Format(fileTimeFormat), sanitizeFilename(entry.Step))
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	return nil
}

// ObserveStep implements rotation.StepObserver. Write failures are logged and
// never fail the step.
func (j *Journal) ObserveStep(_ context.Context, outcome rotation.StepOutcome) {
	entry := &Entry{
		Timestamp: outcome.StartedAt,
		SecretID:  outcome.Request.SecretID,
		Token:     outcome.Request.Token,
		Step:      outcome.Request.Step.String(),
		Outcome:   outcome.Outcome,
		Duration:  outcome.Duration,
	}
	if outcome.Err != nil {
		entry.Error = outcome.Err.Error()
	}
	if err := j.Record(entry); err != nil {
		j.logger.Warn("Failed to journal %s for %s: %v", entry.Step, entry.SecretID, err)
	}
}

// History returns the newest entries of one secret first. A limit of zero or
// less returns everything.
func (j *Journal) History(secretID string, limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.history(sanitizeFilename(secretID), limit)
}

func (j *Journal) history(dirName string, limit int) ([]Entry, error) {
	dir := filepath.Join(j.baseDir, dirName)

	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	// Newest first
	sort.Slice(files, func(i, k int) bool {
		return files[i].Name() > files[k].Name()
	})

	entries := []Entry{}
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	return entries, nil
}

// All returns entries of every secret, newest first.
func (j *Journal) All(limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	dirs, err := os.ReadDir(j.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	all := []Entry{}
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		entries, err := j.history(dir.Name(), -1)
		if err != nil {
			continue
		}
		all = append(all, entries...)
	}

	sort.SliceStable(all, func(i, k int) bool {
		return all[i].Timestamp.After(all[k].Timestamp)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Cleanup removes entries older than olderThan and returns how many it removed.
func (j *Journal) Cleanup(olderThan time.Duration, now time.Time) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := now.Add(-olderThan)
	removed := 0

	err := filepath.WalkDir(j.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		name := filepath.Base(path)
		if len(name) < len(fileTimeFormat) {
			return nil
		}
		ts, err := time.Parse(fileTimeFormat, name[:len(fileTimeFormat)])
		if err != nil || !ts.Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			j.logger.Warn("Failed to remove old journal entry %s: %v", path, err)
			return nil
		}
		removed++
		return nil
	})
	return removed, err
}

// sanitizeFilename replaces characters that might be problematic in filenames
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
		" ", "_",
	)
	return replacer.Replace(name)
}
