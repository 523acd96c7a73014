package runlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Journal is an append-only, fsync-backed log of pipeline run reports. One
// JSON line per run; daily files. The journal is the audit trail for what
// each run produced, independent of what later runs overwrote in the store.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Entry is one journaled run report.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Report    json.RawMessage `json:"report"`
}

// Open creates or opens today's journal file under dir.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("runs-%s.jsonl", time.Now().Format("20060102")))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	return &Journal{file: file, path: path}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Append serializes the report and writes it with fsync so a crash right
// after a run still leaves the report on disk.
func (j *Journal) Append(report any) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}
	line, err := json.Marshal(Entry{Timestamp: time.Now().UTC(), Report: raw})
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// Close flushes and closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Sync(); err != nil {
		return err
	}
	return j.file.Close()
}

// Replay reads all entries from a journal file. Malformed lines are skipped;
// a missing file yields no entries.
func Replay(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// Rotate closes the current journal and opens a fresh daily file, returning
// the new journal and the old file path.
func Rotate(dir string, current *Journal) (*Journal, string, error) {
	current.mu.Lock()
	oldPath := current.path
	current.mu.Unlock()

	if err := current.Close(); err != nil {
		return nil, "", fmt.Errorf("close current journal: %w", err)
	}
	next, err := Open(dir)
	if err != nil {
		return nil, "", err
	}
	return next, oldPath, nil
}
