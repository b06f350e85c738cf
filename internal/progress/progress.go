// Package progress appends to and tails claude-progress.txt, the harness's
// human-readable append-only record of session starts, session ends, and
// handoff notes.
package progress

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adaharness/ada/internal/storage"
	"github.com/adaharness/ada/pkg/types"
)

const fileName = "claude-progress.txt"

const delimiter = "----------------------------------------"

// Log appends to and reads a single claude-progress.txt file.
type Log struct {
	path string
	lock *storage.FileLock
}

// NewLog returns a progress log rooted at dir (typically .ada under the
// project directory).
func NewLog(dir string) *Log {
	path := filepath.Join(dir, fileName)
	return &Log{path: path, lock: storage.NewFileLock(path)}
}

// Append writes one entry to the log, stamping it with a fresh correlation
// id if one isn't already set, and returns the entry as persisted.
func (l *Log) Append(entry types.ProgressEntry, now time.Time) (types.ProgressEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = now.Unix()
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return entry, fmt.Errorf("progress: %w", err)
	}

	if err := l.lock.Lock(); err != nil {
		return entry, fmt.Errorf("progress: acquire lock: %w", err)
	}
	defer l.lock.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return entry, fmt.Errorf("progress: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(render(entry)); err != nil {
		return entry, fmt.Errorf("progress: %w", err)
	}
	return entry, nil
}

func render(e types.ProgressEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", delimiter)
	fmt.Fprintf(&b, "id: %s\n", e.ID)
	fmt.Fprintf(&b, "kind: %s\n", e.Kind)
	fmt.Fprintf(&b, "time: %s\n", time.Unix(e.Timestamp, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "feature: %s\n", e.FeatureID)
	if e.SessionID != "" {
		fmt.Fprintf(&b, "session: %s\n", e.SessionID)
	}
	fmt.Fprintf(&b, "summary: %s\n", e.Summary)
	if e.Notes != "" {
		fmt.Fprintf(&b, "notes:\n%s\n", e.Notes)
	}
	return b.String()
}

// Tail returns the last n lines of the log, never truncating the
// underlying file.
func (l *Log) Tail(n int) (string, error) {
	lines, err := l.readLines()
	if err != nil {
		return "", err
	}
	if n >= len(lines) || n < 0 {
		return strings.Join(lines, "\n"), nil
	}
	return strings.Join(lines[len(lines)-n:], "\n"), nil
}

// TailBytes returns the last k kilobytes of the log, for priming an agent's
// context without reading the whole history.
func (l *Log) TailBytes(k int) (string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("progress: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("progress: %w", err)
	}

	want := int64(k) * 1024
	size := info.Size()
	offset := int64(0)
	if size > want {
		offset = size - want
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", fmt.Errorf("progress: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("progress: %w", err)
	}
	return string(data), nil
}

func (l *Log) readLines() ([]string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("progress: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("progress: %w", err)
	}
	return lines, nil
}
