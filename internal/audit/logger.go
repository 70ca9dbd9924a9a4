package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger appends records to a JSONL stream. Thread-safe: multiple
// goroutines can log concurrently.
type Logger struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time // injectable clock for testing
}

// NewLogger creates a logger appending to the provided writer.
func NewLogger(w io.Writer) *Logger {
	return &Logger{
		w:   w,
		now: time.Now,
	}
}

// NewFileLogger creates a logger that appends to a JSONL file, creating the
// file and parent directories if they don't exist.
func NewFileLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	return NewLogger(f), nil
}

// Log writes one record, assigning its ID and timestamp.
func (l *Logger) Log(r Record) error {
	r.Timestamp = l.now().UTC()
	r.ID = newID()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.w.Write(data); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// Close closes the underlying writer when it is closeable. Log calls after
// Close fail with the writer's error.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ReadLog reads all records from a JSONL file. A missing file is an empty
// log, not an error.
func ReadLog(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	return ReadFrom(f)
}

// ReadFrom reads records from a reader containing JSONL data. Malformed
// lines are skipped.
func ReadFrom(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("read audit log: %w", err)
	}
	return records, nil
}
