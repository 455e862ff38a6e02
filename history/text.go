package history

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TextFile is the plain-text history log. Every Append opens the file in
// append mode, writes one line and syncs, so earlier epochs survive a crash.
type TextFile struct {
	path string
	mu   sync.Mutex
}

// NewTextFile creates the parent directory of path if needed.
func NewTextFile(path string) (*TextFile, error) {
	if path == "" {
		return nil, fmt.Errorf("history file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory failed: %w", err)
	}
	return &TextFile{path: path}, nil
}

func (f *TextFile) Path() string {
	return f.path
}

func (f *TextFile) Append(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history file failed: %w", err)
	}

	if _, err := fmt.Fprintln(file, FormatLine(rec)); err != nil {
		file.Close()
		return fmt.Errorf("write history record failed: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync history file failed: %w", err)
	}
	return file.Close()
}

// ReadAll parses every record of the file in order.
func (f *TextFile) ReadAll() ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open history file failed: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if scanner.Text() == "" {
			continue
		}
		rec, err := ParseLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history file failed: %w", err)
	}
	return records, nil
}
