// Package journal provides an append-only record of provisioning events.
// Identity providers reconcile against the SCIM API; the journal keeps a
// durable trail of every mutation they pushed, independent of log shipping.
package journal

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Journal is an append-only sink for serialized provisioning events
type Journal interface {
	// Append adds one record to the end of the journal
	Append(record []byte) error

	// ReadAll returns every record in append order
	ReadAll() ([][]byte, error)
}

// FileJournal stores one JSON record per line in a single file. Appends are
// serialized and fsynced so a crash never loses an acknowledged mutation.
type FileJournal struct {
	path string
	mu   sync.RWMutex
}

// NewFileJournal creates the journal file (and parent directories) if needed
func NewFileJournal(path string) (*FileJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	file.Close()

	return &FileJournal{path: path}, nil
}

// Append writes the record followed by a newline and syncs to disk
func (j *FileJournal) Append(record []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open journal for appending: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(record, '\n')); err != nil {
		return fmt.Errorf("failed to write journal record: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// ReadAll returns every non-empty line in the journal
func (j *FileJournal) ReadAll() ([][]byte, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	data, err := os.ReadFile(j.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	lines := bytes.Split(data, []byte{'\n'})
	records := make([][]byte, 0, len(lines))
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		records = append(records, line)
	}
	return records, nil
}

// Size returns the journal size in bytes
func (j *FileJournal) Size() (int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	info, err := os.Stat(j.path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat journal: %w", err)
	}
	return info.Size(), nil
}

// MemoryJournal keeps records in memory. Useful for testing and development.
type MemoryJournal struct {
	mu      sync.RWMutex
	records [][]byte
}

// NewMemoryJournal creates an empty in-memory journal
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Append stores a copy of the record
func (j *MemoryJournal) Append(record []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	cp := make([]byte, len(record))
	copy(cp, record)
	j.records = append(j.records, cp)
	return nil
}

// ReadAll returns copies of every record in append order
func (j *MemoryJournal) ReadAll() ([][]byte, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	result := make([][]byte, len(j.records))
	for i, record := range j.records {
		cp := make([]byte, len(record))
		copy(cp, record)
		result[i] = cp
	}
	return result, nil
}
