package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/wootoff-monitor/internal/types"
)

// Journal is an append-only record of emitted change events
type Journal interface {
	Append(ctx context.Context, event types.Event) error
	// Recent returns up to limit events, newest first
	Recent(ctx context.Context, limit int) ([]types.Event, error)
	Close() error
}

func NewJournal(storageType string, path string) (Journal, error) {
	switch storageType {
	case "file":
		return NewFileJournal(path)
	case "sqlite":
		return NewSQLiteJournal(path)
	case "redis":
		return NewRedisJournal(path)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", storageType)
	}
}

// FileJournal stores events as JSON lines
type FileJournal struct {
	path string

	mu   sync.Mutex
	file *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if err := terminateTornLine(path, file); err != nil {
		file.Close()
		return nil, err
	}

	return &FileJournal{path: path, file: file}, nil
}

// terminateTornLine ends a partial last line left by a crash so the next
// append starts on a line of its own
func terminateTornLine(path string, w *os.File) error {
	r, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer r.Close()

	info, err := r.Stat()
	if err != nil {
		return fmt.Errorf("stat journal: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := r.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := w.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

func (f *FileJournal) Append(_ context.Context, event types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	// one write per line keeps lines whole under O_APPEND
	if _, err := f.file.Write(data); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

func (f *FileJournal) Recent(_ context.Context, limit int) ([]types.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal: %w", err)
	}
	defer file.Close()

	var events []types.Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e types.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			// a torn last line from a crash is skipped
			continue
		}
		events = append(events, e)
		if limit > 0 && len(events) > limit {
			events = events[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}

	reverse(events)
	return events, nil
}

func (f *FileJournal) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}

func reverse(events []types.Event) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
