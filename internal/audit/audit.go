// Package audit writes a JSONL trail of run and thread lifecycle
// transitions, grounded on the reference pack's append-only JSONL audit log.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type entry struct {
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	RunID     string         `json:"run_id,omitempty"`
	ThreadID  string         `json:"thread_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Log appends lifecycle entries to a JSONL file. The zero value discards
// every record, so callers that don't wire a Log still compile and run.
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if needed) path for append and returns a ready Log.
// An empty path returns a Log that discards every record.
func Open(path string) (*Log, error) {
	if path == "" {
		return &Log{}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Log{file: f}, nil
}

// Close closes the underlying file, if any.
func (l *Log) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Record appends one lifecycle event. The executor records run start,
// success, interruption, rollback, retry, and failure; run creation and
// thread changes are not recorded.
func (l *Log) Record(event, runID, threadID string, detail map[string]any) {
	if l == nil || l.file == nil {
		return
	}
	ev := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Event:     event,
		RunID:     runID,
		ThreadID:  threadID,
		Detail:    detail,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	b = append(b, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.file.Write(b)
}
