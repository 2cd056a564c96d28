package cluster

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// OpLogEntry is one record of a write this replica has sent to its peers
// or received as a REPLICATE message. It is diagnostic: unlike the
// teacher's WAL, the oplog is never replayed at startup — the store's own
// collection files are the durable source of truth — it exists so an
// operator can answer "did this write reach replication" after the fact.
type OpLogEntry struct {
	At        time.Time `json:"at"`
	Term      uint64    `json:"term"`
	ServerID  string    `json:"server_id"`
	Operation string    `json:"operation"`
}

// OpLog is an append-only newline-delimited JSON file.
type OpLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenOpLog opens (creating if needed) the oplog file at path for
// appending.
func OpenOpLog(path string) (*OpLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open oplog %s: %w", path, err)
	}
	return &OpLog{file: f}, nil
}

// Append writes entry as one line and fsyncs it.
func (l *OpLog) Append(entry OpLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode oplog entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("write oplog entry: %w", err)
	}
	return l.file.Sync()
}

// Close closes the underlying file.
func (l *OpLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
