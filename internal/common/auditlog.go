package common

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AuditEntry records one record dropped or rewritten while conditioning a
// GSF file.
type AuditEntry struct {
	Action     string    `json:"action"`
	RecordType string    `json:"recordType"`
	Offset     int64     `json:"offset"`
	Size       int64     `json:"size"`
	HeaderHex  string    `json:"headerHex,omitempty"`
	Source     string    `json:"source,omitempty"`
	Ts         time.Time `json:"ts"`
}

// HeaderBytes decodes the datagram header captured with the entry.
func (e AuditEntry) HeaderBytes() ([]byte, error) {
	if strings.TrimSpace(e.HeaderHex) == "" {
		return nil, nil
	}
	return hex.DecodeString(e.HeaderHex)
}

// AuditLog provides append-only access to a JSONL audit log.
type AuditLog struct {
	path string
	mu   sync.Mutex
}

func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

func (l *AuditLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes entries as JSON objects, one per line, in a single write.
func (l *AuditLog) Append(entries ...AuditEntry) error {
	if l == nil {
		return errors.New("nil audit log")
	}
	if len(entries) == 0 {
		return nil
	}
	var buf []byte
	now := time.Now().UTC()
	for _, entry := range entries {
		if entry.Action == "" {
			return errors.New("audit entry missing action")
		}
		if entry.Ts.IsZero() {
			entry.Ts = now
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	dir := filepath.Dir(l.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		return err
	}
	return f.Sync()
}

// ReadAuditLog loads every entry from the supplied JSONL file.
func ReadAuditLog(path string) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var entries []AuditEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
