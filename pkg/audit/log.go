// Package audit implements the append-only per-group JSONL audit log.
// Entries carry dense, strictly increasing sequence numbers per group —
// the tamper-evidence primitive — and every reason/error string is
// sanitized before it touches disk. Entries, once written, are immutable:
// the log exposes only append, query, verify, and rotate.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fred-drake/carapace/pkg/sanitize"
	"github.com/fred-drake/carapace/pkg/wire"
)

// Outcome classifies an audit entry.
type Outcome string

// Audit outcomes.
const (
	OutcomeRouted    Outcome = "routed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeSanitized Outcome = "sanitized"
	OutcomeError     Outcome = "error"
)

// EntryError captures the error recorded with an error/rejected entry.
type EntryError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Entry is one audit record. Seq is assigned by Append.
type Entry struct {
	Seq         int64       `json:"seq"`
	Timestamp   string      `json:"timestamp"`
	Group       string      `json:"group"`
	Source      string      `json:"source"`
	Topic       string      `json:"topic"`
	Correlation string      `json:"correlation"`
	Stage       int         `json:"stage,omitempty"`
	Outcome     Outcome     `json:"outcome"`
	Reason      string      `json:"reason,omitempty"`
	FieldPaths  []string    `json:"fieldPaths,omitempty"`
	Error       *EntryError `json:"error,omitempty"`
}

// groupState serializes appends and the seq counter for one group.
type groupState struct {
	mu  sync.Mutex
	seq int64
}

// Log is the append-only audit store. The log is write-frequent and
// query-rare; no index is maintained — queries scan the live file.
type Log struct {
	basePath  string
	sanitizer *sanitize.Sanitizer

	// Coarse lock guarding the group map and the initialization scan.
	mu     sync.Mutex
	groups map[string]*groupState
}

// Open creates the audit directory (mode 0700) and rebuilds per-group
// sequence counters from the highest seq observed in each live file.
func Open(basePath string, sanitizer *sanitize.Sanitizer) (*Log, error) {
	if err := os.MkdirAll(basePath, 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory %s: %w", basePath, err)
	}

	l := &Log{
		basePath:  basePath,
		sanitizer: sanitizer,
		groups:    make(map[string]*groupState),
	}
	if err := l.scan(); err != nil {
		return nil, err
	}
	return l, nil
}

// scan walks existing live files and records the highest seq per group.
func (l *Log) scan() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return fmt.Errorf("scan audit directory: %w", err)
	}
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		group := strings.TrimSuffix(name, ".jsonl")
		if strings.Contains(group, ".") {
			continue // archive: {group}.{timestamp}.jsonl
		}
		last, err := lastSeq(filepath.Join(l.basePath, name))
		if err != nil {
			slog.Warn("Failed to scan audit file, starting sequence at 0",
				"group", group, "error", err)
			continue
		}
		l.groups[group] = &groupState{seq: last}
	}
	return nil
}

// Append sanitizes, sequences, and writes one entry, returning the entry
// as written. Seq assignment and the file write are serialized per group.
func (l *Log) Append(e Entry) (Entry, error) {
	if e.Group == "" {
		return Entry{}, fmt.Errorf("audit entry missing group")
	}

	if e.Reason != "" {
		e.Reason, _ = l.sanitizer.SanitizeString(e.Reason)
	}
	if e.Error != nil {
		msg, _ := l.sanitizer.SanitizeString(e.Error.Message)
		e.Error = &EntryError{Code: e.Error.Code, Message: msg}
	}
	if e.Timestamp == "" {
		e.Timestamp = wire.Timestamp(time.Now())
	}

	g := l.group(e.Group)
	g.mu.Lock()
	defer g.mu.Unlock()

	e.Seq = g.seq + 1
	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal audit entry: %w", err)
	}

	f, err := os.OpenFile(l.livePath(e.Group), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return Entry{}, fmt.Errorf("open audit file for group %s: %w", e.Group, err)
	}
	defer f.Close()

	// One write call per entry keeps the append atomic for readers.
	if _, err := f.Write(append(line, '\n')); err != nil {
		return Entry{}, fmt.Errorf("append audit entry for group %s: %w", e.Group, err)
	}

	g.seq = e.Seq
	return e, nil
}

// Rotate renames the live file to {group}.{timestamp}.jsonl, creates a
// fresh empty live file, and resets the counter. Archives are never
// modified. Returns the archive path.
func (l *Log) Rotate(group string) (string, error) {
	g := l.group(group)
	g.mu.Lock()
	defer g.mu.Unlock()

	live := l.livePath(group)
	if _, err := os.Stat(live); err != nil {
		return "", fmt.Errorf("rotate group %s: %w", group, err)
	}

	// ISO-8601 UTC, colons replaced for filesystem safety.
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05.000Z")
	archive := filepath.Join(l.basePath, fmt.Sprintf("%s.%s.jsonl", group, stamp))
	if err := os.Rename(live, archive); err != nil {
		return "", fmt.Errorf("rotate group %s: %w", group, err)
	}

	f, err := os.OpenFile(live, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create fresh audit file for group %s: %w", group, err)
	}
	f.Close()

	g.seq = 0
	return archive, nil
}

// LastSeq returns the current sequence counter for group.
func (l *Log) LastSeq(group string) int64 {
	g := l.group(group)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

func (l *Log) group(name string) *groupState {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[name]
	if !ok {
		g = &groupState{}
		l.groups[name] = g
	}
	return g
}

func (l *Log) livePath(group string) string {
	return filepath.Join(l.basePath, group+".jsonl")
}

// lastSeq reads the highest seq in a JSONL file. Unparseable lines are
// skipped; verification is where they get reported.
func lastSeq(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	var last int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if e.Seq > last {
			last = e.Seq
		}
	}
	return last, scanner.Err()
}
