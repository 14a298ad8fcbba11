// Package audit appends an operation trail, one JSON object per line, for
// every state-changing command.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Entry is one audit trail record.
type Entry struct {
	Time      time.Time      `json:"time"`
	Operation string         `json:"operation"` // "apply", "destroy", "import", "state.rm", "state.mv", ...
	User      string         `json:"user"`
	Workspace string         `json:"workspace"`
	PlanID    string         `json:"planId,omitempty"`
	Changes   []Change       `json:"changes,omitempty"`
	Summary   map[string]int `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Change records a single resource change.
type Change struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Action string `json:"action"`
}

// Trail is an append-only audit log.
type Trail struct {
	f  *os.File
	lg zerolog.Logger
}

// Open opens (or creates) the audit trail at path.
func Open(path string) (*Trail, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}
	zerolog.TimeFieldFormat = time.RFC3339
	return &Trail{
		f:  f,
		lg: zerolog.New(f),
	}, nil
}

// Record appends one entry. Time and User default when unset.
func (t *Trail) Record(e Entry) {
	if e.User == "" {
		e.User = currentUser()
	}

	ev := t.lg.Log().
		Timestamp().
		Str("operation", e.Operation).
		Str("user", e.User).
		Str("workspace", e.Workspace)
	if e.PlanID != "" {
		ev = ev.Str("planId", e.PlanID)
	}
	if len(e.Changes) > 0 {
		arr := zerolog.Arr()
		for _, c := range e.Changes {
			arr = arr.Dict(zerolog.Dict().
				Str("name", c.Name).
				Str("kind", c.Kind).
				Str("action", c.Action))
		}
		ev = ev.Array("changes", arr)
	}
	if len(e.Summary) > 0 {
		d := zerolog.Dict()
		for k, v := range e.Summary {
			d = d.Int(k, v)
		}
		ev = ev.Dict("summary", d)
	}
	if e.Error != "" {
		ev = ev.Str("error", e.Error)
	}
	ev.Send()
}

// Close closes the trail.
func (t *Trail) Close() error {
	return t.f.Close()
}

// ReadEntries parses the trail at path, newest last. A zero limit reads
// everything; otherwise only the last limit entries return.
func ReadEntries(path string, limit int) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // tolerate torn or foreign lines
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}
	return "unknown"
}
