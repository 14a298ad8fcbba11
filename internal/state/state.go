package state

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/terrane-io/terrane/internal/ir"
)

// DefaultStateDir is the project-relative directory holding local state.
const DefaultStateDir = ".terrane"

// StatePath returns the local state file path for a workspace.
func StatePath(root, workspace string) string {
	if workspace == "" || workspace == "default" {
		return filepath.Join(root, DefaultStateDir, "state.json")
	}
	return filepath.Join(root, DefaultStateDir, "workspaces", workspace, "state.json")
}

// Manager fronts a Backend with a loaded snapshot. The engine mutates the
// snapshot in place and streams record mutations through SaveRecord and
// DeleteRecord; WriteAll persists the full snapshot.
type Manager struct {
	backend Backend
	state   *ir.State
}

func NewManager(backend Backend) *Manager {
	return &Manager{backend: backend}
}

// Load reads state from the backend and caches the snapshot.
func (m *Manager) Load(ctx context.Context) (*ir.State, error) {
	st, err := m.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	m.state = st
	return st, nil
}

// State returns the last loaded snapshot, or nil before Load.
func (m *Manager) State() *ir.State {
	return m.state
}

// SaveRecord persists one record mutation.
func (m *Manager) SaveRecord(ctx context.Context, rec *ir.ResourceRecord) error {
	if m.state == nil {
		return fmt.Errorf("state not loaded")
	}
	return m.backend.SaveRecord(ctx, m.state, rec)
}

// DeleteRecord persists one record removal.
func (m *Manager) DeleteRecord(ctx context.Context, name string) error {
	if m.state == nil {
		return fmt.Errorf("state not loaded")
	}
	return m.backend.DeleteRecord(ctx, m.state, name)
}

// WriteAll persists the full snapshot.
func (m *Manager) WriteAll(ctx context.Context) error {
	if m.state == nil {
		return fmt.Errorf("state not loaded")
	}
	return m.backend.Write(ctx, m.state)
}

// Replace swaps the cached snapshot and persists it.
func (m *Manager) Replace(ctx context.Context, st *ir.State) error {
	m.state = st
	return m.backend.Write(ctx, st)
}

// Lock takes the state lock for an operation.
func (m *Manager) Lock(ctx context.Context, operation string) error {
	return m.backend.Lock(ctx, NewLockInfo(operation))
}

// Unlock releases the state lock.
func (m *Manager) Unlock(ctx context.Context) error {
	return m.backend.Unlock(ctx)
}

// Close releases backend resources.
func (m *Manager) Close() error {
	return m.backend.Close()
}
