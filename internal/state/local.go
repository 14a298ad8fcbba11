package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/terrane-io/terrane/internal/ir"
)

// localBackend stores state as a JSON file. Every write lands in a temp
// file in the same directory and is renamed into place, so readers never
// observe a half-written snapshot.
type localBackend struct {
	path string
}

func newLocalBackend(cfg LocalConfig) *localBackend {
	return &localBackend{path: cfg.Path}
}

func (b *localBackend) Load(ctx context.Context) (*ir.State, error) {
	raw, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return ir.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", b.path, err)
	}

	raw, err = DecryptState(raw)
	if err != nil {
		return nil, err
	}

	var st ir.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", b.path, err)
	}
	if st.Records == nil {
		st.Records = make(map[string]*ir.ResourceRecord)
	}
	return &st, nil
}

func (b *localBackend) Write(ctx context.Context, st *ir.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}
	data = append(data, '\n')

	data, err = EncryptState(data)
	if err != nil {
		return err
	}
	return writeFileAtomic(b.path, data, 0600)
}

func (b *localBackend) SaveRecord(ctx context.Context, st *ir.State, rec *ir.ResourceRecord) error {
	return b.Write(ctx, st)
}

func (b *localBackend) DeleteRecord(ctx context.Context, st *ir.State, name string) error {
	return b.Write(ctx, st)
}

func (b *localBackend) Lock(ctx context.Context, info *LockInfo) error {
	return acquireFileLock(b.path+".lock", info)
}

func (b *localBackend) Unlock(ctx context.Context) error {
	return releaseFileLock(b.path + ".lock")
}

func (b *localBackend) Close() error {
	return nil
}

// writeFileAtomic writes via a temp file in the target directory followed
// by a rename.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
