package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// StaleLockAge is how old a lock may be before another process is allowed
// to break it.
const StaleLockAge = 10 * time.Minute

// LockInfo identifies a held state lock.
type LockInfo struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation,omitempty"`
	Who       string    `json:"who,omitempty"`
	Created   time.Time `json:"created"`
}

// NewLockInfo builds lock info for the current process.
func NewLockInfo(operation string) *LockInfo {
	who := os.Getenv("USER")
	if host, err := os.Hostname(); err == nil {
		who = who + "@" + host
	}
	return &LockInfo{
		ID:        uuid.NewString(),
		Operation: operation,
		Who:       who,
		Created:   time.Now().UTC(),
	}
}

// acquireFileLock takes an exclusive file lock, breaking stale ones.
func acquireFileLock(lockPath string, info *LockInfo) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if data, err := os.ReadFile(lockPath); err == nil {
		var held LockInfo
		if json.Unmarshal(data, &held) == nil && time.Since(held.Created) <= StaleLockAge {
			return fmt.Errorf("state is locked by %s for %q (lock %s, acquired %s). "+
				"If this is an error, remove %s manually",
				held.Who, held.Operation, held.ID, held.Created.Format(time.RFC3339), lockPath)
		}
		os.Remove(lockPath)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("state is locked by another process (lock file: %s)", lockPath)
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

// releaseFileLock removes a file lock.
func releaseFileLock(lockPath string) error {
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
