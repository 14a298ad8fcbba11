package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trailPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), ".terrane", "audit.log")
}

func TestTrail_RecordAndRead(t *testing.T) {
	path := trailPath(t)
	trail, err := Open(path)
	require.NoError(t, err)

	trail.Record(Entry{
		Operation: "apply",
		User:      "deploy-bot",
		Workspace: "default",
		PlanID:    "plan-123",
		Changes: []Change{
			{Name: "net", Kind: "docker_network", Action: "create"},
			{Name: "web", Kind: "docker_container", Action: "create"},
		},
		Summary: map[string]int{"create": 2},
	})
	trail.Record(Entry{
		Operation: "destroy",
		User:      "deploy-bot",
		Workspace: "default",
		Error:     "1 action(s) failed, 0 blocked",
	})
	require.NoError(t, trail.Close())

	entries, err := ReadEntries(path, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	apply := entries[0]
	assert.Equal(t, "apply", apply.Operation)
	assert.Equal(t, "deploy-bot", apply.User)
	assert.Equal(t, "default", apply.Workspace)
	assert.Equal(t, "plan-123", apply.PlanID)
	require.Len(t, apply.Changes, 2)
	assert.Equal(t, Change{Name: "net", Kind: "docker_network", Action: "create"}, apply.Changes[0])
	assert.Equal(t, map[string]int{"create": 2}, apply.Summary)
	assert.False(t, apply.Time.IsZero())
	assert.WithinDuration(t, time.Now(), apply.Time, time.Minute)

	assert.Equal(t, "destroy", entries[1].Operation)
	assert.Equal(t, "1 action(s) failed, 0 blocked", entries[1].Error)
}

func TestTrail_DefaultsUser(t *testing.T) {
	path := trailPath(t)
	trail, err := Open(path)
	require.NoError(t, err)
	trail.Record(Entry{Operation: "taint", Workspace: "default"})
	require.NoError(t, trail.Close())

	entries, err := ReadEntries(path, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].User)
}

func TestTrail_AppendsAcrossOpens(t *testing.T) {
	path := trailPath(t)
	for _, op := range []string{"apply", "destroy"} {
		trail, err := Open(path)
		require.NoError(t, err)
		trail.Record(Entry{Operation: op, User: "u", Workspace: "default"})
		require.NoError(t, trail.Close())
	}

	entries, err := ReadEntries(path, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "apply", entries[0].Operation)
	assert.Equal(t, "destroy", entries[1].Operation)
}

func TestReadEntries_Limit(t *testing.T) {
	path := trailPath(t)
	trail, err := Open(path)
	require.NoError(t, err)
	for _, op := range []string{"apply", "apply", "taint", "apply", "destroy"} {
		trail.Record(Entry{Operation: op, User: "u", Workspace: "default"})
	}
	require.NoError(t, trail.Close())

	entries, err := ReadEntries(path, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "apply", entries[0].Operation)
	assert.Equal(t, "destroy", entries[1].Operation)
}

func TestReadEntries_MissingFile(t *testing.T) {
	entries, err := ReadEntries(filepath.Join(t.TempDir(), "nope.log"), 0)
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestReadEntries_ToleratesForeignLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	raw := "not json at all\n" +
		`{"time":"2026-08-25T10:00:00Z","operation":"apply","user":"u","workspace":"default"}` + "\n" +
		"\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	entries, err := ReadEntries(path, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "apply", entries[0].Operation)
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "audit.log")
	trail, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, trail.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
