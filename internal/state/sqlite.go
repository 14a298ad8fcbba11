package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/terrane-io/terrane/internal/ir"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteBackend stores each record as a row, so a record save is a real
// single-row transaction instead of a snapshot rewrite.
type sqliteBackend struct {
	db   *sql.DB
	path string
}

func newSQLiteBackend(cfg SQLiteConfig) (*sqliteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	b := &sqliteBackend{db: db, path: cfg.Path}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *sqliteBackend) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(b.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Load(ctx context.Context) (*ir.State, error) {
	st := ir.NewState()

	meta, err := b.loadMeta(ctx)
	if err != nil {
		return nil, err
	}
	if v, ok := meta["version"]; ok {
		st.Version, _ = strconv.Atoi(v)
	}
	if v, ok := meta["serial"]; ok {
		st.Serial, _ = strconv.ParseUint(v, 10, 64)
	}
	if v, ok := meta["lineage"]; ok && v != "" {
		st.Lineage = v
	}
	if v, ok := meta["outputs"]; ok && v != "" {
		if err := json.Unmarshal([]byte(v), &st.Outputs); err != nil {
			return nil, fmt.Errorf("failed to parse stored outputs: %w", err)
		}
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT name, kind, provider, resource_id, inputs, outputs,
		       dependencies, serial, tainted, created_at, updated_at
		FROM records`)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec ir.ResourceRecord
		var inputs, outputs, deps, createdAt, updatedAt string
		var tainted int
		if err := rows.Scan(&rec.Name, &rec.Kind, &rec.Provider, &rec.ID,
			&inputs, &outputs, &deps, &rec.Serial, &tainted, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(inputs), &rec.Inputs); err != nil {
			return nil, fmt.Errorf("record %s has malformed inputs: %w", rec.Name, err)
		}
		if err := json.Unmarshal([]byte(outputs), &rec.Outputs); err != nil {
			return nil, fmt.Errorf("record %s has malformed outputs: %w", rec.Name, err)
		}
		if err := json.Unmarshal([]byte(deps), &rec.Dependencies); err != nil {
			return nil, fmt.Errorf("record %s has malformed dependencies: %w", rec.Name, err)
		}
		rec.Tainted = tainted != 0
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		st.Records[rec.Name] = &rec
	}
	return st, rows.Err()
}

func (b *sqliteBackend) Write(ctx context.Context, st *ir.State) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	for _, rec := range st.Records {
		if err := upsertRecord(ctx, tx, rec); err != nil {
			return err
		}
	}
	if err := saveMeta(ctx, tx, st); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *sqliteBackend) SaveRecord(ctx context.Context, st *ir.State, rec *ir.ResourceRecord) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertRecord(ctx, tx, rec); err != nil {
		return err
	}
	if err := saveMeta(ctx, tx, st); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *sqliteBackend) DeleteRecord(ctx context.Context, st *ir.State, name string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", name, err)
	}
	if err := saveMeta(ctx, tx, st); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *sqliteBackend) Lock(ctx context.Context, info *LockInfo) error {
	var held LockInfo
	var createdAt string
	err := b.db.QueryRowContext(ctx,
		`SELECT lock_id, operation, who, created_at FROM locks WHERE id = 1`).
		Scan(&held.ID, &held.Operation, &held.Who, &createdAt)
	switch {
	case err == nil:
		held.Created, _ = time.Parse(time.RFC3339Nano, createdAt)
		if time.Since(held.Created) <= StaleLockAge {
			return fmt.Errorf("state is locked by %s for %q (lock %s, acquired %s)",
				held.Who, held.Operation, held.ID, held.Created.Format(time.RFC3339))
		}
		if _, err := b.db.ExecContext(ctx, `DELETE FROM locks WHERE id = 1`); err != nil {
			return fmt.Errorf("failed to break stale lock: %w", err)
		}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to inspect lock: %w", err)
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT INTO locks (id, lock_id, operation, who, created_at) VALUES (1, ?, ?, ?, ?)`,
		info.ID, info.Operation, info.Who, info.Created.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Unlock(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM locks WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}

func upsertRecord(ctx context.Context, tx *sql.Tx, rec *ir.ResourceRecord) error {
	inputs, err := json.Marshal(rec.Inputs)
	if err != nil {
		return fmt.Errorf("failed to serialize inputs for %s: %w", rec.Name, err)
	}
	outputs, err := json.Marshal(rec.Outputs)
	if err != nil {
		return fmt.Errorf("failed to serialize outputs for %s: %w", rec.Name, err)
	}
	deps, err := json.Marshal(rec.Dependencies)
	if err != nil {
		return fmt.Errorf("failed to serialize dependencies for %s: %w", rec.Name, err)
	}
	tainted := 0
	if rec.Tainted {
		tainted = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (name, kind, provider, resource_id, inputs, outputs,
		                     dependencies, serial, tainted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
		    kind = excluded.kind,
		    provider = excluded.provider,
		    resource_id = excluded.resource_id,
		    inputs = excluded.inputs,
		    outputs = excluded.outputs,
		    dependencies = excluded.dependencies,
		    serial = excluded.serial,
		    tainted = excluded.tainted,
		    created_at = excluded.created_at,
		    updated_at = excluded.updated_at`,
		rec.Name, rec.Kind, rec.Provider, rec.ID, string(inputs), string(outputs),
		string(deps), rec.Serial, tainted,
		rec.CreatedAt.Format(time.RFC3339Nano), rec.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.Name, err)
	}
	return nil
}

func saveMeta(ctx context.Context, tx *sql.Tx, st *ir.State) error {
	outputs, err := json.Marshal(st.Outputs)
	if err != nil {
		return fmt.Errorf("failed to serialize outputs: %w", err)
	}
	entries := map[string]string{
		"version": strconv.Itoa(st.Version),
		"serial":  strconv.FormatUint(st.Serial, 10),
		"lineage": st.Lineage,
		"outputs": string(outputs),
	}
	for key, value := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		if err != nil {
			return fmt.Errorf("failed to save meta %s: %w", key, err)
		}
	}
	return nil
}

func (b *sqliteBackend) loadMeta(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("failed to query meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}
