// Package state persists resource records between runs. A Manager fronts a
// pluggable Backend; records are written one at a time as the engine
// converges, so an interrupted apply leaves state describing exactly the
// resources whose actions completed.
package state

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/terrane-io/terrane/internal/ir"
)

// Backend is a storage driver for state. Load returns an empty state when
// none has been written yet. SaveRecord and DeleteRecord persist a single
// record mutation atomically; file-shaped backends realize that as an
// atomic rewrite of the whole snapshot, row-shaped ones as a row write.
type Backend interface {
	Load(ctx context.Context) (*ir.State, error)
	Write(ctx context.Context, st *ir.State) error
	SaveRecord(ctx context.Context, st *ir.State, rec *ir.ResourceRecord) error
	DeleteRecord(ctx context.Context, st *ir.State, name string) error
	Lock(ctx context.Context, info *LockInfo) error
	Unlock(ctx context.Context) error
	Close() error
}

// BackendConfig selects and configures a state backend.
type BackendConfig struct {
	Type   string            `json:"type"` // "local", "sqlite", "s3"
	Config map[string]string `json:"config"`
}

// LocalConfig configures the local file backend.
type LocalConfig struct {
	Path string `validate:"required"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path string `validate:"required"`
}

// S3Config configures the S3 backend with optional DynamoDB locking.
type S3Config struct {
	Bucket        string `validate:"required"`
	Key           string
	Region        string
	DynamoDBTable string
	Encrypt       bool
	Profile       string
}

var validate = validator.New()

// NewBackend creates a state backend from configuration.
func NewBackend(cfg *BackendConfig) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	switch cfg.Type {
	case "local", "":
		c := LocalConfig{Path: cfg.Config["path"]}
		if err := validate.Struct(c); err != nil {
			return nil, fmt.Errorf("local backend: %w", err)
		}
		return newLocalBackend(c), nil
	case "sqlite":
		c := SQLiteConfig{Path: cfg.Config["path"]}
		if err := validate.Struct(c); err != nil {
			return nil, fmt.Errorf("sqlite backend: %w", err)
		}
		return newSQLiteBackend(c)
	case "s3":
		c := S3Config{
			Bucket:        cfg.Config["bucket"],
			Key:           cfg.Config["key"],
			Region:        cfg.Config["region"],
			DynamoDBTable: cfg.Config["dynamodb_table"],
			Encrypt:       cfg.Config["encrypt"] == "true",
			Profile:       cfg.Config["profile"],
		}
		if err := validate.Struct(c); err != nil {
			return nil, fmt.Errorf("s3 backend: %w", err)
		}
		return newS3Backend(c)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
