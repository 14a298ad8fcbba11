package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewS3BackendDefaults(t *testing.T) {
	b, err := newS3Backend(S3Config{Bucket: "my-state"})
	require.NoError(t, err)

	assert.Equal(t, "my-state", b.bucket)
	assert.Equal(t, "terrane/state.json", b.key)
	assert.Equal(t, "us-east-1", b.region)
	assert.Empty(t, b.dynamoDBTable)
	assert.False(t, b.encrypt)
	assert.NotNil(t, b.s3Client)
	assert.Nil(t, b.dbClient, "no DynamoDB client without a lock table")
}

func TestNewS3BackendCustomConfig(t *testing.T) {
	b, err := newS3Backend(S3Config{
		Bucket:        "custom-bucket",
		Key:           "custom/path/state.json",
		Region:        "eu-west-1",
		DynamoDBTable: "terrane-locks",
		Encrypt:       true,
	})
	require.NoError(t, err)

	assert.Equal(t, "custom-bucket", b.bucket)
	assert.Equal(t, "custom/path/state.json", b.key)
	assert.Equal(t, "eu-west-1", b.region)
	assert.Equal(t, "terrane-locks", b.dynamoDBTable)
	assert.True(t, b.encrypt)
	assert.NotNil(t, b.dbClient)
}

func TestS3Backend_LockWithoutTableIsNoop(t *testing.T) {
	b, err := newS3Backend(S3Config{Bucket: "my-state"})
	require.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, b.Lock(ctx, NewLockInfo("apply")))
	assert.NoError(t, b.Unlock(ctx))
}

func TestNewBackendRejectsNilConfig(t *testing.T) {
	_, err := NewBackend(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestNewBackendRejectsUnknownType(t *testing.T) {
	_, err := NewBackend(&BackendConfig{Type: "redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type")
}

func TestNewBackendValidatesConfig(t *testing.T) {
	_, err := NewBackend(&BackendConfig{Type: "local", Config: map[string]string{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Path")

	_, err = NewBackend(&BackendConfig{Type: "sqlite", Config: map[string]string{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Path")

	_, err = NewBackend(&BackendConfig{Type: "s3", Config: map[string]string{"region": "eu-west-1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bucket")
}
