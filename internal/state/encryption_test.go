package state

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptState_NoKeyPassesThrough(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")
	payload := []byte(`{"version":1,"serial":0}`)

	out, err := EncryptState(payload)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
	assert.False(t, IsEncrypted(out))

	back, err := DecryptState(out)
	require.NoError(t, err)
	assert.Equal(t, payload, back)
}

func TestEncryptState_RoundTrip(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "correct horse battery staple")
	payload := []byte(`{"version":1,"records":{"web":{"id":"box-1"}}}`)

	sealed, err := EncryptState(payload)
	require.NoError(t, err)
	require.True(t, IsEncrypted(sealed))
	assert.NotContains(t, string(sealed), "box-1", "payload must not be readable at rest")

	back, err := DecryptState(sealed)
	require.NoError(t, err)
	assert.Equal(t, payload, back)
}

func TestEncryptState_FreshNoncePerSeal(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "k")
	payload := []byte("same payload")

	first, err := EncryptState(payload)
	require.NoError(t, err)
	second, err := EncryptState(payload)
	require.NoError(t, err)
	assert.False(t, bytes.Equal(first, second), "sealing twice must not repeat a nonce")
}

func TestDecryptState_WrongKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "the original key")
	sealed, err := EncryptState([]byte("secret"))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "a different key")
	_, err = DecryptState(sealed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decrypt state")
}

func TestDecryptState_MissingKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "the original key")
	sealed, err := EncryptState([]byte("secret"))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "")
	_, err = DecryptState(sealed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EncryptionKeyEnvVar)
}

func TestDecryptState_CorruptEnvelope(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "k")

	_, err := DecryptState([]byte(encryptedHeader + "!!!not-base64!!!\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode")

	// A decodable body shorter than the nonce cannot hold a seal.
	_, err = DecryptState([]byte(encryptedHeader + "AAAA\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

func TestIsEncrypted(t *testing.T) {
	assert.True(t, IsEncrypted([]byte(encryptedHeader+"Zm9v\n")))
	assert.False(t, IsEncrypted([]byte(`{"version":1}`)))
	assert.False(t, IsEncrypted(nil))
}
