package state

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// EncryptionKeyEnvVar names the passphrase used to seal state payloads at
// rest. Unset means state is stored in plaintext.
const EncryptionKeyEnvVar = "TERRANE_STATE_KEY"

// encryptedHeader marks a sealed payload; everything after it is one base64
// line holding nonce + ciphertext.
const encryptedHeader = "# TERRANE_ENCRYPTED_STATE\n"

// stateCipher builds the AEAD for the configured passphrase, or nil when
// encryption is off. The AES-256 key is the SHA-256 digest of the
// passphrase, so any length of passphrase works.
func stateCipher() (cipher.AEAD, error) {
	pass := os.Getenv(EncryptionKeyEnvVar)
	if pass == "" {
		return nil, nil
	}
	key := sha256.Sum256([]byte(pass))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptState seals a payload with AES-256-GCM when a key is configured,
// and returns it unchanged otherwise.
func EncryptState(content []byte) ([]byte, error) {
	aead, err := stateCipher()
	if err != nil {
		return nil, err
	}
	if aead == nil {
		return content, nil
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, content, nil)
	return []byte(encryptedHeader + base64.StdEncoding.EncodeToString(sealed) + "\n"), nil
}

// DecryptState opens a sealed payload; plaintext passes through unchanged.
func DecryptState(content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}

	aead, err := stateCipher()
	if err != nil {
		return nil, err
	}
	if aead == nil {
		return nil, fmt.Errorf("state is encrypted but %s is not set", EncryptionKeyEnvVar)
	}

	body := strings.TrimSpace(strings.TrimPrefix(string(content), encryptedHeader))
	sealed, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted state: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("encrypted state is truncated")
	}

	nonce, box := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state (wrong key?): %w", err)
	}
	return plain, nil
}

// IsEncrypted reports whether a payload carries the encryption envelope.
func IsEncrypted(content []byte) bool {
	return strings.HasPrefix(string(content), encryptedHeader)
}
