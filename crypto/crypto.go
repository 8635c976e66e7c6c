// Package crypto provides encryption and decryption for the five opaque
// credential strings (SESSDATA, bili_jct, buvid3, DedeUserID, ac_time_value)
// the core persists at rest. It implements AES-256-GCM authenticated
// encryption, with each ciphertext tagged by the key version that produced
// it so a rotated ENCRYPTION_KEY can still decrypt credentials written under
// the previous one.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Encryptor defines the interface for encrypting and decrypting data.
// Implementations must provide authenticated encryption (AEAD) to ensure
// both confidentiality and integrity of the ciphertext.
type Encryptor interface {
	// Encrypt transforms plaintext into ciphertext with authentication tag.
	Encrypt(plaintext []byte) ([]byte, error)

	// Decrypt verifies and transforms ciphertext back to plaintext.
	// Returns error if authentication fails or ciphertext is corrupted.
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESEncryptor implements Encryptor using AES-256-GCM. Every ciphertext it
// produces is prefixed with a one-byte key version; Decrypt dispatches to
// whichever key in the keyring wrote that version, so credentials encrypted
// before an operator rotates ENCRYPTION_KEY keep decrypting until they are
// next saved (store.ConfigPersister.SaveConfig always re-encrypts with the
// current version).
type AESEncryptor struct {
	currentVersion byte
	keys           map[byte][]byte
}

// NewAESEncryptor creates a single-key encryptor from a base64-encoded
// 32-byte key, at key version 1. Use NewAESEncryptorWithPrevious to add
// rotation support.
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	return NewAESEncryptorWithPrevious(base64Key, nil)
}

// NewAESEncryptorWithPrevious creates an encryptor whose current key is
// currentBase64Key and which can still decrypt ciphertext written under
// previousBase64Keys. previousBase64Keys must be given oldest-first, in the
// same order they were ever the current key, so that version numbers stay
// stable across rotations: version 1 is always the first key this service
// was ever configured with, version 2 the one it rotated to next, and so
// on, with currentBase64Key taking the next version after the last entry.
// An operator rotating ENCRYPTION_KEY appends the old value to the end of
// previousBase64Keys rather than replacing it, until every persisted
// credential has been re-saved under the new key (store.ConfigPersister.
// SaveConfig always re-encrypts with the current version).
func NewAESEncryptorWithPrevious(currentBase64Key string, previousBase64Keys []string) (*AESEncryptor, error) {
	if currentBase64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	if len(previousBase64Keys) > 253 {
		return nil, fmt.Errorf("too many previous encryption keys: %d (max 253)", len(previousBase64Keys))
	}

	keyring := append(append([]string{}, previousBase64Keys...), currentBase64Key)
	keys := make(map[byte][]byte, len(keyring))
	for i, b64 := range keyring {
		version := byte(i + 1)
		key, err := decodeKey(b64)
		if err != nil {
			return nil, fmt.Errorf("key at version %d: %w", version, err)
		}
		keys[version] = key
	}

	return &AESEncryptor{currentVersion: byte(len(keyring)), keys: keys}, nil
}

func decodeKey(base64Key string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	return key, nil
}

// Encrypt encrypts plaintext with the current key version using AES-256-GCM
// and returns: version_byte || nonce || ciphertext || auth_tag.
//
// The nonce (12 bytes) is randomly generated per call. GCM appends a
// 16-byte authentication tag to the ciphertext.
func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}

	gcm, err := newGCM(e.keys[e.currentVersion])
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return append([]byte{e.currentVersion}, sealed...), nil
}

// Decrypt reads the leading key-version byte and decrypts with whichever
// key in the keyring wrote that version.
func (e *AESEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("ciphertext is empty")
	}

	version := ciphertext[0]
	key, ok := e.keys[version]
	if !ok {
		return nil, fmt.Errorf("decryption failed: unknown key version %d", version)
	}
	body := ciphertext[1:]

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(body) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short: expected at least %d bytes, got %d", nonceSize, len(body))
	}
	nonce, body := body[:nonceSize], body[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: authentication or integrity check failed")
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptString is a convenience wrapper that encrypts a string and returns
// base64-encoded ciphertext suitable for database text columns.
func EncryptString(enc Encryptor, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	ciphertext, err := enc.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString is a convenience wrapper that base64-decodes and decrypts
// a string from database storage.
func DecryptString(enc Encryptor, base64Ciphertext string) (string, error) {
	if base64Ciphertext == "" {
		return "", nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(base64Ciphertext)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}

	plaintext, err := enc.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
