package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidAESKeySize  = errors.New("invalid AES key size")
	ErrInvalidSealedValue = errors.New("invalid sealed value, expecting base64 encoded nonce+ciphertext")
	ErrCiphertextTooShort = errors.New("ciphertext too short, cannot extract nonce")
	ErrDecryptionFailed   = errors.New("decryption failed")
)

const (
	// AES-256 requires a 32-byte key.
	aes256KeyBytes = 32
	// GCM standard nonce size.
	gcmNonceSizeBytes = 12
)

// SealAESGCM encrypts plaintext with AES-256-GCM under the hex encoded key and
// returns base64 URL encoded nonce+ciphertext.
func SealAESGCM(aesKeyHex string, plaintext []byte) (string, error) {
	aesgcm, err := newGCM(aesKeyHex)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcmNonceSizeBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aesgcm.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// OpenAESGCM reverses SealAESGCM.
func OpenAESGCM(aesKeyHex string, sealedB64 string) ([]byte, error) {
	aesgcm, err := newGCM(aesKeyHex)
	if err != nil {
		return nil, err
	}

	sealed, err := base64.URLEncoding.DecodeString(sealedB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSealedValue, err)
	}
	if len(sealed) < gcmNonceSizeBytes {
		return nil, fmt.Errorf("%w: length %d, minimum %d", ErrCiphertextTooShort, len(sealed), gcmNonceSizeBytes)
	}

	plaintext, err := aesgcm.Open(nil, sealed[:gcmNonceSizeBytes], sealed[gcmNonceSizeBytes:], nil)
	if err != nil {
		// "cipher: message authentication failed" says nothing more than this.
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(aesKeyHex string) (cipher.AEAD, error) {
	key, err := hex.DecodeString(aesKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode AES key from hex: %w", err)
	}
	if len(key) != aes256KeyBytes {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAESKeySize, aes256KeyBytes, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher block: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return aesgcm, nil
}
