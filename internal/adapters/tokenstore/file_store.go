package tokenstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gitlab.com/timkado/api/loanguard-gateway/internal/session"
	"gitlab.com/timkado/api/loanguard-gateway/pkg/crypto"
)

const (
	// StorageKey is the file name the token is persisted under.
	StorageKey = "lg_token"
	// KeyEnv names the hex AES-256 key used to encrypt the token at rest.
	KeyEnv = "LOANGUARD_TOKEN_KEY"
	// DirEnv overrides the directory holding the token file.
	DirEnv = "LOANGUARD_CONFIG_DIR"
)

// DefaultPath resolves where the token lives.
// Precedence:
//  1. LOANGUARD_CONFIG_DIR/lg_token, if set and non-empty
//  2. os.UserConfigDir()/loanguard/lg_token
func DefaultPath() (string, error) {
	if dir, ok := os.LookupEnv(DirEnv); ok && dir != "" {
		return filepath.Join(dir, StorageKey), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config directory: %w", err)
	}
	return filepath.Join(dir, "loanguard", StorageKey), nil
}

// FileStore keeps the bearer token in a single 0600 file. When an AES key is
// set the file holds the sealed token instead of the plain JWT.
type FileStore struct {
	path      string
	aesKeyHex string
}

// NewFileStore creates a store at path. aesKeyHex may be empty.
func NewFileStore(path, aesKeyHex string) *FileStore {
	return &FileStore{path: path, aesKeyHex: aesKeyHex}
}

// Path returns the token file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", session.ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return "", session.ErrNoToken
	}
	if s.aesKeyHex == "" {
		return string(b), nil
	}

	plain, err := crypto.OpenAESGCM(s.aesKeyHex, string(b))
	if err != nil {
		return "", fmt.Errorf("decrypting token file: %w", err)
	}
	return string(plain), nil
}

func (s *FileStore) Save(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := []byte(token)
	if s.aesKeyHex != "" {
		sealed, err := crypto.SealAESGCM(s.aesKeyHex, data)
		if err != nil {
			return fmt.Errorf("encrypting token: %w", err)
		}
		data = []byte(sealed)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, os.FileMode(0o600)); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Clear removes the token file. It runs even on a cancelled context so a
// logout always takes effect on disk.
func (s *FileStore) Clear(context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}
