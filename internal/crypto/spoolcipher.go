// Package crypto provides AES-256-GCM authenticated encryption for audit
// entries that must sit on local disk while the database is unreachable. The
// spool file carries the same PHI-adjacent detail as the audit_logs table
// (client ids, resource ids, access metadata), but unlike the database it
// lives on the application host's filesystem, so it gets its own at-rest
// protection. AES-256-GCM is chosen because it provides both confidentiality
// and authenticated integrity: a spool line that was tampered with on disk
// fails authentication instead of replaying altered audit history.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrKeyLengthInvalid is returned when a key is not exactly 32 bytes (required for AES-256).
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrLineCorrupted is returned when a sealed line fails base64 decoding or is too short to contain a valid nonce.
	ErrLineCorrupted = errors.New("crypto: sealed line is corrupted or tampered")
	// ErrDecryptionFailed is returned when AES-GCM authentication or decryption fails, indicating tampering or a wrong key.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
)

const deriveIterations = 100000

// SpoolCipher seals and opens individual audit spool lines.
type SpoolCipher struct {
	key []byte
}

// NewSpoolCipher creates a cipher with a 32-byte key.
func NewSpoolCipher(key []byte) (*SpoolCipher, error) {
	if len(key) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	keyCopy := make([]byte, 32)
	copy(keyCopy, key)
	return &SpoolCipher{key: keyCopy}, nil
}

// DeriveSpoolCipher derives a cipher key from a passphrase via PBKDF2. The
// salt is persisted at saltPath (created on first use) so the same passphrase
// yields the same key across restarts; without that, entries spooled before a
// restart could never be replayed.
func DeriveSpoolCipher(passphrase, saltPath string) (*SpoolCipher, error) {
	salt, err := loadOrCreateSalt(saltPath)
	if err != nil {
		return nil, err
	}
	key := pbkdf2.Key([]byte(passphrase), salt, deriveIterations, 32, sha256.New)
	return NewSpoolCipher(key)
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) < 16 {
			return nil, fmt.Errorf("crypto: salt file %s is too short", path)
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("crypto: read salt file: %w", err)
	}

	salt = make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("crypto: create salt directory: %w", err)
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("crypto: write salt file: %w", err)
	}
	return salt, nil
}

// Seal encrypts one plaintext line and returns a base64-encoded sealed line.
func (sc *SpoolCipher) Seal(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}

	blockCipher, err := aes.NewCipher(sc.key)
	if err != nil {
		return "", err
	}

	aead, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a base64-encoded sealed line and returns the plaintext.
func (sc *SpoolCipher) Open(sealedLine string) ([]byte, error) {
	if sealedLine == "" {
		return nil, nil
	}

	sealed, err := base64.URLEncoding.DecodeString(sealedLine)
	if err != nil {
		return nil, ErrLineCorrupted
	}

	blockCipher, err := aes.NewCipher(sc.key)
	if err != nil {
		return nil, err
	}

	aead, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return nil, err
	}

	nonceLen := aead.NonceSize()
	if len(sealed) < nonceLen {
		return nil, ErrLineCorrupted
	}

	nonce := sealed[:nonceLen]
	ciphertext := sealed[nonceLen:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// GenerateKey creates a cryptographically secure random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
