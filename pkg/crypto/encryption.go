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
	"sync"
)

var (
	// Global encryption instance
	globalEncryptor *Encryptor
	once            sync.Once

	// Errors
	ErrInvalidKey        = errors.New("encryption key must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Encryptor handles AES-256-GCM encryption/decryption, with an optional
// previous-key AEAD for credential rotation.
type Encryptor struct {
	key     []byte
	gcm     cipher.AEAD
	prevGCM cipher.AEAD
	mu      sync.RWMutex
}

func newGCM(key []byte) (cipher.AEAD, []byte, error) {
	if len(key) != 32 {
		// If key is not 32 bytes, derive a 32-byte key using SHA-256
		hash := sha256.Sum256(key)
		key = hash[:]
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, key, nil
}

// NewEncryptor creates a new encryptor with the given key
func NewEncryptor(key []byte) (*Encryptor, error) {
	gcm, normalized, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Encryptor{key: normalized, gcm: gcm}, nil
}

// NewEncryptorWithPrevious creates an encryptor that seals under key but can
// still open ciphertext sealed under previousKey, the grace window a key
// rotation needs so in-flight OAuth credentials aren't invalidated mid-swap.
func NewEncryptorWithPrevious(key, previousKey []byte) (*Encryptor, error) {
	e, err := NewEncryptor(key)
	if err != nil {
		return nil, err
	}
	if len(previousKey) == 0 {
		return e, nil
	}
	prevGCM, _, err := newGCM(previousKey)
	if err != nil {
		return nil, fmt.Errorf("previous key: %w", err)
	}
	e.prevGCM = prevGCM
	return e, nil
}

// Init initializes the global encryptor using ENCRYPTION_KEY env var, plus
// an optional ENCRYPTION_KEY_PREVIOUS for a rotation in progress.
func Init() error {
	var initErr error
	once.Do(func() {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			// Fall back to JWT secret if encryption key not set
			key = os.Getenv("SUPABASE_JWT_SECRET")
		}
		if key == "" {
			initErr = errors.New("ENCRYPTION_KEY or SUPABASE_JWT_SECRET must be set")
			return
		}

		var previous []byte
		if prev := os.Getenv("ENCRYPTION_KEY_PREVIOUS"); prev != "" {
			previous = []byte(prev)
		}

		enc, err := NewEncryptorWithPrevious([]byte(key), previous)
		if err != nil {
			initErr = err
			return
		}
		globalEncryptor = enc
	})
	return initErr
}

// GetEncryptor returns the global encryptor instance
func GetEncryptor() *Encryptor {
	return globalEncryptor
}

// Encrypt encrypts plaintext and returns base64-encoded ciphertext. Always
// sealed under the current key, so re-encrypting any value (a token refresh,
// a manual re-save) migrates it off a retiring key.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts base64-encoded ciphertext. It tries the current key
// first and, if that fails and a previous key is configured, falls back to
// it — a credential written before a key rotation has no self-describing
// tag saying which key sealed it, so GCM's own authentication tag is what
// decides which key it opens under.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	if plaintext, err := open(e.gcm, data); err == nil {
		return plaintext, nil
	}
	if e.prevGCM != nil {
		if plaintext, err := open(e.prevGCM, data); err == nil {
			return plaintext, nil
		}
	}
	return "", ErrDecryptionFailed
}

func open(gcm cipher.AEAD, data []byte) (string, error) {
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	nonce, encrypted := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// EncryptToken encrypts an OAuth token
func (e *Encryptor) EncryptToken(token string) (string, error) {
	return e.Encrypt(token)
}

// DecryptToken decrypts an OAuth token
func (e *Encryptor) DecryptToken(encryptedToken string) (string, error) {
	return e.Decrypt(encryptedToken)
}

// EncryptCredentialPair encrypts an access/refresh token pair together. The
// pair shares a key epoch: a rotation swaps both strings in the same write
// rather than leaving a user's two token fields sealed under different
// generations of ENCRYPTION_KEY.
func (e *Encryptor) EncryptCredentialPair(access, refresh string) (accessEnc, refreshEnc string, err error) {
	accessEnc, err = e.Encrypt(access)
	if err != nil {
		return "", "", fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc, err = e.Encrypt(refresh)
	if err != nil {
		return "", "", fmt.Errorf("encrypt refresh token: %w", err)
	}
	return accessEnc, refreshEnc, nil
}

// DecryptCredentialPair decrypts a stored access/refresh token pair.
func (e *Encryptor) DecryptCredentialPair(accessEnc, refreshEnc string) (access, refresh string, err error) {
	access, err = e.Decrypt(accessEnc)
	if err != nil {
		return "", "", fmt.Errorf("decrypt access token: %w", err)
	}
	refresh, err = e.Decrypt(refreshEnc)
	if err != nil {
		return "", "", fmt.Errorf("decrypt refresh token: %w", err)
	}
	return access, refresh, nil
}

// Global convenience functions

// Encrypt encrypts using the global encryptor
func Encrypt(plaintext string) (string, error) {
	if globalEncryptor == nil {
		if err := Init(); err != nil {
			return "", err
		}
	}
	return globalEncryptor.Encrypt(plaintext)
}

// Decrypt decrypts using the global encryptor
func Decrypt(ciphertext string) (string, error) {
	if globalEncryptor == nil {
		if err := Init(); err != nil {
			return "", err
		}
	}
	return globalEncryptor.Decrypt(ciphertext)
}

// EncryptToken encrypts an OAuth token using the global encryptor
func EncryptToken(token string) (string, error) {
	return Encrypt(token)
}

// DecryptToken decrypts an OAuth token using the global encryptor
func DecryptToken(encryptedToken string) (string, error) {
	return Decrypt(encryptedToken)
}

// EncryptCredentialPair encrypts an access/refresh token pair using the
// global encryptor (see Encryptor.EncryptCredentialPair).
func EncryptCredentialPair(access, refresh string) (accessEnc, refreshEnc string, err error) {
	if globalEncryptor == nil {
		if err := Init(); err != nil {
			return "", "", err
		}
	}
	return globalEncryptor.EncryptCredentialPair(access, refresh)
}

// DecryptCredentialPair decrypts an access/refresh token pair using the
// global encryptor (see Encryptor.DecryptCredentialPair).
func DecryptCredentialPair(accessEnc, refreshEnc string) (access, refresh string, err error) {
	if globalEncryptor == nil {
		if err := Init(); err != nil {
			return "", "", err
		}
	}
	return globalEncryptor.DecryptCredentialPair(accessEnc, refreshEnc)
}

// IsEncrypted checks if a string appears to be encrypted (base64 with proper length)
func IsEncrypted(s string) bool {
	if s == "" {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}

	// Minimum length: nonce (12 bytes) + tag (16 bytes) = 28 bytes
	return len(decoded) >= 28
}
