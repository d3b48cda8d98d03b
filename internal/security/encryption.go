package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// ErrDecryption is returned when a sealed payload fails authentication
var ErrDecryption = errors.New("decryption failed")

// EncryptionConfig defines the scrypt and AES-GCM parameters
type EncryptionConfig struct {
	SCryptN      int // CPU/memory cost parameter
	SCryptR      int
	SCryptP      int
	SCryptKeyLen int // 32 for AES-256
	SaltSize     int
	NonceSize    int // 96-bit nonce for GCM
}

// DefaultEncryptionConfig returns the production parameters
func DefaultEncryptionConfig() *EncryptionConfig {
	return &EncryptionConfig{
		SCryptN:      32768,
		SCryptR:      8,
		SCryptP:      1,
		SCryptKeyLen: 32,
		SaltSize:     32,
		NonceSize:    12,
	}
}

// ValidateEncryptionConfig rejects parameters weaker than AES-256-GCM needs
func ValidateEncryptionConfig(cfg *EncryptionConfig) error {
	if cfg == nil {
		return errors.New("encryption config is required")
	}
	if cfg.SCryptN < 2 || cfg.SCryptN&(cfg.SCryptN-1) != 0 {
		return fmt.Errorf("scrypt N must be a power of two > 1, got %d", cfg.SCryptN)
	}
	if cfg.SCryptR < 1 || cfg.SCryptP < 1 {
		return errors.New("scrypt r and p must be positive")
	}
	if cfg.SCryptKeyLen != 32 {
		return fmt.Errorf("key length must be 32 bytes for AES-256, got %d", cfg.SCryptKeyLen)
	}
	if cfg.SaltSize < 16 {
		return fmt.Errorf("salt must be at least 16 bytes, got %d", cfg.SaltSize)
	}
	if cfg.NonceSize != 12 {
		return fmt.Errorf("GCM nonce must be 12 bytes, got %d", cfg.NonceSize)
	}
	return nil
}

// Sealed is an AES-256-GCM payload with its key-derivation salt
type Sealed struct {
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte // includes the GCM tag
}

// Seal encrypts plaintext with a key derived from secret and a fresh random
// salt. aad is authenticated but not encrypted.
func Seal(plaintext, secret, aad []byte, cfg *EncryptionConfig) (*Sealed, error) {
	if cfg == nil {
		cfg = DefaultEncryptionConfig()
	}
	if len(secret) == 0 {
		return nil, errors.New("secret cannot be empty")
	}

	salt := make([]byte, cfg.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, cfg.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	gcm, err := newGCM(secret, salt, cfg)
	if err != nil {
		return nil, err
	}

	return &Sealed{
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, aad),
	}, nil
}

// Open reverses Seal. Any tampering, wrong secret or wrong aad yields
// ErrDecryption.
func Open(s *Sealed, secret, aad []byte, cfg *EncryptionConfig) ([]byte, error) {
	if cfg == nil {
		cfg = DefaultEncryptionConfig()
	}
	if s == nil || len(s.Salt) == 0 || len(s.Nonce) != cfg.NonceSize {
		return nil, fmt.Errorf("%w: malformed payload", ErrDecryption)
	}

	gcm, err := newGCM(secret, s.Salt, cfg)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, s.Nonce, s.Ciphertext, aad)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

func newGCM(secret, salt []byte, cfg *EncryptionConfig) (cipher.AEAD, error) {
	key, err := scrypt.Key(secret, salt, cfg.SCryptN, cfg.SCryptR, cfg.SCryptP, cfg.SCryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// HardwareTag returns HMAC-SHA256(secret, hardwareID) truncated to 16 hex chars
func HardwareTag(secret []byte, hardwareID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(hardwareID))
	return hex.EncodeToString(mac.Sum(nil))[:16]
}

// SecureCompare performs constant-time string comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
