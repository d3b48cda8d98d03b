package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"bootlicense/internal/security"
)

const storeVersion = 1

// RecordStore persists the single license record of this installation
type RecordStore interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, r *Record) error
	Clear(ctx context.Context) error
}

// envelope is the on-disk format. Only the hardware tag is in clear text.
type envelope struct {
	Version     int    `json:"version"`
	HardwareTag string `json:"hardware_tag"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// Store seals the whole record with AES-256-GCM under a key derived from
// the application secret and the current hardware id, so a copied file
// cannot be opened on another machine.
type Store struct {
	path       string
	secret     string
	hardware   security.HardwareIDProvider
	encryption *security.EncryptionConfig
	logger     *slog.Logger

	rename func(oldpath, newpath string) error
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithEncryptionConfig overrides the scrypt and GCM parameters
func WithEncryptionConfig(cfg *security.EncryptionConfig) StoreOption {
	return func(s *Store) { s.encryption = cfg }
}

// NewStore creates a Store at path
func NewStore(path, appSecret string, hardware security.HardwareIDProvider, logger *slog.Logger, opts ...StoreOption) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}
	if appSecret == "" {
		return nil, errors.New("app secret is required")
	}
	if hardware == nil {
		return nil, errors.New("hardware id provider is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		path:       path,
		secret:     appSecret,
		hardware:   hardware,
		encryption: security.DefaultEncryptionConfig(),
		logger:     logger.With(slog.String("component", "license_store")),
		rename:     os.Rename,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := security.ValidateEncryptionConfig(s.encryption); err != nil {
		return nil, fmt.Errorf("invalid encryption config: %w", err)
	}
	return s, nil
}

// Path returns the file location
func (s *Store) Path() string {
	return s.path
}

func (s *Store) keyMaterial(hardwareID string) []byte {
	return []byte(s.secret + "|" + hardwareID)
}

// Load returns the stored record. A missing, corrupt or undecryptable file
// yields (nil, nil). A file sealed on another machine yields
// ErrHardwareMismatch.
func (s *Store) Load(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		s.logger.WarnContext(ctx, "License file unreadable, treating as absent",
			slog.String("path", s.path), slog.String("error", err.Error()))
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Version != storeVersion {
		s.logger.WarnContext(ctx, "License file corrupt, treating as absent",
			slog.String("path", s.path), slog.Int("version", env.Version))
		return nil, nil
	}

	hardwareID := s.hardware.HardwareID()
	tag := security.HardwareTag([]byte(s.secret), hardwareID)
	if !security.SecureCompare(env.HardwareTag, tag) {
		s.logger.WarnContext(ctx, "License file sealed on different hardware",
			slog.String("path", s.path))
		return nil, ErrHardwareMismatch
	}

	plaintext, err := security.Open(&security.Sealed{
		Salt:       env.Salt,
		Nonce:      env.Nonce,
		Ciphertext: env.Ciphertext,
	}, s.keyMaterial(hardwareID), []byte(env.HardwareTag), s.encryption)
	if err != nil {
		s.logger.WarnContext(ctx, "License file failed authentication, treating as absent",
			slog.String("path", s.path), slog.String("error", err.Error()))
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		s.logger.WarnContext(ctx, "License payload corrupt, treating as absent",
			slog.String("path", s.path))
		return nil, nil
	}
	return &rec, nil
}

// Save seals r and atomically replaces the file. On failure the previous
// file is left untouched.
func (s *Store) Save(ctx context.Context, r *Record) error {
	if r == nil {
		return errors.New("record is required")
	}

	plaintext, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	hardwareID := s.hardware.HardwareID()
	tag := security.HardwareTag([]byte(s.secret), hardwareID)
	sealed, err := security.Seal(plaintext, s.keyMaterial(hardwareID), []byte(tag), s.encryption)
	if err != nil {
		return fmt.Errorf("failed to seal record: %w", err)
	}

	data, err := json.Marshal(envelope{
		Version:     storeVersion,
		HardwareTag: tag,
		Salt:        sealed.Salt,
		Nonce:       sealed.Nonce,
		Ciphertext:  sealed.Ciphertext,
	})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	if err := s.writeAtomic(data); err != nil {
		return err
	}

	s.logger.DebugContext(ctx, "License record saved", slog.String("path", s.path))
	return nil
}

// Clear removes the file. A missing file is not an error.
func (s *Store) Clear(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove license file: %w", err)
	}
	s.logger.InfoContext(ctx, "License record cleared", slog.String("path", s.path))
	return nil
}

func (s *Store) writeAtomic(data []byte) (err error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create license directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".license-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = s.rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace license file: %w", err)
	}
	return nil
}
