// Package attach stores uploaded datasets and generated artifacts on
// disk and hands out opaque references the pipeline can carry in run
// state instead of file contents.
package attach

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/interflow/types"
)

// Store persists opaque binary blobs keyed by generated references.
type Store interface {
	// Save writes the content and returns its reference.
	Save(name string, r io.Reader) (ref string, err error)
	// Open returns a reader for the referenced blob.
	Open(ref string) (io.ReadCloser, error)
	// Path resolves a reference to a filesystem path when the store is
	// file backed, for executors that mount files directly.
	Path(ref string) (string, error)
}

// LocalConfig configures the filesystem-backed store.
type LocalConfig struct {
	// Dir is the root directory for stored blobs.
	Dir string `yaml:"dir" json:"dir"`
	// MaxBytes caps one upload; zero means 50 MiB.
	MaxBytes int64 `yaml:"max_bytes" json:"max_bytes"`
}

// DefaultLocalConfig returns the default attachment store configuration.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{Dir: "uploads", MaxBytes: 50 << 20}
}

// LocalStore keeps blobs in a flat directory. References are random uuid
// names with the original extension kept, so client filenames never touch
// the filesystem.
type LocalStore struct {
	cfg    LocalConfig
	logger *zap.Logger
}

// NewLocalStore creates the root directory and returns the store.
func NewLocalStore(cfg LocalConfig, logger *zap.Logger) (*LocalStore, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultLocalConfig().Dir
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultLocalConfig().MaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}
	return &LocalStore{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "attach_store")),
	}, nil
}

func (s *LocalStore) Save(name string, r io.Reader) (string, error) {
	ext := filepath.Ext(name)
	if len(ext) > 16 {
		ext = ""
	}
	ref := uuid.NewString() + ext

	f, err := os.Create(filepath.Join(s.cfg.Dir, ref))
	if err != nil {
		return "", fmt.Errorf("create attachment: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(r, s.cfg.MaxBytes+1))
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write attachment: %w", err)
	}
	if n > s.cfg.MaxBytes {
		os.Remove(f.Name())
		return "", types.Errorf(types.ErrValidationFailure, "attachment exceeds %d bytes", s.cfg.MaxBytes)
	}

	s.logger.Debug("attachment saved", zap.String("ref", ref), zap.Int64("bytes", n))
	return ref, nil
}

func (s *LocalStore) Open(ref string) (io.ReadCloser, error) {
	path, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, types.Errorf(types.ErrValidationFailure, "unknown attachment: %s", ref)
	}
	return f, err
}

// Path validates the reference shape before touching the filesystem, so
// references from run state cannot escape the store directory.
func (s *LocalStore) Path(ref string) (string, error) {
	if ref == "" || strings.ContainsAny(ref, `/\`) || strings.Contains(ref, "..") {
		return "", types.Errorf(types.ErrValidationFailure, "invalid attachment reference: %q", ref)
	}
	return filepath.Join(s.cfg.Dir, ref), nil
}
