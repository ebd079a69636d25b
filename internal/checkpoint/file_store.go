// Package checkpoint persists the harvest resume offset as a single
// plain-text integer file.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// FileStore reads and writes the checkpoint file. The offset counts how
// many records of the stably ordered stream have been fully processed; it
// is the only pipeline state that survives across runs.
type FileStore struct {
	path   string
	logger *zap.Logger
}

// NewFileStore builds a FileStore for the given path. The file does not
// need to exist yet.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger}, nil
}

// Load returns the saved offset. A missing, unreadable, or corrupt file
// yields zero, never an error; corruption is logged and the walk restarts
// from the beginning.
func (s *FileStore) Load() int {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("checkpoint unreadable, starting from zero",
				zap.String("path", s.path),
				zap.Error(err))
		}
		return 0
	}
	offset, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || offset < 0 {
		s.logger.Warn("checkpoint corrupt, starting from zero",
			zap.String("path", s.path),
			zap.String("content", strings.TrimSpace(string(data))))
		return 0
	}
	return offset
}

// Save overwrites the checkpoint. The value is written to a temp file in
// the same directory and renamed over the target, so a partial write is
// never observable as a valid-looking truncated offset.
func (s *FileStore) Save(offset int) error {
	if offset < 0 {
		return fmt.Errorf("checkpoint offset must be >= 0, got %d", offset)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(strconv.Itoa(offset) + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string {
	return s.path
}
