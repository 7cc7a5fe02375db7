package sink

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileSink writes to a hidden temp file next to the destination and renames
// it into place on Close, so readers never see a partial recording.
type FileSink struct {
	path string
	tmp  *os.File
	done bool
}

// NewFileSink creates the destination directory and the temp file.
func NewFileSink(path string) (*FileSink, error) {
	path = expandHome(path)
	if path == "" {
		return nil, fmt.Errorf("output path is empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create output file in %s: %w", dir, err)
	}
	return &FileSink{path: path, tmp: tmp}, nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	if s.done {
		return 0, errAlreadyClosed
	}
	return s.tmp.Write(p)
}

// Close flushes the temp file and renames it to the destination.
func (s *FileSink) Close() error {
	if s.done {
		return errAlreadyClosed
	}
	s.done = true

	if err := s.tmp.Sync(); err != nil {
		s.cleanup()
		return fmt.Errorf("failed to sync %s: %w", s.tmp.Name(), err)
	}
	if err := s.tmp.Close(); err != nil {
		_ = os.Remove(s.tmp.Name())
		return fmt.Errorf("failed to close %s: %w", s.tmp.Name(), err)
	}
	if err := os.Chmod(s.tmp.Name(), 0o644); err != nil {
		slog.Debug("Failed to set output file mode", "file", s.tmp.Name(), "error", err)
	}
	if err := os.Rename(s.tmp.Name(), s.path); err != nil {
		_ = os.Remove(s.tmp.Name())
		return fmt.Errorf("failed to move recording to %s: %w", s.path, err)
	}
	return nil
}

// Discard removes the temp file. It is a no-op after Close.
func (s *FileSink) Discard() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.cleanup()
}

func (s *FileSink) cleanup() error {
	_ = s.tmp.Close()
	if err := os.Remove(s.tmp.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", s.tmp.Name(), err)
	}
	return nil
}

// Location is the final path of the recording.
func (s *FileSink) Location() string {
	return s.path
}
