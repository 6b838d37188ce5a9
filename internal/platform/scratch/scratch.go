// Package scratch provides run-scoped working directories for intermediate
// conversion artifacts.
package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrClosed = errors.New("scratch space closed")

// Space is a directory owned by one run. The owner calls Close when the run
// ends; components that convert on demand only write into it.
type Space struct {
	mu     sync.Mutex
	dir    string
	closed bool
}

// New creates root/run-<runID>. An empty root uses the OS temp directory.
func New(root, runID string) (*Space, error) {
	if root == "" {
		root = os.TempDir()
	}
	if runID == "" || strings.ContainsAny(runID, `/\`) {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}
	dir := filepath.Join(root, "run-"+runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Space{dir: dir}, nil
}

func (s *Space) Dir() string { return s.dir }

// Path returns the location of name inside the space.
func (s *Space) Path(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid scratch file name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Remove deletes one file of the space. Missing files are not an error.
func (s *Space) Remove(name string) error {
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Close removes the space and everything in it.
func (s *Space) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return os.RemoveAll(s.dir)
}
