package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FileStore keeps each namespace in its own YAML file under a directory.
// Writes go to a temporary file that is synced and renamed over the old one,
// so a power cut leaves either the old or the new file on flash.
type FileStore struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

// NewFileStore creates the directory if needed and returns a store rooted at it
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{
		dir:    dir,
		logger: logger.Named("store"),
	}, nil
}

// Namespace returns a handle to the named namespace
func (s *FileStore) Namespace(name string) Namespace {
	return &fileNamespace{store: s, name: name}
}

// Close marks the store closed
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}

type fileNamespace struct {
	store *FileStore
	name  string
}

func (n *fileNamespace) Load(ctx context.Context) (map[string]string, error) {
	if err := ValidateNamespace(n.name); err != nil {
		return nil, err
	}

	n.store.mu.Lock()
	defer n.store.mu.Unlock()

	if n.store.closed {
		return nil, ErrClosed
	}

	data, err := os.ReadFile(n.store.path(n.name))
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read namespace %s: %w", n.name, err)
	}

	values := make(map[string]string)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse namespace %s: %w", n.name, err)
	}
	return values, nil
}

func (n *fileNamespace) Replace(ctx context.Context, values map[string]string) error {
	if err := ValidateNamespace(n.name); err != nil {
		return err
	}

	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode namespace %s: %w", n.name, err)
	}

	n.store.mu.Lock()
	defer n.store.mu.Unlock()

	if n.store.closed {
		return ErrClosed
	}

	tmp, err := os.CreateTemp(n.store.dir, n.name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write namespace %s: %w", n.name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync namespace %s: %w", n.name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close namespace %s: %w", n.name, err)
	}
	if err := os.Rename(tmpName, n.store.path(n.name)); err != nil {
		return fmt.Errorf("failed to commit namespace %s: %w", n.name, err)
	}

	n.store.logger.Debug("Namespace written",
		zap.String("namespace", n.name),
		zap.Int("keys", len(values)))
	return nil
}

func (n *fileNamespace) Clear(ctx context.Context) error {
	if err := ValidateNamespace(n.name); err != nil {
		return err
	}

	n.store.mu.Lock()
	defer n.store.mu.Unlock()

	if n.store.closed {
		return ErrClosed
	}

	err := os.Remove(n.store.path(n.name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear namespace %s: %w", n.name, err)
	}
	return nil
}
