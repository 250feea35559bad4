package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jittakal/loglake/internal/errors"
	"github.com/jittakal/loglake/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.ObjectStore = (*FileStore)(nil)

// MetricsCollector defines metrics operations for object stores.
type MetricsCollector interface {
	IncStorageErrors(backend string, operation string)
	IncObjectsRead(backend string)
	IncObjectsMissing(backend string)
}

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileStore implements storage.ObjectStore on the local filesystem. Object
// keys map to file paths under the base path.
type FileStore struct {
	basePath string
	logger   *slog.Logger
	metrics  MetricsCollector
}

// NewFileStore creates a new filesystem object store.
func NewFileStore(config FileConfig, logger *slog.Logger, metrics MetricsCollector) (*FileStore, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	logger.Info("filesystem store created", "base_path", config.BasePath)

	return &FileStore{
		basePath: config.BasePath,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Put writes one object at the key. The write goes through a temp file and
// rename so a crashed flush never leaves a half-written object visible.
func (s *FileStore) Put(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		if s.metrics != nil {
			s.metrics.IncStorageErrors("file", "mkdir")
		}
		return &errors.StorageError{Operation: "put", Key: key, Err: err}
	}

	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, body, 0644); err != nil {
		if s.metrics != nil {
			s.metrics.IncStorageErrors("file", "put")
		}
		return &errors.StorageError{Operation: "put", Key: key, Err: err}
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		os.Remove(tmp)
		if s.metrics != nil {
			s.metrics.IncStorageErrors("file", "put")
		}
		return &errors.StorageError{Operation: "put", Key: key, Err: err}
	}

	s.logger.Debug("wrote object", "backend", "file", "key", key, "size", len(body))
	return nil
}

// Get reads the object at the key. A missing file maps to
// ErrObjectNotFound so the query side can treat it as an empty partition.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	body, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			if s.metrics != nil {
				s.metrics.IncObjectsMissing("file")
			}
			return nil, &errors.StorageError{Operation: "get", Key: key, Err: errors.ErrObjectNotFound}
		}
		if s.metrics != nil {
			s.metrics.IncStorageErrors("file", "get")
		}
		return nil, &errors.StorageError{Operation: "get", Key: key, Err: err}
	}

	if s.metrics != nil {
		s.metrics.IncObjectsRead("file")
	}
	return body, nil
}

// List returns the keys of all objects under the prefix in lexicographic
// order. A missing partition directory is an empty partition.
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.basePath, filepath.FromSlash(prefix))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		if s.metrics != nil {
			s.metrics.IncStorageErrors("file", "list")
		}
		return nil, &errors.StorageError{Operation: "list", Key: prefix, Err: err}
	}

	prefix = strings.TrimSuffix(prefix, "/")
	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		keys = append(keys, prefix+"/"+entry.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the store.
func (s *FileStore) Close() error {
	return nil
}
