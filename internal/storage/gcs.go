package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/jittakal/loglake/internal/errors"
	pkgstorage "github.com/jittakal/loglake/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgstorage.ObjectStore = (*GCSStore)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
}

// GCSStore implements storage.ObjectStore for Google Cloud Storage. It
// supports multiple authentication methods (service account file, JSON,
// default credentials).
type GCSStore struct {
	client  *storage.Client
	bucket  string
	logger  *slog.Logger
	metrics MetricsCollector
}

// NewGCSStore creates a new Google Cloud Storage object store.
func NewGCSStore(cfg GCSConfig, logger *slog.Logger, metrics MetricsCollector) (*GCSStore, error) {
	ctx := context.Background()

	var clientOpts []option.ClientOption
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}

	if cfg.UseDefaultCredential {
		// Application default credentials via GOOGLE_APPLICATION_CREDENTIALS
		// or the ambient service account.
		logger.Info("using default GCP credentials")
	} else if cfg.CredentialsJSON != "" {
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		logger.Info("using GCP credentials from JSON string")
	} else if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info("using GCP credentials from file", "file", cfg.CredentialsFile)
	} else {
		logger.Info("no explicit credentials provided, using default GCP credentials")
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	logger.Info("GCS store created",
		"bucket", cfg.Bucket,
		"project_id", cfg.ProjectID,
	)

	return &GCSStore{
		client:  client,
		bucket:  cfg.Bucket,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Put writes one object at the key.
func (s *GCSStore) Put(ctx context.Context, key string, body []byte) error {
	obj := s.client.Bucket(s.bucket).Object(strings.TrimPrefix(key, "/"))
	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := w.Write(body); err != nil {
		w.Close()
		if s.metrics != nil {
			s.metrics.IncStorageErrors("gcs", "put")
		}
		return &errors.StorageError{Operation: "put", Key: key, Err: err}
	}
	if err := w.Close(); err != nil {
		if s.metrics != nil {
			s.metrics.IncStorageErrors("gcs", "put")
		}
		return &errors.StorageError{Operation: "put", Key: key, Err: err}
	}

	s.logger.Debug("wrote object", "backend", "gcs", "key", key, "size", len(body))
	return nil
}

// Get reads the object at the key. ErrObjectNotExist maps to
// ErrObjectNotFound.
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj := s.client.Bucket(s.bucket).Object(strings.TrimPrefix(key, "/"))
	r, err := obj.NewReader(ctx)
	if err != nil {
		if stderrors.Is(err, storage.ErrObjectNotExist) {
			if s.metrics != nil {
				s.metrics.IncObjectsMissing("gcs")
			}
			return nil, &errors.StorageError{Operation: "get", Key: key, Err: errors.ErrObjectNotFound}
		}
		if s.metrics != nil {
			s.metrics.IncStorageErrors("gcs", "get")
		}
		return nil, &errors.StorageError{Operation: "get", Key: key, Err: err}
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncStorageErrors("gcs", "get")
		}
		return nil, &errors.StorageError{Operation: "get", Key: key, Err: err}
	}

	if s.metrics != nil {
		s.metrics.IncObjectsRead("gcs")
	}
	return body, nil
}

// List returns the keys of all objects under the prefix.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix: strings.TrimPrefix(prefix, "/"),
	})
	for {
		attrs, err := it.Next()
		if stderrors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			if s.metrics != nil {
				s.metrics.IncStorageErrors("gcs", "list")
			}
			return nil, &errors.StorageError{Operation: "list", Key: prefix, Err: err}
		}
		keys = append(keys, attrs.Name)
	}

	return keys, nil
}

// Close closes the store.
func (s *GCSStore) Close() error {
	s.logger.Info("closing GCS store")
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
