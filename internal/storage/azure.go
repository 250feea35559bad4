package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/jittakal/loglake/internal/errors"
	"github.com/jittakal/loglake/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.ObjectStore = (*AzureStore)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Endpoint      string
}

// AzureStore implements storage.ObjectStore for Azure Blob Storage using
// access key authentication.
type AzureStore struct {
	client        *azblob.Client
	containerName string
	logger        *slog.Logger
	metrics       MetricsCollector
}

// connectionString builds the account connection string, pointing at a
// custom blob endpoint (e.g. Azurite) when one is configured.
func connectionString(cfg AzureConfig) string {
	if cfg.Endpoint != "" {
		return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			cfg.AccountName, cfg.AccountKey, cfg.Endpoint)
	}
	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
		cfg.AccountName, cfg.AccountKey)
}

// NewAzureStore creates a new Azure Blob object store.
func NewAzureStore(cfg AzureConfig, logger *slog.Logger, metrics MetricsCollector) (*AzureStore, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	logger.Info("Azure store created",
		"container", cfg.ContainerName,
		"account", cfg.AccountName,
	)

	return &AzureStore{
		client:        client,
		containerName: cfg.ContainerName,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Put uploads one blob at the key.
func (s *AzureStore) Put(ctx context.Context, key string, body []byte) error {
	blobPath := strings.TrimPrefix(key, "/")

	if _, err := s.client.UploadBuffer(ctx, s.containerName, blobPath, body, nil); err != nil {
		if s.metrics != nil {
			s.metrics.IncStorageErrors("azure", "put")
		}
		return &errors.StorageError{Operation: "put", Key: key, Err: err}
	}

	s.logger.Debug("wrote object", "backend", "azure", "key", key, "size", len(body))
	return nil
}

// Get downloads the blob at the key. BlobNotFound maps to
// ErrObjectNotFound.
func (s *AzureStore) Get(ctx context.Context, key string) ([]byte, error) {
	blobPath := strings.TrimPrefix(key, "/")

	resp, err := s.client.DownloadStream(ctx, s.containerName, blobPath, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			if s.metrics != nil {
				s.metrics.IncObjectsMissing("azure")
			}
			return nil, &errors.StorageError{Operation: "get", Key: key, Err: errors.ErrObjectNotFound}
		}
		if s.metrics != nil {
			s.metrics.IncStorageErrors("azure", "get")
		}
		return nil, &errors.StorageError{Operation: "get", Key: key, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncStorageErrors("azure", "get")
		}
		return nil, &errors.StorageError{Operation: "get", Key: key, Err: err}
	}

	if s.metrics != nil {
		s.metrics.IncObjectsRead("azure")
	}
	return body, nil
}

// List returns the keys of all blobs under the prefix.
func (s *AzureStore) List(ctx context.Context, prefix string) ([]string, error) {
	blobPrefix := strings.TrimPrefix(prefix, "/")
	var keys []string

	pager := s.client.NewListBlobsFlatPager(s.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &blobPrefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if s.metrics != nil {
				s.metrics.IncStorageErrors("azure", "list")
			}
			return nil, &errors.StorageError{Operation: "list", Key: prefix, Err: err}
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				keys = append(keys, *item.Name)
			}
		}
	}

	return keys, nil
}

// Close closes the store.
func (s *AzureStore) Close() error {
	s.logger.Info("Azure store closed")
	return nil
}
