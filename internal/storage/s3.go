package storage

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jittakal/loglake/internal/errors"
	"github.com/jittakal/loglake/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.ObjectStore = (*S3Store)(nil)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
}

// S3Store implements storage.ObjectStore for AWS S3. It provides multipart
// upload support, server-side encryption (SSE), and not-found mapping for
// the query side.
type S3Store struct {
	client      *s3.Client
	uploader    *manager.Uploader
	bucket      string
	sseEnabled  bool
	sseKMSKeyID string
	logger      *slog.Logger
	metrics     MetricsCollector
}

// NewS3Store creates a new S3 object store.
func NewS3Store(cfg S3Config, logger *slog.Logger, metrics MetricsCollector) (*S3Store, error) {
	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	uploader := manager.NewUploader(s3Client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024 // 10MB parts
		u.Concurrency = 5
	})

	logger.Info("S3 store created",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"sse_enabled", cfg.SSEEnabled,
	)

	return &S3Store{
		client:      s3Client,
		uploader:    uploader,
		bucket:      cfg.Bucket,
		sseEnabled:  cfg.SSEEnabled,
		sseKMSKeyID: cfg.SSEKMSKeyID,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// Put uploads one object at the key.
func (s *S3Store) Put(ctx context.Context, key string, body []byte) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(strings.TrimPrefix(key, "/")),
		Body:   bytes.NewReader(body),
	}

	if s.sseEnabled {
		if s.sseKMSKeyID != "" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(s.sseKMSKeyID)
		} else {
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}

	result, err := s.uploader.Upload(ctx, input)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncStorageErrors("s3", "put")
		}
		return &errors.StorageError{Operation: "put", Key: key, Err: err}
	}

	s.logger.Debug("wrote object",
		"backend", "s3",
		"bucket", s.bucket,
		"key", key,
		"size", len(body),
		"location", result.Location,
	)
	return nil
}

// Get downloads the object at the key. A NoSuchKey response maps to
// ErrObjectNotFound.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(strings.TrimPrefix(key, "/")),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if stderrors.As(err, &noKey) {
			if s.metrics != nil {
				s.metrics.IncObjectsMissing("s3")
			}
			return nil, &errors.StorageError{Operation: "get", Key: key, Err: errors.ErrObjectNotFound}
		}
		if s.metrics != nil {
			s.metrics.IncStorageErrors("s3", "get")
		}
		return nil, &errors.StorageError{Operation: "get", Key: key, Err: err}
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncStorageErrors("s3", "get")
		}
		return nil, &errors.StorageError{Operation: "get", Key: key, Err: err}
	}

	if s.metrics != nil {
		s.metrics.IncObjectsRead("s3")
	}
	return body, nil
}

// List returns the keys of all objects under the prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(strings.TrimPrefix(prefix, "/")),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if s.metrics != nil {
				s.metrics.IncStorageErrors("s3", "list")
			}
			return nil, &errors.StorageError{Operation: "list", Key: prefix, Err: err}
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	return keys, nil
}

// Close closes the store.
func (s *S3Store) Close() error {
	s.logger.Info("closing S3 store")
	return nil
}
