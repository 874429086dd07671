package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"ex-feedsync/pkg/feed"
)

// SchemeGCS is the URL scheme served by GCSStore.
const SchemeGCS = "gs"

// GCSConfig configures the Google Cloud Storage client.
type GCSConfig struct {
	// CredentialsFile is a service account key path. Empty uses application
	// default credentials.
	CredentialsFile string `json:"credentials_file"`
	// Endpoint overrides the storage API endpoint, for emulators.
	Endpoint string `json:"endpoint"`
	// Anonymous disables authentication, for public buckets and emulators.
	Anonymous bool `json:"anonymous"`
	// MaxBytes bounds one object read. Zero uses DefaultMaxBytes.
	MaxBytes int64 `json:"max_bytes"`
}

type objectOpener func(ctx context.Context, bucket string, object string) (io.ReadCloser, error)

// GCSStore fetches media addressed as gs://bucket/object.
type GCSStore struct {
	open     objectOpener
	closeFn  func() error
	maxBytes int64
	logger   *slog.Logger
}

// NewGCSStore creates a GCS-backed media store.
func NewGCSStore(ctx context.Context, cfg GCSConfig, logger *slog.Logger) (*GCSStore, error) {
	var options []option.ClientOption
	if cfg.CredentialsFile != "" {
		options = append(options, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		options = append(options, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Anonymous {
		options = append(options, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("new gcs media store: %w", err)
	}

	store := newGCSStore(func(ctx context.Context, bucket string, object string) (io.ReadCloser, error) {
		return client.Bucket(bucket).Object(object).NewReader(ctx)
	}, cfg.MaxBytes, logger)
	store.closeFn = client.Close

	return store, nil
}

func newGCSStore(open objectOpener, maxBytes int64, logger *slog.Logger) *GCSStore {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &GCSStore{
		open:     open,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// FetchBytes returns the object addressed by rawURL.
func (s *GCSStore) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	bucket, object, err := parseGCSURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch gcs media: %w", err)
	}

	reader, err := s.open(ctx, bucket, object)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("fetch gcs media %s: %w", rawURL, feed.ErrMediaNotFound)
		}
		return nil, feed.ClassifyFetchError("fetch gcs media "+rawURL, err, feed.FetchErrorServer)
	}
	defer func() {
		if closeErr := reader.Close(); closeErr != nil {
			s.logger.WarnContext(ctx, "close gcs reader failed", "url", rawURL, "error", closeErr)
		}
	}()

	data, err := readLimited(reader, s.maxBytes)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, fmt.Errorf("fetch gcs media %s: %w", rawURL, err)
		}
		return nil, feed.ClassifyFetchError("read gcs media "+rawURL, err, feed.FetchErrorNetwork)
	}

	return data, nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	if s.closeFn == nil {
		return nil
	}
	if err := s.closeFn(); err != nil {
		return fmt.Errorf("close gcs media store: %w", err)
	}

	return nil
}

func parseGCSURL(rawURL string) (string, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: parse %q: %v", feed.ErrInvalidQuery, rawURL, err)
	}
	if !strings.EqualFold(parsed.Scheme, SchemeGCS) {
		return "", "", fmt.Errorf("%w: scheme %q is not %s", feed.ErrInvalidQuery, parsed.Scheme, SchemeGCS)
	}

	object := strings.TrimPrefix(parsed.Path, "/")
	if parsed.Host == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q needs gs://bucket/object", feed.ErrInvalidQuery, rawURL)
	}

	return parsed.Host, object, nil
}
