package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSSource reads documents from a Google Cloud Storage bucket.
type GCSSource struct {
	client   *storage.Client
	bucket   *storage.BucketHandle
	name     string
	maxBytes int64
}

func NewGCSSource(ctx context.Context, cfg config.GCSConfig, maxBytes int64) (*GCSSource, error) {
	var opts []option.ClientOption
	switch {
	case cfg.Anonymous:
		opts = append(opts, option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs client: %w", err)
	}
	return &GCSSource{
		client:   client,
		bucket:   client.Bucket(cfg.Bucket),
		name:     cfg.Bucket,
		maxBytes: maxBytes,
	}, nil
}

func (s *GCSSource) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, s.mapError(ctx, key, err)
	}
	defer r.Close()
	if s.maxBytes > 0 && r.Attrs.Size > s.maxBytes {
		return nil, tooLarge(key, s.maxBytes)
	}
	return readLimited(r, key, s.maxBytes)
}

func (s *GCSSource) Close() error {
	return s.client.Close()
}

func (s *GCSSource) mapError(ctx context.Context, key string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var gerr *googleapi.Error
	if errors.Is(err, storage.ErrObjectNotExist) || (errors.As(err, &gerr) && gerr.Code == http.StatusNotFound) {
		return apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "document %s not found", key)
	}
	return fmt.Errorf("%w: gcs %s/%s: %w", apperrors.ErrSourceUnavailable, s.name, key, err)
}
