package source

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Source reads documents from a MinIO or S3 bucket, one object per key.
type S3Source struct {
	cl       *minio.Client
	bucket   string
	maxBytes int64
}

func NewS3Source(cfg config.S3Config, maxBytes int64) (*S3Source, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	cl, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("creating s3 client for %s: %w", cfg.Endpoint, err)
	}
	return &S3Source{cl: cl, bucket: cfg.Bucket, maxBytes: maxBytes}, nil
}

func (s *S3Source) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	info, err := s.cl.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, s.mapError(ctx, key, err)
	}
	if s.maxBytes > 0 && info.Size > s.maxBytes {
		return nil, tooLarge(key, s.maxBytes)
	}
	obj, err := s.cl.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(ctx, key, err)
	}
	defer obj.Close()
	return readLimited(obj, key, s.maxBytes)
}

func (s *S3Source) Close() error { return nil }

func (s *S3Source) mapError(ctx context.Context, key string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "document %s not found", key)
	}
	return fmt.Errorf("%w: s3 %s/%s: %w", apperrors.ErrSourceUnavailable, s.bucket, key, err)
}
