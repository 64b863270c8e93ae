// Package attach stores document-request attachments in S3-compatible
// object storage.
package attach

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"leonadmin/api/internal/util"
)

// ErrNotConfigured is returned when attachment storage is disabled.
var ErrNotConfigured = errors.New("attachment storage not configured")

type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and makes sure the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &Service{client: client, bucket: bucket}, nil
}

// Upload stores the payload and returns the object key recorded on the
// document request.
func (s *Service) Upload(ctx context.Context, requestID, filename, contentType string, data []byte) (string, error) {
	if s == nil {
		return "", ErrNotConfigured
	}
	key := fmt.Sprintf("%s/%s-%s", requestID, util.NewID(""), filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload attachment: %w", err)
	}
	return key, nil
}

// PresignedURL returns a short-lived download link for an attachment.
func (s *Service) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if s == nil {
		return "", ErrNotConfigured
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign attachment: %w", err)
	}
	return u.String(), nil
}
