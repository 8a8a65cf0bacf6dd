// Package storage uploads request and profile pictures to an S3-compatible
// object store and returns their public URLs.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tbourn/go-prayer-backend/internal/config"
)

// MaxImageBytes caps a single upload.
const MaxImageBytes = 5 << 20

// Category namespaces object keys.
type Category string

const (
	CategoryRequest Category = "request"
	CategoryProfile Category = "profile"
)

var (
	ErrEmpty           = errors.New("image is empty")
	ErrTooLarge        = errors.New("image exceeds 5MB limit")
	ErrUnsupportedType = errors.New("unsupported image type, only JPEG, PNG, GIF and WebP are allowed")
	ErrBadCategory     = errors.New("unknown image category")
	ErrUploadFailed    = errors.New("failed to upload image")
	ErrBucketSetup     = errors.New("failed to prepare storage bucket")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Validate sniffs data and returns its content type and file extension.
// The client-declared content type is never trusted.
func Validate(data []byte) (contentType, ext string, err error) {
	switch {
	case len(data) == 0:
		return "", "", ErrEmpty
	case len(data) > MaxImageBytes:
		return "", "", ErrTooLarge
	}
	ct := http.DetectContentType(data)
	ext, ok := extensions[ct]
	if !ok {
		return "", "", ErrUnsupportedType
	}
	return ct, ext, nil
}

// objectAPI is the subset of *minio.Client used by ImageStore.
type objectAPI interface {
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
}

// ImageStore writes validated images under <category>/<uuid><ext>.
type ImageStore struct {
	client     objectAPI
	bucket     string
	publicBase string
}

// New connects to the object store described by cfg. When
// cfg.PublicBaseURL is empty, URLs point straight at the endpoint.
func New(cfg config.StorageConfig) (*ImageStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	base := cfg.PublicBaseURL
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	return newImageStore(client, cfg.Bucket, base), nil
}

func newImageStore(client objectAPI, bucket, publicBase string) *ImageStore {
	return &ImageStore{client: client, bucket: bucket, publicBase: strings.TrimRight(publicBase, "/")}
}

// EnsureBucket creates the bucket when it does not exist.
func (s *ImageStore) EnsureBucket(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBucketSetup, err)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("%w: %v", ErrBucketSetup, err)
	}
	return nil
}

// Put validates data and uploads it, returning the public URL.
func (s *ImageStore) Put(ctx context.Context, category Category, data []byte) (string, error) {
	if category != CategoryRequest && category != CategoryProfile {
		return "", ErrBadCategory
	}
	ct, ext, err := Validate(data)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/%s%s", category, uuid.NewString(), ext)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: ct,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return s.publicBase + "/" + (&url.URL{Path: key}).EscapedPath(), nil
}
