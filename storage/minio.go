package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ruteri/object-storage-backend/interfaces"
)

// MinioOptions configures a MinioStore.
type MinioOptions struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	Region       string
	UseSSL       bool
	CreateBucket bool
	PublicRead   bool
}

// MinioStore implements an object store on MinIO or any S3-compatible service
// reachable through minio-go.
type MinioStore struct {
	client      *minio.Client
	bucket      string
	log         *slog.Logger
	locationURI string
}

// NewMinioStore creates a MinIO client and, when requested, ensures the bucket
// exists with an anonymous read policy.
func NewMinioStore(ctx context.Context, opts MinioOptions, log *slog.Logger) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	if opts.CreateBucket {
		exists, err := client.BucketExists(ctx, opts.Bucket)
		if err != nil {
			return nil, fmt.Errorf("check bucket existence: %w", err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
				return nil, fmt.Errorf("create bucket %q: %w", opts.Bucket, err)
			}
			log.Info("Created storage bucket", slog.String("bucket", opts.Bucket))
		}
	}

	if opts.PublicRead {
		if err := client.SetBucketPolicy(ctx, opts.Bucket, publicReadPolicy(opts.Bucket)); err != nil {
			return nil, fmt.Errorf("set bucket policy: %w", err)
		}
	}

	scheme := "http"
	if opts.UseSSL {
		scheme = "https"
	}
	return &MinioStore{
		client:      client,
		bucket:      opts.Bucket,
		log:         log,
		locationURI: fmt.Sprintf("minio+%s://%s/%s", scheme, opts.Endpoint, opts.Bucket),
	}, nil
}

// Put streams r to the bucket. size -1 makes minio-go buffer the stream in parts.
func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	s.log.Debug("Stored object in MinIO", slog.String("bucket", s.bucket), slog.String("key", key))
	return nil
}

func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapErr(key, "get object", err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, s.wrapErr(key, "get object", err)
	}
	return obj, nil
}

func (s *MinioStore) Remove(ctx context.Context, key string) (bool, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isMinioNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %q: %w", key, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("remove object %q: %w", key, err)
	}
	return true, nil
}

func (s *MinioStore) Stat(ctx context.Context, key string) (*interfaces.ObjectMetadata, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, s.wrapErr(key, "stat object", err)
	}
	return &interfaces.ObjectMetadata{
		Key:          key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
		ETag:         trimETag(info.ETag),
	}, nil
}

func (s *MinioStore) Available(ctx context.Context) bool {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil || !ok {
		s.log.Warn("MinIO backend unavailable", slog.String("bucket", s.bucket), "err", err)
		return false
	}
	return true
}

func (s *MinioStore) Name() string {
	return fmt.Sprintf("minio-%s", s.bucket)
}

func (s *MinioStore) LocationURI() string {
	return s.locationURI
}

// SignedURL presigns a GET request for the object.
func (s *MinioStore) SignedURL(ctx context.Context, key string, expire time.Duration, attachment bool, fileName string) (string, error) {
	params := url.Values{}
	if attachment {
		params.Set("response-content-disposition", contentDisposition(fileName))
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expire, params)
	if err != nil {
		return "", fmt.Errorf("presign object %q: %w", key, err)
	}
	return u.String(), nil
}

func (s *MinioStore) wrapErr(key, op string, err error) error {
	if isMinioNotFound(err) {
		return fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
	}
	return fmt.Errorf("%s %q: %w", op, key, err)
}

func isMinioNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

// publicReadPolicy returns an S3 bucket policy that allows anonymous GET on all objects.
func publicReadPolicy(bucket string) string {
	policy := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Effect":    "Allow",
				"Principal": "*",
				"Action":    "s3:GetObject",
				"Resource":  fmt.Sprintf("arn:aws:s3:::%s/*", bucket),
			},
		},
	}
	b, _ := json.Marshal(policy)
	return string(b)
}
