package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/ruteri/object-storage-backend/interfaces"
)

// S3Options configures an S3Store.
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
	ACL       string
}

// S3Store implements an object store on Amazon S3 or a compatible service.
// Uploads are streamed through the s3manager uploader, so the object only
// becomes visible once the upload completes.
type S3Store struct {
	client      *s3.S3
	uploader    *s3manager.Uploader
	bucketName  string
	acl         string
	log         *slog.Logger
	locationURI string
}

// NewS3Store creates an S3 store. Without credentials the SDK's default chain
// is used.
func NewS3Store(opts S3Options, log *slog.Logger) (*S3Store, error) {
	uri := fmt.Sprintf("s3://%s?region=%s", opts.Bucket, opts.Region)
	if opts.Endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", opts.Endpoint)
	}

	cfg := aws.Config{
		Region:           aws.String(opts.Region),
		S3ForcePathStyle: aws.Bool(opts.PathStyle),
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, "")
	} else {
		log.Warn("No S3 credentials configured, falling back to the default credential chain",
			slog.String("bucket", opts.Bucket))
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	client := s3.New(sess)

	return &S3Store{
		client:      client,
		uploader:    s3manager.NewUploaderWithClient(client),
		bucketName:  opts.Bucket,
		acl:         opts.ACL,
		log:         log,
		locationURI: uri,
	}, nil
}

func (b *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	start := time.Now()
	input := &s3manager.UploadInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
		Body:   r,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if b.acl != "" {
		input.ACL = aws.String(b.acl)
	}

	if _, err := b.uploader.UploadWithContext(ctx, input); err != nil {
		b.log.Error("Failed to upload object to S3",
			slog.String("bucket", b.bucketName),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("failed to upload object to S3: %w", err)
	}

	b.log.Debug("Stored object in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (b *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	return result.Body, nil
}

// Remove deletes the object. S3 deletes are idempotent, so existence is checked first.
func (b *S3Store) Remove(ctx context.Context, key string) (bool, error) {
	if _, err := b.Stat(ctx, key); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete object from S3: %w", err)
	}
	return true, nil
}

func (b *S3Store) Stat(ctx context.Context, key string) (*interfaces.ObjectMetadata, error) {
	head, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to head object in S3: %w", err)
	}

	return &interfaces.ObjectMetadata{
		Key:          key,
		Size:         aws.Int64Value(head.ContentLength),
		ContentType:  aws.StringValue(head.ContentType),
		LastModified: aws.TimeValue(head.LastModified),
		ETag:         trimETag(aws.StringValue(head.ETag)),
	}, nil
}

// Available checks if the bucket can be reached.
func (b *S3Store) Available(ctx context.Context) bool {
	start := time.Now()
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		b.log.Warn("S3 backend unavailable",
			slog.String("bucket", b.bucketName),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return false
	}
	return true
}

func (b *S3Store) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

func (b *S3Store) LocationURI() string {
	return b.locationURI
}

// SignedURL presigns a GET request for the object.
func (b *S3Store) SignedURL(ctx context.Context, key string, expire time.Duration, attachment bool, fileName string) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	}
	if attachment {
		input.ResponseContentDisposition = aws.String(contentDisposition(fileName))
	}
	req, _ := b.client.GetObjectRequest(input)
	req.SetContext(ctx)
	signed, err := req.Presign(expire)
	if err != nil {
		return "", fmt.Errorf("failed to presign S3 URL: %w", err)
	}
	return signed, nil
}

func isS3NotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
