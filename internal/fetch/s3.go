// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type (
	// S3Config holds the connection settings of an S3-compatible store.
	S3Config struct {
		Endpoint  string
		Region    string
		AccessKey string
		SecretKey string
		UseSSL    bool
	}

	// S3Backend reads objects from s3://bucket/prefix/ sources.
	S3Backend struct {
		client *minio.Client
	}
)

// NewS3Backend connects to the store described by cfg. Credentials may be
// empty for anonymous access to public buckets.
func NewS3Backend(cfg S3Config) (*S3Backend, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	var creds *credentials.Credentials
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		creds = credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), "")
	} else {
		creds = credentials.NewStatic("", "", "", credentials.SignatureAnonymous)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Backend{client: client}, nil
}

// Open reads <prefix><key> from the bucket named by source.
func (b *S3Backend) Open(ctx context.Context, source, key string) (io.ReadCloser, error) {
	bucket, prefix, err := splitS3Source(source)
	if err != nil {
		return nil, err
	}

	objectKey := prefix + key
	obj, err := b.client.GetObject(ctx, bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, s3Error(err, bucket, objectKey)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller
	// starts streaming.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, s3Error(err, bucket, objectKey)
	}
	return obj, nil
}

func s3Error(err error, bucket, key string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
	default:
		return fmt.Errorf("fetching s3://%s/%s: %w", bucket, key, err)
	}
}

func splitS3Source(source string) (bucket, prefix string, err error) {
	u, err := url.Parse(source)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 source %q: want s3://bucket/prefix/", source)
	}
	prefix = strings.TrimPrefix(u.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return u.Host, prefix, nil
}
