package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
)

const defaultS3Region = "us-east-1"

// S3 keeps ledger snapshots as objects under an optional key prefix. A
// custom endpoint switches to path-style addressing for MinIO and other
// S3-compatible servers.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3(cfg config.S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, core.WrapError(core.ErrConfigMissing, errors.New("store.s3.bucket"))
	}
	region := cfg.Region
	if region == "" {
		region = defaultS3Region
	}

	client := s3.New(s3.Options{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *S3) key(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

func (s *S3) Write(ctx context.Context, p string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(p)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting s3://%s/%s: %w", s.bucket, s.key(p), err)
	}
	return nil
}

func (s *S3) Read(ctx context.Context, p string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	switch {
	case isNotFound(err):
		return nil, core.WrapError(core.ErrNotFound, fmt.Errorf("s3://%s/%s", s.bucket, s.key(p)))
	case err != nil:
		return nil, fmt.Errorf("getting s3://%s/%s: %w", s.bucket, s.key(p), err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var (
		noKey    *types.NoSuchKey
		notFound *types.NotFound
	)
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	// some S3-compatible servers only report the status code
	return strings.Contains(err.Error(), "StatusCode: 404")
}
