package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

type S3ArchiveConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Archive stores raw provider responses that need manual reconciliation
// (acknowledged purchase, failed local write). Works against any
// S3-compatible endpoint.
type S3Archive struct {
	bucket string
	client *s3.S3
}

func NewS3Archive(cfg S3ArchiveConfig) (*S3Archive, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("archive bucket is empty")
	}
	sess, err := session.NewSession(&aws.Config{
		Region:   aws.String(cfg.Region),
		Endpoint: aws.String(cfg.Endpoint),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKey, cfg.SecretKey, "",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("archive session: %w", err)
	}
	return &S3Archive{bucket: cfg.Bucket, client: s3.New(sess)}, nil
}

// Upload writes the record and returns its object location.
func (a *S3Archive) Upload(ctx context.Context, key string, body []byte) (string, error) {
	_, err := a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("unable to upload reconciliation record: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}
