// Package blob implements the destination object store for template assets:
// an S3-compatible backend (AWS S3 or MinIO) plus an in-memory store for
// tests. Assets live under templates/<templateID>/<assetID> in one bucket.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"registrymigrate/internal/migrate"
)

var _ migrate.ObjectStore = (*S3)(nil)

const templatePrefix = "templates/"

// S3Config holds explicit construction parameters. Static credentials are
// optional; when absent the default credentials chain applies.
type S3Config struct {
	Region          string
	Bucket          string
	Endpoint        string // optional; if set enables custom endpoint (e.g. MinIO)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
}

// S3 implements the object store against a single bucket.
type S3 struct {
	client *s3.Client
	bucket string
	region string
}

// NewS3 creates an S3 object store from S3Config.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3{client: client, bucket: cfg.Bucket, region: region}, nil
}

// BucketExists reports whether the destination bucket is reachable.
func (s *S3) BucketExists(ctx context.Context) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &s.bucket})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return false, nil
	}
	return false, err
}

// CreateBucket creates the destination bucket.
func (s *S3) CreateBucket(ctx context.Context) error {
	input := &s3.CreateBucketInput{Bucket: &s.bucket}
	if s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	_, err := s.client.CreateBucket(ctx, input)
	return err
}

// CountTemplates counts objects stored under the template prefix.
func (s *S3) CountTemplates(ctx context.Context) (int, error) {
	keys, err := s.listTemplateKeys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// DeleteTemplates removes every object under the template prefix.
func (s *S3) DeleteTemplates(ctx context.Context) error {
	keys, err := s.listTemplateKeys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

// StoreAsset uploads one asset payload under its template-scoped key.
func (s *S3) StoreAsset(ctx context.Context, templateID, assetID, contentType string, data []byte) error {
	key := templateKey(templateID, assetID)
	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = &contentType
	}
	_, err := s.client.PutObject(ctx, input)
	return err
}

func (s *S3) listTemplateKeys(ctx context.Context) ([]string, error) {
	prefix := templatePrefix
	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if out.IsTruncated != nil && *out.IsTruncated && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	return keys, nil
}

func templateKey(templateID, assetID string) string {
	return templatePrefix + templateID + "/" + assetID
}
