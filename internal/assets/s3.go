/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package assets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/friendsincode/tablemix/internal/models"
)

// ObjectGetter is the subset of the S3 client the resolver needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures the S3 resolver.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	MaxBytes        int64
}

// S3Resolver fetches s3://bucket/key URLs, and bare asset ids as
// {Prefix}{asset_id} in the default bucket.
type S3Resolver struct {
	client   ObjectGetter
	bucket   string
	prefix   string
	maxBytes int64
}

// NewS3Resolver builds an S3 client from opts and the ambient AWS config chain.
func NewS3Resolver(ctx context.Context, opts S3Options) (*S3Resolver, error) {
	loaders := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loaders = append(loaders, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return NewS3ResolverWithClient(client, opts), nil
}

// NewS3ResolverWithClient wraps an existing client.
func NewS3ResolverWithClient(client ObjectGetter, opts S3Options) *S3Resolver {
	return &S3Resolver{client: client, bucket: opts.Bucket, prefix: opts.Prefix, maxBytes: opts.MaxBytes}
}

// Fetch implements Resolver.
func (r *S3Resolver) Fetch(ctx context.Context, ref models.SourceRef) ([]byte, error) {
	bucket, key, ok := r.locate(ref)
	if !ok {
		return nil, ErrUnsupported
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()
	return readLimited(out.Body, r.maxBytes)
}

func (r *S3Resolver) locate(ref models.SourceRef) (bucket, key string, ok bool) {
	if strings.HasPrefix(ref.URL, "s3://") {
		u, err := url.Parse(ref.URL)
		if err != nil || u.Host == "" {
			return "", "", false
		}
		key = strings.TrimPrefix(u.Path, "/")
		return u.Host, key, key != ""
	}
	if r.bucket != "" && ref.AssetID != "" {
		return r.bucket, r.prefix + ref.AssetID, true
	}
	return "", "", false
}
