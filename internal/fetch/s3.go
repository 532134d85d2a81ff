package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Fetcher downloads s3://bucket/key URLs from an S3-compatible
// store, for sites that mirror model files internally instead of
// reaching the public hosts.
type S3Fetcher struct {
	client *s3.Client
	log    zerolog.Logger
}

// NewS3Fetcher builds the fetcher from static credentials when given,
// falling back to the default AWS chain.
func NewS3Fetcher(opts S3Options, log zerolog.Logger) (*S3Fetcher, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" || opts.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			if opts.Endpoint != "" {
				o.BaseEndpoint = aws.String(opts.Endpoint)
			}
			o.UsePathStyle = true
		})
	}

	return &S3Fetcher{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		log:    log.With().Str("component", "fetch-s3").Logger(),
	}, nil
}

// Fetch implements Fetcher for s3://bucket/key URLs.
func (f *S3Fetcher) Fetch(ctx context.Context, rawURL, destPath string, onProgress func(int)) error {
	bucket, key, err := splitS3URL(rawURL)
	if err != nil {
		return err
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	total := int64(0)
	if out.ContentLength != nil {
		total = *out.ContentLength
	}

	start := time.Now()
	written, err := writeToTemp(ctx, destPath, out.Body, total, onProgress)
	if err != nil {
		return err
	}
	f.log.Info().
		Str("bucket", bucket).
		Str("key", key).
		Int64("bytes", written).
		Dur("elapsed", time.Since(start)).
		Msg("mirror download complete")
	return nil
}

func splitS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse s3 url %q: %w", rawURL, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("not an s3 url: %q", rawURL)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 url missing key: %q", rawURL)
	}
	return u.Host, key, nil
}
