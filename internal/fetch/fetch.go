// Package fetch is the download transport behind the model lifecycle
// manager: given a URL and a destination path it produces the file,
// reporting whole-percent progress along the way. HTTP(S) covers the
// public model hosts; the s3 scheme covers self-hosted mirrors.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog"
)

// Fetcher downloads url into destPath. Writes go to a temp file that
// is renamed into place only after a complete, flushed download, so a
// crash never leaves a half-written model behind. onProgress, when
// non-nil, receives whole percentages 0-100; implementations never
// call it with a lower value than the last.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, destPath string, onProgress func(percent int)) error
}

// S3Options carries credentials for the s3 scheme. Zero value means
// the default AWS chain.
type S3Options struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// Resolver hands out the right Fetcher for a URL's scheme.
type Resolver struct {
	log zerolog.Logger
	s3  S3Options

	httpOnce sync.Once
	httpF    *HTTPFetcher

	s3Once sync.Once
	s3F    *S3Fetcher
	s3Err  error
}

// NewResolver builds a resolver. Fetchers are constructed lazily on
// first use of their scheme.
func NewResolver(s3opts S3Options, log zerolog.Logger) *Resolver {
	return &Resolver{log: log, s3: s3opts}
}

// For returns the fetcher handling rawURL's scheme.
func (r *Resolver) For(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		r.httpOnce.Do(func() { r.httpF = NewHTTPFetcher(r.log) })
		return r.httpF, nil
	case "s3":
		r.s3Once.Do(func() { r.s3F, r.s3Err = NewS3Fetcher(r.s3, r.log) })
		if r.s3Err != nil {
			return nil, r.s3Err
		}
		return r.s3F, nil
	default:
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
}
