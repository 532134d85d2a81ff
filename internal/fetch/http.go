package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// copyBufSize is the chunk size for download copies.
const copyBufSize = 32 * 1024

// HTTPFetcher downloads over HTTP(S), following redirects (model hosts
// redirect to CDN storage).
type HTTPFetcher struct {
	client *http.Client
	log    zerolog.Logger
}

// NewHTTPFetcher builds the fetcher. No overall request timeout:
// model files are large and slow links are legitimate; cancellation
// comes from ctx.
func NewHTTPFetcher(log zerolog.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{},
		log:    log.With().Str("component", "fetch").Logger(),
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL, destPath string, onProgress func(int)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}

	start := time.Now()
	written, err := writeToTemp(ctx, destPath, resp.Body, resp.ContentLength, onProgress)
	if err != nil {
		return err
	}
	f.log.Info().
		Str("url", rawURL).
		Int64("bytes", written).
		Dur("elapsed", time.Since(start)).
		Msg("download complete")
	return nil
}

// writeToTemp copies src into destPath via a temp file, reporting
// monotone whole-percent progress when total is known. Shared by the
// HTTP and S3 fetchers.
func writeToTemp(ctx context.Context, destPath string, src io.Reader, total int64, onProgress func(int)) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("create dest dir: %w", err)
	}
	tmpPath := destPath + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	var written int64
	lastPct := -1
	buf := make([]byte, copyBufSize)
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := tmp.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write temp file: %w", err)
			}
			written += int64(n)
			if onProgress != nil && total > 0 {
				pct := int(written * 100 / total)
				if pct > 100 {
					pct = 100
				}
				if pct > lastPct {
					lastPct = pct
					onProgress(pct)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, fmt.Errorf("read body: %w", readErr)
		}
	}

	if err := tmp.Sync(); err != nil {
		return written, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return written, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return written, fmt.Errorf("move into place: %w", err)
	}
	if onProgress != nil && lastPct < 100 {
		onProgress(100)
	}
	return written, nil
}
