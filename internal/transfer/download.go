// Package transfer performs single streaming downloads with retry, progress
// accounting and tolerant integrity verification.
package transfer

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/jgivc/qpkgmirror/internal/progress"
	"github.com/jgivc/qpkgmirror/internal/retry"
)

const (
	dirPerm          = 0o755
	progressInterval = 5 * time.Second
)

// Result is the outcome of one download. A transfer that completed but did
// not verify is still a success; the caller decides whether verification
// failure blocks anything downstream (it does not, in this pipeline).
type Result struct {
	Success      bool
	BytesWritten int64
	Verified     bool
	Skipped      bool
}

type Downloader struct {
	fs     afero.Fs
	client *http.Client
	policy retry.Policy
	log    *slog.Logger
}

func NewDownloader(policy retry.Policy, timeout time.Duration, log *slog.Logger) *Downloader {
	return NewDownloaderWithFS(afero.NewOsFs(), &http.Client{Timeout: timeout}, policy, log)
}

func NewDownloaderWithFS(fs afero.Fs, client *http.Client, policy retry.Policy, log *slog.Logger) *Downloader {
	return &Downloader{
		fs:     fs,
		client: client,
		policy: policy,
		log:    log.With(slog.String("item", "Downloader")),
	}
}

// Download streams url to destPath and verifies the result against
// expectedSignature. If destPath already exists the network is not touched
// at all and the existing file is reported as a success. Transient failures
// are retried per the downloader's policy; an exhausted budget yields a
// failed Result and the last error.
func (d *Downloader) Download(ctx context.Context, url, destPath, expectedSignature string) (Result, error) {
	log := d.log.With(slog.String("url", url), slog.String("dest", destPath))

	if stat, err := d.fs.Stat(destPath); err == nil {
		log.Info("Destination already exists, skipping download", slog.Int64("size", stat.Size()))

		return Result{Success: true, BytesWritten: stat.Size(), Verified: true, Skipped: true}, nil
	}

	if err := d.fs.MkdirAll(filepath.Dir(destPath), dirPerm); err != nil {
		return Result{}, fmt.Errorf("cannot create destination dir: %w", err)
	}

	var (
		written int64
		sum     []byte
	)

	err := d.policy.Do(ctx, func() error {
		n, s, err := d.attempt(ctx, url, destPath)
		if err != nil {
			log.Warn("Download attempt failed", slog.Any("error", err))

			// A half-written destination must not satisfy the next
			// attempt's existence check.
			d.fs.Remove(destPath)

			return err
		}

		written, sum = n, s

		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("cannot download %s: %w", url, err)
	}

	verified := SignatureMatches(sum, expectedSignature)
	if !verified {
		log.Warn("Signature mismatch", slog.String("expected", expectedSignature))
	}

	log.Info("Downloaded", slog.Int64("bytes", written), slog.Bool("verified", verified))

	return Result{Success: true, BytesWritten: written, Verified: verified}, nil
}

func (d *Downloader) attempt(ctx context.Context, url, destPath string) (int64, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, retry.Permanent(fmt.Errorf("cannot create request: %w", err))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("cannot send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	file, err := d.fs.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, nil, retry.Permanent(fmt.Errorf("cannot create destination file: %w", err))
	}
	defer file.Close()

	meter := progress.NewMeter(resp.ContentLength)
	hasher := md5.New()
	counter := &progressWriter{
		meter: meter,
		log:   d.log.With(slog.String("dest", destPath)),
	}

	written, err := io.Copy(io.MultiWriter(file, hasher, counter), resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("stream interrupted after %d bytes: %w", written, err)
	}

	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return 0, nil, fmt.Errorf("short body: got %d of %d bytes", written, resp.ContentLength)
	}

	return written, hasher.Sum(nil), nil
}

// progressWriter feeds the meter and logs a sampled snapshot at most once
// per progressInterval.
type progressWriter struct {
	meter  *progress.Meter
	log    *slog.Logger
	lastAt time.Time
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.meter.Add(len(p))

	if now := time.Now(); now.Sub(w.lastAt) >= progressInterval {
		w.lastAt = now

		s := w.meter.Snapshot()
		w.log.Debug("Progress",
			slog.Int64("done", s.Done),
			slog.Int64("total", s.Total),
			slog.Float64("rate_bps", s.Rate),
			slog.Duration("eta", s.ETA),
		)
	}

	return len(p), nil
}
