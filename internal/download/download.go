// Package download fetches model weights over HTTP with retries, resume and
// sha256 verification.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var checksumPattern = regexp.MustCompile(`(?i)\b([a-f0-9]{64})\b`)

// ErrChecksumMismatch is returned when the downloaded bytes do not hash to
// the expected sha256.
var ErrChecksumMismatch = errors.New("checksum mismatch")

const userAgent = "voxserve/1"

type Options struct {
	URL            string
	Destination    string
	ExpectedSHA256 string
	ChecksumURL    string
	// Label names the artifact in logs and on the progress bar. Defaults to
	// the destination file name.
	Label   string
	Retries int
	// Backoff is multiplied by the attempt number between retries.
	Backoff    time.Duration
	NoProgress bool
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// fetcher holds the state of one DownloadFile call across attempts.
type fetcher struct {
	opts     Options
	expected string
	part     string
	log      *zap.Logger
}

// DownloadFile fetches opts.URL into opts.Destination. Bytes land in a
// ".part" file that is renamed once complete and verified. When a checksum
// is known, a partial file left by an earlier attempt or run is resumed with
// a Range request; the checksum catches a stale or foreign partial file.
func DownloadFile(ctx context.Context, opts Options) error {
	if opts.URL == "" {
		return errors.New("download URL is required")
	}
	if opts.Destination == "" {
		return errors.New("destination path is required")
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 300 * time.Millisecond
	}
	if opts.HTTPClient == nil {
		// Large models take a while on slow links; the deadline comes from ctx.
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if strings.TrimSpace(opts.Label) == "" {
		opts.Label = filepath.Base(opts.Destination)
	}

	f := &fetcher{
		opts: opts,
		part: opts.Destination + ".part",
		log:  opts.Logger.With(zap.String("artifact", opts.Label)),
	}

	f.expected = strings.ToLower(strings.TrimSpace(opts.ExpectedSHA256))
	if f.expected == "" && opts.ChecksumURL != "" {
		resolved, err := ResolveExpectedChecksum(ctx, opts.ChecksumURL, filepath.Base(opts.Destination), opts.HTTPClient)
		if err != nil {
			return fmt.Errorf("fetch checksum: %w", err)
		}
		f.expected = resolved
	}
	if f.expected == "" {
		f.log.Warn("no checksum known; download will not be verified", zap.String("url", opts.URL))
	}

	if err := os.MkdirAll(filepath.Dir(opts.Destination), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		if attempt > 1 {
			f.log.Warn("retrying download", zap.Int("attempt", attempt), zap.Int("max", opts.Retries), zap.Error(lastErr))
			if err := sleepContext(ctx, time.Duration(attempt)*opts.Backoff); err != nil {
				return fmt.Errorf("download canceled after attempt %d: %w", attempt-1, lastErr)
			}
		}

		started := time.Now()
		written, err := f.attempt(ctx)
		if err == nil {
			f.log.Info("download complete",
				zap.String("destination", opts.Destination),
				zap.Int64("bytes", written),
				zap.Duration("elapsed", time.Since(started)),
				zap.Bool("verified", f.expected != ""),
			)
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	// An unverifiable partial file is useless to a later run.
	if !f.resumable() {
		_ = os.Remove(f.part)
	}
	return lastErr
}

// resumable reports whether a leftover .part file may be continued.
func (f *fetcher) resumable() bool {
	return f.expected != ""
}

// attempt runs one HTTP transfer and returns the bytes written this time.
func (f *fetcher) attempt(ctx context.Context) (int64, error) {
	offset := int64(0)
	if f.resumable() {
		if info, err := os.Stat(f.part); err == nil && info.Mode().IsRegular() {
			offset = info.Size()
		}
	} else {
		_ = os.Remove(f.part)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.opts.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := f.opts.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			f.log.Debug("server ignored range request; starting over", zap.Int64("offset", offset))
		}
		offset = 0
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		f.log.Info("resuming download", zap.Int64("offset", offset))
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// The partial file already holds every byte.
		return 0, f.finish(offset)
	default:
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if offset > 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	out, err := os.OpenFile(f.part, flags, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open partial file: %w", err)
	}
	defer out.Close()

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	var sink io.Writer = out
	bar := f.progress(total, offset)
	if bar != nil {
		sink = io.MultiWriter(out, bar)
	}

	written, copyErr := io.Copy(sink, resp.Body)
	if bar != nil {
		_ = bar.Finish()
	}
	if copyErr != nil {
		return written, fmt.Errorf("download body: %w", copyErr)
	}
	if err := out.Sync(); err != nil {
		return written, fmt.Errorf("sync partial file: %w", err)
	}
	if err := out.Close(); err != nil {
		return written, fmt.Errorf("close partial file: %w", err)
	}

	return written, f.finish(offset + written)
}

// finish verifies the partial file and moves it into place. A checksum
// mismatch discards the partial file so the next attempt starts clean.
func (f *fetcher) finish(size int64) error {
	if f.expected != "" {
		actual, err := hashFile(f.part, sha256.New())
		if err != nil {
			return err
		}
		if actual != f.expected {
			_ = os.Remove(f.part)
			return fmt.Errorf("%w: expected %s, got %s (%d bytes)", ErrChecksumMismatch, f.expected, actual, size)
		}
	}

	if err := os.Rename(f.part, f.opts.Destination); err != nil {
		return fmt.Errorf("move partial file into destination: %w", err)
	}
	return nil
}

func (f *fetcher) progress(total, offset int64) *progressbar.ProgressBar {
	if !shouldRenderProgress(f.opts.NoProgress, total) {
		return nil
	}

	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription("downloading "+f.opts.Label),
		progressbar.OptionSetWidth(20),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
	if offset > 0 {
		_ = bar.Set64(offset)
	}
	return bar
}

func ResolveExpectedChecksum(ctx context.Context, checksumURL, fileName string, client *http.Client) (string, error) {
	if strings.TrimSpace(checksumURL) == "" {
		return "", errors.New("checksum URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checksumURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// Checksum listings are small; anything larger is not one.
	content, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	return ParseChecksum(content, fileName)
}

// ParseChecksum finds a sha256 in a checksum listing, preferring the line
// that names fileName.
func ParseChecksum(content []byte, fileName string) (string, error) {
	var fallback string
	for _, line := range strings.Split(string(content), "\n") {
		match := checksumPattern.FindStringSubmatch(line)
		if len(match) < 2 {
			continue
		}
		if fileName != "" && strings.Contains(line, fileName) {
			return strings.ToLower(match[1]), nil
		}
		if fallback == "" {
			fallback = strings.ToLower(match[1])
		}
	}

	if fallback == "" {
		return "", errors.New("sha256 checksum not found")
	}
	return fallback, nil
}

func VerifyFileChecksum(path, expectedSHA256 string) error {
	expected := strings.ToLower(strings.TrimSpace(expectedSHA256))
	if expected == "" {
		return nil
	}

	actual, err := hashFile(path, sha256.New())
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}
	return nil
}

func hashFile(path string, h hash.Hash) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func shouldRenderProgress(noProgress bool, total int64) bool {
	if noProgress || total <= 0 {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
