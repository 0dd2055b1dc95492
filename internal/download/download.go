// Package download fetches model files with checksum verification.
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

const (
	defaultRetries = 3
	retryBackoff   = 300 * time.Millisecond
	userAgent      = "voxpush/1"
)

var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrChecksumNotFound = errors.New("sha256 checksum not found")
)

var checksumPattern = regexp.MustCompile(`(?i)\b([a-f0-9]{64})\b`)

// StatusError is a non-200 answer from the download host.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// Temporary reports whether retrying can help.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

type Options struct {
	URL            string
	Destination    string
	ExpectedSHA256 string
	// ChecksumURL serves either a checksums file or a Git LFS pointer; the
	// first 64-hex token for the destination's file name is used.
	ChecksumURL string
	Retries     int
	NoProgress  bool
	// Description labels the progress bar. Defaults to the file name.
	Description    string
	ProgressWriter io.Writer
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Retries <= 0 {
		o.Retries = defaultRetries
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Description == "" {
		o.Description = filepath.Base(o.Destination)
	}
	if o.ProgressWriter == nil {
		o.ProgressWriter = os.Stderr
	}
}

// Fetch downloads URL to Destination through a ".part" file, verifying the
// checksum before the rename so a partial or corrupt model never lands in
// the model directory. Client errors other than 408 and 429 are not retried.
func Fetch(ctx context.Context, opts Options) error {
	if opts.URL == "" {
		return errors.New("download URL is required")
	}
	if opts.Destination == "" {
		return errors.New("destination path is required")
	}
	opts.setDefaults()

	expected := normalizeChecksum(opts.ExpectedSHA256)
	if expected == "" && opts.ChecksumURL != "" {
		resolved, err := ResolveExpectedChecksum(ctx, opts.ChecksumURL, filepath.Base(opts.Destination), opts.HTTPClient)
		if err != nil {
			return fmt.Errorf("fetch checksum: %w", err)
		}
		expected = resolved
	}

	if err := os.MkdirAll(filepath.Dir(opts.Destination), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	var err error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		if attempt > 1 {
			opts.Logger.Warn("retrying download",
				zap.Int("attempt", attempt),
				zap.Int("max", opts.Retries),
				zap.String("url", opts.URL),
				zap.Error(err),
			)
			if sleepErr := sleepCtx(ctx, time.Duration(attempt)*retryBackoff); sleepErr != nil {
				return sleepErr
			}
		}

		err = fetchOnce(ctx, opts, expected)
		if err == nil {
			opts.Logger.Info("download complete", zap.String("destination", opts.Destination))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Temporary() {
			return err
		}
	}
	return err
}

func ResolveExpectedChecksum(ctx context.Context, checksumURL, fileName string, client *http.Client) (string, error) {
	if strings.TrimSpace(checksumURL) == "" {
		return "", errors.New("checksum URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	body, err := get(ctx, client, checksumURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	content, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return "", err
	}
	return ParseChecksum(content, fileName)
}

// ParseChecksum prefers a checksum on the line naming fileName and falls back
// to the first one in content.
func ParseChecksum(content []byte, fileName string) (string, error) {
	lines := strings.Split(string(content), "\n")

	if fileName != "" {
		for _, line := range lines {
			if !strings.Contains(line, fileName) {
				continue
			}
			if checksum := checksumIn(line); checksum != "" {
				return checksum, nil
			}
		}
	}
	for _, line := range lines {
		if checksum := checksumIn(line); checksum != "" {
			return checksum, nil
		}
	}
	return "", ErrChecksumNotFound
}

// VerifyFileChecksum hashes path and compares it to expectedSHA256. An empty
// expectation always passes.
func VerifyFileChecksum(path, expectedSHA256 string) error {
	expected := normalizeChecksum(expectedSHA256)
	if expected == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash file: %w", err)
	}
	return compare(h, expected)
}

func fetchOnce(ctx context.Context, opts Options, expected string) error {
	tempPath := opts.Destination + ".part"
	_ = os.Remove(tempPath)

	out, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	committed := false
	defer func() {
		_ = out.Close()
		if !committed {
			_ = os.Remove(tempPath)
		}
	}()

	body, size, err := getSized(ctx, opts.HTTPClient, opts.URL)
	if err != nil {
		return err
	}
	defer body.Close()

	h := sha256.New()
	sinks := []io.Writer{out, h}
	bar := newBar(opts, size)
	if bar != nil {
		sinks = append(sinks, bar)
	}
	if _, err := io.Copy(io.MultiWriter(sinks...), body); err != nil {
		return fmt.Errorf("download body: %w", err)
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if err := compare(h, expected); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempPath, opts.Destination); err != nil {
		return fmt.Errorf("move temp file into destination: %w", err)
	}
	committed = true
	return nil
}

func get(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	body, _, err := getSized(ctx, client, url)
	return body, err
}

func getSized(ctx context.Context, client *http.Client, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("download request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, 0, &StatusError{URL: url, Code: resp.StatusCode}
	}
	return resp.Body, resp.ContentLength, nil
}

func newBar(opts Options, size int64) *progressbar.ProgressBar {
	if !shouldRenderProgress(opts.NoProgress, opts.ProgressWriter, size) {
		return nil
	}
	return progressbar.NewOptions64(
		size,
		progressbar.OptionSetDescription(opts.Description),
		progressbar.OptionSetWidth(20),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetWriter(opts.ProgressWriter),
		progressbar.OptionClearOnFinish(),
	)
}

func compare(h hash.Hash, expected string) error {
	if expected == "" {
		return nil
	}
	if actual := hex.EncodeToString(h.Sum(nil)); actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}
	return nil
}

func checksumIn(line string) string {
	match := checksumPattern.FindStringSubmatch(line)
	if len(match) < 2 {
		return ""
	}
	return strings.ToLower(match[1])
}

func normalizeChecksum(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func shouldRenderProgress(noProgress bool, w io.Writer, contentLength int64) bool {
	if noProgress || contentLength <= 0 {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
