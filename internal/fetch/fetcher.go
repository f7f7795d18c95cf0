// Package fetch downloads images referenced by URL with bounded time, size
// and retries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

// ErrTooLarge is returned when the payload exceeds the configured limit.
var ErrTooLarge = errors.New("image payload too large")

// StatusError reports a non-2xx response from the image host.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Temporary reports whether another attempt could succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

type Options struct {
	Timeout  time.Duration
	MaxBytes int64
	Retries  int
	Backoff  time.Duration
}

type Fetcher struct {
	client   *http.Client
	maxBytes int64
	backoff  wait.Backoff
}

func New(opts Options) *Fetcher {
	return NewWithClient(&http.Client{Timeout: opts.Timeout}, opts)
}

// NewWithClient uses client for every attempt. client.Timeout bounds a single
// attempt.
func NewWithClient(client *http.Client, opts Options) *Fetcher {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Fetcher{
		client:   client,
		maxBytes: opts.MaxBytes,
		backoff: wait.Backoff{
			Duration: opts.Backoff,
			Factor:   2.0,
			Jitter:   0.1,
			Steps:    opts.Retries + 1,
		},
	}
}

// Fetch returns the body of rawURL. Network errors, 5xx and 429 responses are
// retried with exponential backoff; everything else fails immediately.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", rawURL)
	}

	logger := klog.FromContext(ctx)

	var (
		data    []byte
		lastErr error
		attempt int
	)
	err = wait.ExponentialBackoffWithContext(ctx, f.backoff, func(ctx context.Context) (bool, error) {
		attempt++
		body, err := f.get(ctx, u.String())
		if err == nil {
			data = body
			return true, nil
		}
		if !retryable(ctx, err) {
			return false, err
		}
		lastErr = err
		logger.V(2).Info("image fetch failed, retrying", "url", rawURL, "attempt", attempt, "err", err)
		return false, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, ctx.Err())
		}
		if lastErr != nil && wait.Interrupted(err) {
			return nil, fmt.Errorf("giving up after %d attempts: %w", attempt, lastErr)
		}
		return nil, err
	}
	return data, nil
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return nil, &StatusError{URL: target, Code: resp.StatusCode}
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, resp.ContentLength, f.maxBytes)
	}

	reader := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if f.maxBytes > 0 && int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, f.maxBytes)
	}
	return body, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrTooLarge) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}
