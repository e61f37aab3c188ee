package crawlers

import (
	"context"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultRetries   = 2
	defaultJitterMin = 1500 * time.Millisecond
	defaultJitterMax = 3 * time.Second
)

// Fetcher performs HTTP requests with randomized inter-request delay and a
// bounded retry count. The jitter keeps per-platform request pacing
// irregular; a connection-reset class error is granted exactly one extra
// attempt. Status interpretation stays with the caller, except 5xx which is
// retried here.
type Fetcher struct {
	Retries   int
	JitterMin time.Duration
	JitterMax time.Duration

	// the client can be swapped mid-flight by a credential update, so every
	// read goes through client()
	mu     sync.Mutex
	client *http.Client
}

func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return &Fetcher{
		client:    client,
		Retries:   defaultRetries,
		JitterMin: defaultJitterMin,
		JitterMax: defaultJitterMax,
	}
}

// SetClient replaces the underlying HTTP client. In-flight requests finish on
// the client they started with.
func (f *Fetcher) SetClient(client *http.Client) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.client = client
}

func (f *Fetcher) Client() *http.Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.client
}

// Do builds a fresh request per attempt and returns the first conclusive
// response. The returned response body is open; the caller owns closing it.
func (f *Fetcher) Do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	var resetRetried bool

	attempts := f.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := f.pace(ctx); err != nil {
			return nil, err
		}

		req, err := build()
		if err != nil {
			return nil, errors.Wrap(err, "failure building request")
		}

		resp, err := f.Client().Do(req.WithContext(ctx))
		if err != nil {
			lastErr = err

			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			if isConnReset(err) && !resetRetried {
				resetRetried = true
				attempt--
			}
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError && attempt < attempts-1 {
			resp.Body.Close() // nolint: errcheck
			lastErr = errors.Errorf("received status code %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, errors.Wrap(lastErr, "request failed after retries")
}

func (f *Fetcher) pace(ctx context.Context) error {
	delay := f.JitterMin
	if f.JitterMax > f.JitterMin {
		delay += time.Duration(rand.Int63n(int64(f.JitterMax - f.JitterMin)))
	}
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isConnReset(err error) bool {
	if err == nil {
		return false
	}

	message := strings.ToLower(err.Error())
	return strings.Contains(message, "connection reset") ||
		strings.Contains(message, "econnreset")
}
