package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"companion-calls/internal/config"
)

// HTTPStore talks to an S3-compatible object gateway over its REST surface:
// POST /object/{bucket}/{key} to write, GET /object/{bucket}/{key} to read.
// Transient failures are retried with exponential backoff.
type HTTPStore struct {
	endpoint    string
	accessToken string
	buckets     map[Class]string

	httpClient *http.Client
	maxElapsed time.Duration
}

func NewHTTPStore(cfg config.BlobConfig) *HTTPStore {
	return &HTTPStore{
		endpoint:    cfg.Endpoint,
		accessToken: cfg.AccessToken,
		buckets: map[Class]string{
			ClassLegal:  cfg.LegalBucket,
			ClassActive: cfg.ActiveBucket,
		},
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxElapsed: 2 * time.Minute,
	}
}

func (s *HTTPStore) Put(ctx context.Context, class Class, key string, data []byte, contentType string) error {
	bucket, ok := s.buckets[class]
	if !ok || bucket == "" {
		return fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			s.objectURL(bucket, key), bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("put %s/%s: status %d", bucket, key, resp.StatusCode)
		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return backoff.Permanent(fmt.Errorf("put %s/%s: status %d: %s", bucket, key, resp.StatusCode, b))
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.maxElapsed
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

func (s *HTTPStore) Get(ctx context.Context, class Class, key string) ([]byte, error) {
	bucket, ok := s.buckets[class]
	if !ok || bucket == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(bucket, key), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return io.ReadAll(resp.Body)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, ErrNotFound)
	default:
		return nil, fmt.Errorf("get %s/%s: status %d", bucket, key, resp.StatusCode)
	}
}

func (s *HTTPStore) objectURL(bucket, key string) string {
	return s.endpoint + "/object/" + bucket + "/" + key
}

var _ Store = (*HTTPStore)(nil)
