package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"companion-calls/internal/analysis"
	"companion-calls/internal/config"
)

// className is the index collection holding anonymized conversations.
const className = "Conversation"

// HTTPIndex is a Weaviate-style REST client: objects are created through
// POST /v1/objects and similarity queries go through the GraphQL endpoint
// with a nearText filter. Transient failures retry with backoff.
type HTTPIndex struct {
	baseURL string
	apiKey  string

	httpClient *http.Client
	maxElapsed time.Duration
}

func NewHTTPIndex(cfg config.VectorConfig) *HTTPIndex {
	return &HTTPIndex{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxElapsed: time.Minute,
	}
}

func (x *HTTPIndex) Index(ctx context.Context, doc analysis.ConversationDoc) error {
	body := map[string]any{
		"class":      className,
		"properties": doc,
	}
	if err := x.post(ctx, "/v1/objects", body, nil); err != nil {
		return fmt.Errorf("index conversation: %w", err)
	}
	return nil
}

func (x *HTTPIndex) QuerySimilar(ctx context.Context, topics []string, limit int) ([]analysis.ConversationDoc, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}

	concepts := make([]string, len(topics))
	for i, t := range topics {
		concepts[i] = fmt.Sprintf("%q", t)
	}
	query := fmt.Sprintf(`{
  Get {
    %s(nearText: {concepts: [%s]}, limit: %d) {
      content
      emotionalState
      behavioralCodes
      topics
      ageGroup
      region
      callDuration
      timestamp
    }
  }
}`, className, strings.Join(concepts, ", "), limit)

	var resp struct {
		Data struct {
			Get map[string][]analysis.ConversationDoc `json:"Get"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := x.post(ctx, "/v1/graphql", map[string]string{"query": query}, &resp); err != nil {
		return nil, fmt.Errorf("query similar: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("query similar: %s", resp.Errors[0].Message)
	}
	return resp.Data.Get[className], nil
}

func (x *HTTPIndex) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if x.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+x.apiKey)
		}

		resp, err := x.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("index %s: status %d", path, resp.StatusCode)
		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return backoff.Permanent(fmt.Errorf("index %s: status %d: %s", path, resp.StatusCode, b))
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = x.maxElapsed
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

var _ Index = (*HTTPIndex)(nil)
