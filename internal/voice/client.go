package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"companion-calls/internal/config"
)

// Client is the REST implementation of Platform.
//
// Transient failures (transport errors, 5xx, 429) are retried with
// exponential backoff; 4xx responses are permanent and surface immediately.
type Client struct {
	baseURL       string
	apiKey        string
	assistantID   string
	phoneNumberID string

	httpClient *http.Client
	maxElapsed time.Duration
}

var _ Platform = (*Client)(nil)

func NewClient(cfg config.VoiceConfig) *Client {
	return &Client{
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		assistantID:   cfg.AssistantID,
		phoneNumberID: cfg.PhoneNumberID,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		maxElapsed:    45 * time.Second,
	}
}

type placeCallRequest struct {
	AssistantID        string             `json:"assistantId"`
	PhoneNumberID      string             `json:"phoneNumberId,omitempty"`
	Customer           customer           `json:"customer"`
	AssistantOverrides assistantOverrides `json:"assistantOverrides"`
}

type customer struct {
	Number string `json:"number"`
}

type assistantOverrides struct {
	VariableValues map[string]any `json:"variableValues"`
}

type callResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Transcript string `json:"transcript"`
}

func (c *Client) PlaceCall(ctx context.Context, phone string, vars map[string]any) (string, error) {
	body := placeCallRequest{
		AssistantID:        c.assistantID,
		PhoneNumberID:      c.phoneNumberID,
		Customer:           customer{Number: phone},
		AssistantOverrides: assistantOverrides{VariableValues: vars},
	}

	var resp callResponse
	if err := c.do(ctx, http.MethodPost, "/call/phone", body, &resp); err != nil {
		return "", fmt.Errorf("place call: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("place call: platform returned no call id")
	}
	return resp.ID, nil
}

func (c *Client) GetTranscript(ctx context.Context, externalCallID string) (string, error) {
	var resp callResponse
	if err := c.do(ctx, http.MethodGet, "/call/"+externalCallID, nil, &resp); err != nil {
		return "", fmt.Errorf("get transcript: %w", err)
	}
	return resp.Transcript, nil
}

func (c *Client) EndCall(ctx context.Context, externalCallID string) error {
	if err := c.do(ctx, http.MethodPost, "/call/"+externalCallID+"/end", nil, nil); err != nil {
		return fmt.Errorf("end call: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = b
	}

	op := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
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
			return fmt.Errorf("platform %s %s: status %d", method, path, resp.StatusCode)
		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return backoff.Permanent(fmt.Errorf("platform %s %s: status %d: %s", method, path, resp.StatusCode, b))
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapsed
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}
