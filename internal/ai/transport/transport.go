// Package transport is the JSON-over-HTTP client shared by the LLM providers.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for provider failures. The ai package re-exports them.
var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrRateLimited         = errors.New("ai provider rate limited")
	ErrRequestRejected     = errors.New("ai provider rejected request")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
)

const maxErrorBody = 512

// Client posts JSON requests and decodes JSON responses.
type Client struct {
	client *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{client: &http.Client{Timeout: timeout}}
}

// PostJSON sends in to url and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ClassifyError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrInvalidResponse, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(snippet))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", ErrInferenceTimeout, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRequestRejected, resp.StatusCode, detail)
	}
}

// ClassifyError maps transport-level errors to sentinel errors.
func ClassifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// Retriable reports whether a provider error is worth retrying later.
func Retriable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrInferenceTimeout) ||
		errors.Is(err, ErrRateLimited)
}
