package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Delivery handlers push a lead to one external sink. Each handler is
// stateless between calls; all retry scheduling lives in the job
// runner, so handlers just report success or failure for one attempt.

const maxErrorBody = 512

func newHTTPClient(timeoutMs int) *http.Client {
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// postJSON sends a JSON body with a bearer token and returns the raw
// response body for 2xx responses. Non-2xx responses become errors
// carrying the status and a truncated body excerpt.
func postJSON(ctx context.Context, client *http.Client, url, token string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := respBody
		if len(excerpt) > maxErrorBody {
			excerpt = excerpt[:maxErrorBody]
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, excerpt)
	}

	if !json.Valid(respBody) {
		return nil, nil
	}
	return respBody, nil
}
