package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// providerClient is the shared HTTP plumbing for the SMS/CALL/PUSH gateway
// adapters. Providers are expected to answer with {"ref": "..."} on accept.
type providerClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newProviderClient(baseURL, apiKey string) providerClient {
	return providerClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type providerResponse struct {
	Ref    string `json:"ref"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (c providerClient) postJSON(ctx context.Context, path string, body interface{}) (*providerResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var parsed providerResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("provider returned malformed response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := parsed.Error
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("provider rejected request: %s", msg)
	}
	return &parsed, nil
}

func (c providerClient) getJSON(ctx context.Context, path string) (*providerResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var parsed providerResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("provider returned malformed response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider status lookup failed: %s", resp.Status)
	}
	return &parsed, nil
}

func (c providerClient) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider health check failed: %s", resp.Status)
	}
	return nil
}
