package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client establishes the long-lived streaming connection. Connect returns
// the response body for line-by-line reading; non-2xx responses surface as
// *StatusError so the manager can pick a backoff tier.
type Client interface {
	Connect(ctx context.Context) (io.ReadCloser, error)
}

// StatusError is a non-2xx response from the streaming endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream endpoint returned status %d", e.Code)
}

// HTTPClient is the HTTP implementation of Client against the filtered
// stream endpoint.
type HTTPClient struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTPClient creates a streaming client. The underlying http.Client has
// no overall timeout; the connection is expected to stay open indefinitely
// and liveness is the manager's job.
func NewHTTPClient(url, bearerToken string) *HTTPClient {
	return &HTTPClient{
		url:   url,
		token: bearerToken,
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

func (c *HTTPClient) Connect(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", "mentiond-stream/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream connect failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}

	return resp.Body, nil
}

// HTTPRulesAPI manages remote filter rules over the rules endpoint.
type HTTPRulesAPI struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPRulesAPI(url, bearerToken string) *HTTPRulesAPI {
	return &HTTPRulesAPI{
		url:    url,
		token:  bearerToken,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type rulesResponse struct {
	Data []Rule `json:"data"`
}

type rulesRequest struct {
	Add    []Rule       `json:"add,omitempty"`
	Delete *rulesDelete `json:"delete,omitempty"`
}

type rulesDelete struct {
	IDs []string `json:"ids"`
}

func (a *HTTPRulesAPI) List(ctx context.Context) ([]Rule, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating rules request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var parsed rulesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding rules response: %w", err)
	}
	return parsed.Data, nil
}

func (a *HTTPRulesAPI) Add(ctx context.Context, rule Rule) error {
	return a.post(ctx, rulesRequest{Add: []Rule{{Value: rule.Value, Tag: rule.Tag}}})
}

func (a *HTTPRulesAPI) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return a.post(ctx, rulesRequest{Delete: &rulesDelete{IDs: ids}})
}

func (a *HTTPRulesAPI) post(ctx context.Context, body rulesRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling rules request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating rules request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("updating rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
