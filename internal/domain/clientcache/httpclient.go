package clientcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chartsync/chartsync/internal/domain/aggregate"
)

// HTTPClient implements Aggregator over the /patient-data HTTP surface, so a
// Go consumer uses the cache against a remote chartsync server.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithToken attaches a bearer token to every request.
func WithToken(token string) HTTPOption {
	return func(c *HTTPClient) { c.token = token }
}

// WithHTTPClient substitutes the underlying http.Client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.client = client }
}

func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) Fetch(ctx context.Context, patientID string) (*aggregate.PatientRecordBundle, error) {
	var bundle aggregate.PatientRecordBundle
	path := "/patient-data?patient_id=" + url.QueryEscape(patientID)
	if err := c.do(ctx, http.MethodGet, path, nil, &bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}

type dataEnvelope struct {
	Data aggregate.Row `json:"data"`
}

func (c *HTTPClient) Update(ctx context.Context, table, id string, updates aggregate.Row) (aggregate.Row, error) {
	body := map[string]any{"table": table, "id": id, "updates": updates}
	var envelope dataEnvelope
	if err := c.do(ctx, http.MethodPut, "/patient-data", body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

func (c *HTTPClient) Create(ctx context.Context, table string, record aggregate.Row) (aggregate.Row, error) {
	body := map[string]any{"table": table, "record": record}
	var envelope dataEnvelope
	if err := c.do(ctx, http.MethodPost, "/patient-data", body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

func (c *HTTPClient) Delete(ctx context.Context, table, id string) error {
	path := "/patient-data?table=" + url.QueryEscape(table) + "&id=" + url.QueryEscape(id)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}
