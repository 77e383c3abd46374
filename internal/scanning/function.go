package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FunctionClient implements the Analyzer interface by calling a remote
// "analyze-bill" function that does the vision work itself. The image
// reference is forwarded as-is, so it must be a data URI.
type FunctionClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewFunctionClient creates a client for the function at endpoint. apiKey is
// sent as the "apikey" header when set.
func NewFunctionClient(endpoint string, apiKey string) (*FunctionClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("function endpoint is required")
	}
	return NewFunctionClientWithHTTP(endpoint, apiKey, &http.Client{Timeout: 90 * time.Second}), nil
}

// NewFunctionClientWithHTTP creates a client with a custom http.Client for testing
func NewFunctionClientWithHTTP(endpoint string, apiKey string, client *http.Client) *FunctionClient {
	return &FunctionClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   client,
	}
}

type functionResponse struct {
	Analysis string `json:"analysis"`
}

// Analyze posts {imageUri, numPeople, interactive} and returns the
// "analysis" field of the reply
func (f *FunctionClient) Analyze(ctx context.Context, req AnalysisRequest) (string, error) {
	if req.Interactive {
		req.NumPeople = 0
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.AccessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	}
	if f.apiKey != "" {
		httpReq.Header.Set("apikey", f.apiKey)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: calling analysis function: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: analysis function error (status %d): %s", ErrTransport, resp.StatusCode, string(msg))
	}

	var out functionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding response: %w", ErrTransport, err)
	}
	if out.Analysis == "" {
		return "", fmt.Errorf("%w: invalid response format from server", ErrTransport)
	}
	return out.Analysis, nil
}

// Close is a no-op for the HTTP client
func (f *FunctionClient) Close() error {
	return nil
}
