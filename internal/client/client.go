package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/weftworks/weft/pkg/api"
	wlog "github.com/weftworks/weft/pkg/log"
)

type (
	// Client dispatches server-environment nodes to a remote execution
	// endpoint
	Client interface {
		Execute(
			ctx context.Context, endpoint string, req *api.ExecuteRequest,
		) (*api.ExecuteResponse, error)
	}

	// HTTPClient invokes remote execution endpoints over HTTP. An empty
	// per-call endpoint falls back to the configured default
	HTTPClient struct {
		httpClient *http.Client
		endpoint   string
	}
)

var (
	ErrNoEndpoint   = errors.New("no execution endpoint configured")
	ErrHTTPError    = errors.New("execution endpoint returned HTTP error")
	ErrRemoteFailed = errors.New("execution endpoint reported failure")
)

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTP execution client with the given default
// endpoint and request timeout
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint: endpoint,
	}
}

// Execute POSTs the node context and input to the execution endpoint and
// parses the reply. Non-2xx responses and error payloads become errors for
// the node executor to convert into structured error output
func (c *HTTPClient) Execute(
	ctx context.Context, endpoint string, req *api.ExecuteRequest,
) (*api.ExecuteResponse, error) {
	if endpoint == "" {
		endpoint = c.endpoint
	}
	if endpoint == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoEndpoint, req.Node.ID)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, endpoint, bytes.NewBuffer(body),
	)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Weft-Engine/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	dur := time.Since(start)

	if err != nil {
		slog.Error("Execution request failed",
			wlog.NodeID(req.Node.ID),
			wlog.Duration(dur),
			wlog.Error(err))
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := remoteErrorMessage(respBody)
		slog.Error("Execution endpoint error",
			wlog.NodeID(req.Node.ID),
			slog.Int("status_code", resp.StatusCode),
			wlog.ErrorString(msg))
		return nil, fmt.Errorf("%w: HTTP %d: %s",
			ErrHTTPError, resp.StatusCode, msg)
	}

	var response api.ExecuteResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, err
	}

	if response.Error != "" {
		return &response, fmt.Errorf("%w: %s", ErrRemoteFailed, response.Error)
	}
	return &response, nil
}

// remoteErrorMessage extracts a usable message from an error payload,
// falling back to the raw body
func remoteErrorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return string(body)
}
