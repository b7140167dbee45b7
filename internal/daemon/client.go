package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/thatcatdev/tether/pkg/api"
)

// DefaultHost is where a stock ollama daemon listens.
const DefaultHost = "http://127.0.0.1:11434"

// Client is an HTTP client for the ollama daemon API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Client for the given host. An empty host falls
// back to OLLAMA_HOST and then DefaultHost.
func NewClient(host string) *Client {
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return &Client{
		baseURL:    ParseHost(host),
		httpClient: &http.Client{},
	}
}

// ParseHost normalizes an OLLAMA_HOST style value ("0.0.0.0", ":11434",
// "localhost:8080", "https://example.com") into a base URL.
func ParseHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return DefaultHost
	}

	scheme := "http"
	if i := strings.Index(host, "://"); i >= 0 {
		scheme, host = host[:i], host[i+3:]
	}
	host = strings.TrimRight(host, "/")

	port := "11434"
	if scheme == "https" {
		port = "443"
	}
	if h, p, err := net.SplitHostPort(host); err == nil {
		host, port = h, p
	}
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}

	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(host, port)}
	return u.String()
}

// BaseURL returns the daemon base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// List returns the locally available models in the order the daemon reports them.
func (c *Client) List(ctx context.Context) ([]api.ModelInfo, error) {
	var resp api.ListResponse
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// Version returns the daemon version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp api.VersionResponse
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

// Pull downloads a model through the daemon, calling fn for every progress
// event. It blocks until the pull completes, fails, or fn returns an error.
func (c *Client) Pull(ctx context.Context, model string, fn func(api.ProgressResponse) error) error {
	stream, err := openStream[api.ProgressResponse](ctx, c, "/api/pull", &api.PullRequest{
		Model:  model,
		Stream: api.Bool(true),
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if fn != nil {
			if err := fn(ev); err != nil {
				return err
			}
		}
	}
}

// Chat sends a non-streaming chat request.
func (c *Client) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	req.Stream = api.Bool(false)
	var resp api.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ChatStream sends a streaming chat request. The caller pulls deltas from
// the returned Stream and must Close it.
func (c *Client) ChatStream(ctx context.Context, req *api.ChatRequest) (*Stream[api.ChatResponse], error) {
	req.Stream = api.Bool(true)
	return openStream[api.ChatResponse](ctx, c, "/api/chat", req)
}

// Generate sends a non-streaming generate request.
func (c *Client) Generate(ctx context.Context, req *api.GenerateRequest) (*api.GenerateResponse, error) {
	req.Stream = api.Bool(false)
	var resp api.GenerateResponse
	if err := c.do(ctx, http.MethodPost, "/api/generate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateStream sends a streaming generate request.
func (c *Client) GenerateStream(ctx context.Context, req *api.GenerateRequest) (*Stream[api.GenerateResponse], error) {
	req.Stream = api.Bool(true)
	return openStream[api.GenerateResponse](ctx, c, "/api/generate", req)
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	resp, err := c.send(ctx, method, path, reqBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if cerr := classify(err); cerr != err {
			return cerr
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// send issues the request and returns the response once a 200 status has
// been received. Any other status is turned into a StatusError.
func (c *Client) send(ctx context.Context, method, path string, reqBody any) (*http.Response, error) {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(respBody))
		var apiErr api.ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	return resp, nil
}
