package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"replicator/internal/replication"
)

// Client talks to a node's HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the node at addr (host:port or URL).
func NewClient(addr string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: replication.BaseURL(addr), http: hc}
}

// ConfigView is the body of GET /config.
type ConfigView struct {
	WriteQuorum int  `json:"writeQuorum"`
	Versioned   bool `json:"versioned"`
}

// WriteResult is the body of a successful POST /write.
type WriteResult = writeResponse

func (c *Client) do(ctx context.Context, method, path string, in, out any, want int) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if s, ok := out.(*string); ok {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		*s = string(b)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	appErr := &AppError{HTTPStatus: resp.StatusCode}
	var body errorResponse
	if err := json.Unmarshal(b, &body); err == nil && body.Code != "" {
		appErr.Code, appErr.Message, appErr.Detail = body.Code, body.Message, body.Detail
		return appErr
	}
	appErr.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
	appErr.Message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	appErr.Detail = strings.TrimSpace(string(b))
	return appErr
}

// Write sends a client write to the leader.
func (c *Client) Write(ctx context.Context, key, value string) (WriteResult, error) {
	var out WriteResult
	err := c.do(ctx, http.MethodPost, "/write", writeRequest{Key: key, Value: value}, &out, http.StatusCreated)
	return out, err
}

// Get reads one key. Missing keys read as "".
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	var out string
	err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(key), nil, &out, http.StatusOK)
	return out, err
}

// Dump returns every key and value.
func (c *Client) Dump(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	err := c.do(ctx, http.MethodGet, "/dump", nil, &out, http.StatusOK)
	return out, err
}

// DumpVersions returns every key with its Unix millisecond timestamp.
func (c *Client) DumpVersions(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	err := c.do(ctx, http.MethodGet, "/dump-versions", nil, &out, http.StatusOK)
	return out, err
}

// Config returns the node's run-time settings.
func (c *Client) Config(ctx context.Context) (ConfigView, error) {
	var out ConfigView
	err := c.do(ctx, http.MethodGet, "/config", nil, &out, http.StatusOK)
	return out, err
}

// SetWriteQuorum changes the leader's threshold for later writes.
func (c *Client) SetWriteQuorum(ctx context.Context, n int) error {
	return c.do(ctx, http.MethodPost, "/config", map[string]int{"writeQuorum": n}, nil, http.StatusOK)
}

// Ready returns nil once the node answers /readyz.
func (c *Client) Ready(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", nil, nil, http.StatusOK)
}
