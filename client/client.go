// Package client talks to a Tessera node's HTTP API.
package client

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"Tessera/internal/engine"
)

// Client connects to a Tessera node via HTTP.
type Client struct {
	baseURL string       // baseURL is the node's API root (e.g. "http://127.0.0.1:8080")
	http    *http.Client // http sends the requests
}

// New creates a client for the node at nodeAddr. A bare host:port is
// treated as plain HTTP.
func New(nodeAddr string) *Client {
	base := strings.TrimRight(nodeAddr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: base,
		http:    &http.Client{},
	}
}

// Health reports whether the node answers.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}

	if err := c.httpGet(ctx, "/health", &resp); err != nil {
		return fmt.Errorf("health:\n%w", err)
	}

	if resp.Status != "ok" {
		return fmt.Errorf("node unhealthy: %q", resp.Status)
	}

	return nil
}

// Status fetches the node's construction state.
func (c *Client) Status(ctx context.Context) (engine.Status, error) {
	var status engine.Status

	if err := c.httpGet(ctx, "/status", &status); err != nil {
		return engine.Status{}, fmt.Errorf("status:\n%w", err)
	}

	return status, nil
}

// Sign asks the node for an aggregate signature on message. The node waits
// up to timeout for enough partial signatures; zero uses its default.
func (c *Client) Sign(ctx context.Context, message []byte, timeout time.Duration) ([]byte, error) {
	body := map[string]string{
		"message": hex.EncodeToString(message),
	}
	if timeout > 0 {
		body["timeout"] = timeout.String()
	}

	var resp struct {
		Signature string `json:"signature"`
	}

	if err := c.httpPostJSON(ctx, "/sign", body, &resp); err != nil {
		return nil, fmt.Errorf("sign:\n%w", err)
	}

	sig, err := hex.DecodeString(resp.Signature)
	if err != nil || len(sig) == 0 {
		return nil, fmt.Errorf("invalid signature: %q", resp.Signature)
	}

	return sig, nil
}

// WaitFor polls Status until cond holds or ctx ends. Transient errors are
// retried.
func (c *Client) WaitFor(ctx context.Context, interval time.Duration, cond func(engine.Status) bool) (engine.Status, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		status, err := c.Status(ctx)
		if err == nil && cond(status) {
			return status, nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return status, errors.Join(ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}

// IsUnavailable reports whether err is the node refusing to sign because
// no scheme is ready yet.
func IsUnavailable(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusServiceUnavailable
}
