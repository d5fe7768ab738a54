package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// StatusError is returned when a node answers with an unexpected status.
type StatusError struct {
	Method  string // Method is the HTTP method
	Path    string // Path is the request path
	Code    int    // Code is the HTTP status code
	Message string // Message is the error reported by the node, if any
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}

	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Message)
}

// httpGet performs a GET request and decodes the JSON response.
func (c *Client) httpGet(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request:\n%w", err)
	}

	return c.do(req, path, result)
}

// httpPostJSON performs a POST request with a JSON body and decodes the JSON response.
func (c *Client) httpPostJSON(ctx context.Context, path string, body any, result any) error {
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body:\n%w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBytes))
	if err != nil {
		return fmt.Errorf("build request:\n%w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, path, result)
}

func (c *Client) do(req *http.Request, path string, result any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s:\n%w", req.Method, path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)

		return &StatusError{Method: req.Method, Path: path, Code: resp.StatusCode, Message: apiErr.Error}
	}

	if result == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s response:\n%w", path, err)
	}

	return nil
}
