package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// maxRequestSize bounds a request body.
	maxRequestSize = 64 << 10

	// maxMessageSize bounds a message to sign.
	maxMessageSize = 16 << 10

	// defaultSignTimeout is used when a request does not name one.
	defaultSignTimeout = 10 * time.Second

	// maxSignTimeout caps the requested timeout.
	maxSignTimeout = time.Minute
)

// parseSignRequest validates a POST /sign body and returns the decoded
// message and the timeout to wait for.
func parseSignRequest(body []byte) ([]byte, time.Duration, error) {
	if len(body) == 0 {
		return nil, 0, fmt.Errorf("empty request")
	}

	var req SignRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, 0, fmt.Errorf("invalid json: %v", err)
	}

	message, err := hex.DecodeString(req.Message)
	if err != nil {
		return nil, 0, fmt.Errorf("message is not hex: %v", err)
	}

	if len(message) == 0 {
		return nil, 0, fmt.Errorf("empty message")
	}

	if len(message) > maxMessageSize {
		return nil, 0, fmt.Errorf("message too large: %d > %d", len(message), maxMessageSize)
	}

	timeout, err := parseTimeout(req.Timeout)
	if err != nil {
		return nil, 0, err
	}

	return message, timeout, nil
}

// parseTimeout parses a duration, defaulting and capping it.
func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return defaultSignTimeout, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}

	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive")
	}

	return min(d, maxSignTimeout), nil
}
