// Package kommo wraps the Kommo CRM REST API and the Kommo Chats API used to
// reply to customers.
package kommo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tecbrilho/erika-relay/pkg/logging"
)

const defaultUserAgent = "erika-relay/1.0"

// Config controls how the CRM client behaves.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	Stages     StageMap
}

// Client talks to the Kommo CRM v4 REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
	stages     StageMap
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("kommo: base URL is required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("kommo: token is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		stages:     cfg.Stages,
	}, nil
}

// invoke performs one API call, retrying 429/5xx and transient network
// errors. A 204 response yields (nil, nil).
func (c *Client) invoke(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("kommo: marshal %s body: %w", path, err)
		}
	}
	fullURL := c.buildURL(path, query)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("kommo: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", defaultUserAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !shouldRetry(0, err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("kommo: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("kommo: read response: %w", readErr)
		}
		if resp.StatusCode == http.StatusNoContent {
			return nil, nil
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt < c.maxRetries && shouldRetry(resp.StatusCode, nil) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("kommo: request failed without response")
}

func (c *Client) buildURL(path string, query url.Values) string {
	full := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		full = full + "?" + query.Encode()
	}
	return full
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	c.logger.Warn("kommo retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// APIError is a non-2xx Kommo response.
type APIError struct {
	StatusCode int    `json:"-"`
	Title      string `json:"title,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("kommo: %s (status=%d)", e.Title, e.StatusCode)
	}
	if e.Detail != "" {
		return fmt.Sprintf("kommo: %s (status=%d)", e.Detail, e.StatusCode)
	}
	return fmt.Sprintf("kommo: http status %d", e.StatusCode)
}

func decodeAPIError(status int, body []byte) error {
	var parsed APIError
	if err := json.Unmarshal(body, &parsed); err != nil {
		detail := strings.TrimSpace(string(body))
		if len(detail) > 256 {
			detail = detail[:256]
		}
		return &APIError{StatusCode: status, Detail: detail}
	}
	parsed.StatusCode = status
	return &parsed
}
