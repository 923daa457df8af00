// Package client is the HTTP client the duck-sandbox CLI uses to talk to
// the /api tree.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIPrefix is prepended to every request path.
const APIPrefix = "/api"

// Client is a thin JSON client for the duck-sandbox API.
type Client struct {
	BaseURL    string
	APIKey     string
	Token      string
	HTTPClient *http.Client
}

// NewClient returns a client for baseURL. A bearer token takes precedence
// over the API key when both are set.
func NewClient(baseURL, apiKey, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Do sends a request to path below /api. body, when non-nil, is encoded as
// JSON. The caller closes the response body.
func (c *Client) Do(method, path string, query url.Values, body interface{}) (*http.Response, error) {
	u := strings.TrimRight(c.BaseURL, "/") + APIPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	switch {
	case c.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.Token)
	case c.APIKey != "":
		req.Header.Set("X-API-Key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

// DoJSON sends a request, checks the status and decodes the response into
// out. out may be nil for responses without a body.
func (c *Client) DoJSON(method, path string, query url.Values, body, out interface{}) error {
	resp, err := c.Do(method, path, query, body)
	if err != nil {
		return err
	}
	if err := CheckError(resp); err != nil {
		return err
	}
	data, err := ReadBody(resp)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// APIError is a non-2xx response.
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.HTTPStatus, e.Message)
}

// errorBody is the server's error envelope.
type errorBody struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// CheckError returns an *APIError for non-2xx responses and consumes the
// body. Successful responses are left untouched.
func CheckError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := ReadBody(resp)

	apiErr := &APIError{HTTPStatus: resp.StatusCode, Message: string(data)}
	var body errorBody
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Code = body.ErrorType
	}
	return apiErr
}

// ReadBody reads and closes the response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close() //nolint:errcheck
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return data, nil
}
