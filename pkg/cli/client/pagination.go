package client

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// PaginatedResponse is the list envelope every list endpoint returns.
type PaginatedResponse struct {
	Data          []interface{} `json:"data"`
	Total         int64         `json:"total,omitempty"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

// FetchAllPages follows next_page_token until the server stops returning
// one and concatenates the pages. query is copied, never mutated.
func FetchAllPages(c *Client, method, path string, query url.Values) ([]interface{}, error) {
	var (
		all   []interface{}
		token string
	)
	for {
		q := url.Values{}
		for k, v := range query {
			q[k] = append([]string(nil), v...)
		}
		if token != "" {
			q.Set("page_token", token)
		}

		resp, err := c.Do(method, path, q, nil)
		if err != nil {
			return nil, err
		}
		if err := CheckError(resp); err != nil {
			return nil, err
		}
		data, err := ReadBody(resp)
		if err != nil {
			return nil, err
		}

		var page PaginatedResponse
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		all = append(all, page.Data...)
		if page.NextPageToken == "" {
			return all, nil
		}
		token = page.NextPageToken
	}
}
