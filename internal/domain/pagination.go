package domain

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Page size bounds for list operations.
const (
	DefaultMaxResults = 100
	MaxMaxResults     = 1000
)

// offsetTokenPrefix marks page tokens minted by EncodePageToken.
const offsetTokenPrefix = "off:"

// PageRequest holds the max_results and page_token of a list call. Tokens are
// opaque to callers and encode a row offset.
type PageRequest struct {
	MaxResults int
	PageToken  string
}

// Offset is the row offset the token points at. Malformed tokens restart from
// the first page.
func (p PageRequest) Offset() int {
	if p.PageToken == "" {
		return 0
	}
	raw, err := base64.RawURLEncoding.DecodeString(p.PageToken)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(string(raw), offsetTokenPrefix))
	if err != nil || n < 0 || !strings.HasPrefix(string(raw), offsetTokenPrefix) {
		return 0
	}
	return n
}

// Limit is MaxResults clamped to [1, MaxMaxResults], DefaultMaxResults when unset.
func (p PageRequest) Limit() int {
	switch {
	case p.MaxResults <= 0:
		return DefaultMaxResults
	case p.MaxResults > MaxMaxResults:
		return MaxMaxResults
	}
	return p.MaxResults
}

// EncodePageToken returns "" for the first page.
func EncodePageToken(offset int) string {
	if offset <= 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(offsetTokenPrefix + strconv.Itoa(offset)))
}

// NextPageToken points past the current page, or is "" on the last one.
func NextPageToken(offset, limit int, total int64) string {
	if int64(offset+limit) >= total {
		return ""
	}
	return EncodePageToken(offset + limit)
}
