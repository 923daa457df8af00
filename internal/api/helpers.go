package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"duck-sandbox/internal/domain"
)

// maxBodyBytes bounds request bodies; structured queries are small.
const maxBodyBytes = 1 << 20

// decodeJSON reads the request body into v. Unknown fields are rejected so
// typos in policy or query documents surface as 400s.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.ErrValidation("request body is required")
		}
		return domain.ErrValidation("invalid JSON body: %v", err)
	}
	return nil
}

// pageFromQuery extracts a PageRequest from max_results/page_token params.
func pageFromQuery(r *http.Request) (domain.PageRequest, error) {
	p := domain.PageRequest{PageToken: r.URL.Query().Get("page_token")}
	if v := r.URL.Query().Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, domain.ErrValidation("max_results must be a non-negative integer")
		}
		p.MaxResults = n
	}
	return p, nil
}

// optionalQuery returns a pointer to the query parameter, nil when absent.
func optionalQuery(r *http.Request, name string) *string {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil
	}
	return &v
}

func optionalTime(r *http.Request, name string) (*time.Time, error) {
	v := optionalQuery(r, name)
	if v == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *v)
	if err != nil {
		return nil, domain.ErrValidation("%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}

func pathID(r *http.Request) string {
	return chi.URLParam(r, "id")
}
