package cli

import (
	"fmt"
	"net/url"
	"strings"
)

// normalizeHost checks that host is a bare http(s) origin and returns it
// without surrounding whitespace or a trailing slash.
func normalizeHost(host string) (string, error) {
	trimmed := strings.TrimSpace(host)
	if trimmed == "" {
		return "", fmt.Errorf("invalid host: empty")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", host, err)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return "", fmt.Errorf("invalid host %q: want an http:// or https:// URL", host)
	case u.Host == "":
		return "", fmt.Errorf("invalid host %q: no host name", host)
	case strings.Trim(u.Path, "/") != "":
		return "", fmt.Errorf("invalid host %q: drop the path, /api is added automatically", host)
	case u.RawQuery != "" || u.Fragment != "" || u.User != nil:
		return "", fmt.Errorf("invalid host %q: only scheme, host and port are allowed", host)
	}
	return u.Scheme + "://" + u.Host, nil
}

func validateOutputFormat(output string) error {
	switch output {
	case "", "table", "json":
		return nil
	}
	return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
}
