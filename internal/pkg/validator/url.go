package validator

import (
	"errors"
	"net/url"
	"strings"
)

var allowedSchemes = []string{"https", "http"}

var reservedHeaders = []string{
	"content-type", "content-length", "host", "user-agent",
}

// ValidateWebhookURL checks that raw is an absolute http(s) URL with a host.
func ValidateWebhookURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid url format")
	}

	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range allowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.New("url scheme must be http or https")
	}

	if u.Hostname() == "" {
		return errors.New("url must include a host")
	}
	if u.User != nil {
		return errors.New("url must not embed credentials")
	}

	return nil
}

// ValidateCustomHeaders rejects transport headers that endpoints may not set.
// Signature headers are not listed here; they are silently overridden at send time.
func ValidateCustomHeaders(headers map[string]string) error {
	for name := range headers {
		if strings.TrimSpace(name) == "" {
			return errors.New("header name must not be empty")
		}
		lower := strings.ToLower(name)
		for _, reserved := range reservedHeaders {
			if lower == reserved {
				return errors.New("header " + name + " cannot be overridden")
			}
		}
	}
	return nil
}
