package utils

import (
	"net/url"
	"strings"
)

// AppendQueryParam adds key=value to a URL, keeping any existing query
// string intact. Malformed URLs fall back to naive concatenation.
func AppendQueryParam(rawURL, key, value string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		separator := "?"
		if strings.Contains(rawURL, "?") {
			separator = "&"
		}
		return rawURL + separator + key + "=" + url.QueryEscape(value)
	}
	query := parsed.Query()
	query.Set(key, value)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// TrimBaseURL normalizes a configured base URL for path joining.
func TrimBaseURL(base string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/")
}
