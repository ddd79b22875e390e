package vapid

import (
	"fmt"
	"net/url"
	"strings"
)

// Audience returns the origin of a push endpoint: scheme and host, with the
// port only when it is not the scheme default.
//
//	https://push.example.com:8443/abc/123?x=1 -> https://push.example.com:8443
func Audience(endpoint string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("vapid: endpoint: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "https" && scheme != "http" {
		return "", fmt.Errorf("vapid: endpoint %q: scheme must be http or https", endpoint)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("vapid: endpoint %q: missing host", endpoint)
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host, nil
}
