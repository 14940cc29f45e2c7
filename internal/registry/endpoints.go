package registry

import (
	"net"
	"net/url"
	"strings"
)

// Dashboard API routes consumed by the orchestrator.
const (
	ParsePath        = "/api/parse"
	FriendsPath      = "/api/friends"
	EventTriggerPath = "/api/event-trigger"
)

// IsAllowedAPIBaseURL accepts https URLs, and plain http only for loopback
// hosts used in local development.
func IsAllowedAPIBaseURL(endpoint string) bool {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return false
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if isLoopbackHost(parsed.Hostname()) {
		return scheme == "http" || scheme == "https"
	}
	return scheme == "https"
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
