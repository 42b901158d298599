// Package allowlist restricts outbound calls to a fixed set of provider hosts.
package allowlist

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrForbiddenDomain = errors.New("domain not allowed")
	ErrInvalidURL      = errors.New("invalid url")
)

// DomainError reports the host that was rejected. It matches
// ErrForbiddenDomain under errors.Is.
type DomainError struct {
	Host string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%v: %s", ErrForbiddenDomain, e.Host)
}

func (e *DomainError) Unwrap() error {
	return ErrForbiddenDomain
}

// Guard accepts a URL only when its host equals, or is a subdomain of, one
// of the configured hosts. It is safe for concurrent use.
type Guard struct {
	hosts []string
}

// New builds a Guard from the given hosts. Entries are lower-cased and
// trimmed; empty entries are dropped.
func New(hosts []string) *Guard {
	g := &Guard{}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			g.hosts = append(g.hosts, h)
		}
	}
	return g
}

// Check parses rawURL and returns it if the host is allowed.
func (g *Guard) Check(rawURL string) (*url.URL, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if !g.Allowed(host) {
		return nil, &DomainError{Host: host}
	}
	return u, nil
}

// Allowed reports whether host is on the list.
func (g *Guard) Allowed(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, h := range g.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Hosts returns a copy of the allowed hosts.
func (g *Guard) Hosts() []string {
	out := make([]string, len(g.hosts))
	copy(out, g.hosts)
	return out
}
