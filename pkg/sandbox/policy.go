package sandbox

import (
	"fmt"
	"net/url"
	"strings"
)

// Policy is the network allow-list attached to a job. Hosts come from the
// template registry or from the URLs embedded in the oracle question; the
// sandbox service enforces it, we just compute and validate it.
type Policy struct {
	AllowedHosts []string
}

// DefaultPolicy denies all outbound traffic.
func DefaultPolicy() Policy {
	return Policy{}
}

// Allow adds a host to the policy. Duplicates are collapsed.
func (p *Policy) Allow(host string) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return
	}
	for _, h := range p.AllowedHosts {
		if h == host {
			return
		}
	}
	p.AllowedHosts = append(p.AllowedHosts, host)
}

// AllowURL extracts the host from a URL and adds it.
func (p *Policy) AllowURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("policy: bad url: %w", err)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("policy: url %q has no host", raw)
	}
	p.Allow(u.Hostname())
	return nil
}

// Permits reports whether the policy allows the host.
func (p Policy) Permits(host string) bool {
	host = strings.ToLower(host)
	for _, h := range p.AllowedHosts {
		if h == host {
			return true
		}
	}
	return false
}
