// Package publicsuffix provides scope resolvers built on the public
// suffix list.
package publicsuffix

import (
	"net/url"
	"strings"

	"github.com/fwojciec/fetchgate"
	"golang.org/x/net/publicsuffix"
)

// Compile-time interface verification.
var _ fetchgate.Resolver = (*HostResolver)(nil)
var _ fetchgate.Resolver = (*DomainResolver)(nil)

// HostResolver maps a request to a single scope named after its target
// host. Subdomains are distinct scopes: docs.example.com and
// www.example.com throttle independently.
type HostResolver struct{}

// NewHostResolver returns a resolver keyed by full host.
func NewHostResolver() *HostResolver {
	return &HostResolver{}
}

// Resolve returns a single-scope assignment keyed by the request's host
// with weight 1.
func (r *HostResolver) Resolve(req *fetchgate.Request) (fetchgate.ScopeAssignment, error) {
	host, err := hostOf(req.URL)
	if err != nil {
		return nil, err
	}
	return fetchgate.ScopeAssignment{host: 1}, nil
}

// DomainResolver maps a request to a single scope named after its
// registrable domain (eTLD+1), so all subdomains of a site share one
// throttle scope.
type DomainResolver struct{}

// NewDomainResolver returns a resolver keyed by registrable domain.
func NewDomainResolver() *DomainResolver {
	return &DomainResolver{}
}

// Resolve returns a single-scope assignment keyed by the registrable
// domain of the request's host with weight 1. Hosts without a registrable
// domain (IP addresses, single labels) fall back to the host itself.
func (r *DomainResolver) Resolve(req *fetchgate.Request) (fetchgate.ScopeAssignment, error) {
	host, err := hostOf(req.URL)
	if err != nil {
		return nil, err
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return fetchgate.ScopeAssignment{host: 1}, nil
	}
	return fetchgate.ScopeAssignment{domain: 1}, nil
}

// hostOf extracts the lowercased hostname (without port) from a URL.
func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fetchgate.Errorf(fetchgate.EINVALID, "invalid URL %q: %v", rawURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fetchgate.Errorf(fetchgate.EINVALID, "URL %q has no host", rawURL)
	}
	return host, nil
}
