package fetchgate

import (
	"github.com/google/uuid"
)

// ScopeAssignment maps scope names to quota weights. A weight of 1.0 means
// one concurrency unit. An assignment is attached to a request at creation
// and must be carried across redirects and retries of the same logical
// request rather than re-derived from the (possibly changed) URL.
type ScopeAssignment map[string]float64

// Clone returns an independent copy of the assignment.
func (a ScopeAssignment) Clone() ScopeAssignment {
	if a == nil {
		return nil
	}
	out := make(ScopeAssignment, len(a))
	for name, weight := range a {
		out[name] = weight
	}
	return out
}

// Names returns the scope names in the assignment, in no particular order.
func (a ScopeAssignment) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	return names
}

// Request is a candidate outbound request as seen by the throttling engine.
// The engine treats the request as opaque except for its identity, its
// optional explicit scope assignment, and its priority.
type Request struct {
	// ID is a stable identity for the logical request. It survives
	// redirects and retries.
	ID string

	// URL is the current target. Used only for default scope resolution;
	// the engine never fetches it.
	URL string

	// Scopes is the scope assignment. When nil, the configured Resolver
	// derives it from the URL on first admission and records the result
	// here. Once set the assignment is authoritative and is not
	// re-resolved, so redirects and retries of the same logical request
	// stay throttled under the originally resolved scopes.
	Scopes ScopeAssignment

	// Priority orders requests waiting for admission. Higher is sooner.
	Priority int
}

// NewRequest returns a request for url with a generated ID.
func NewRequest(url string) *Request {
	return &Request{
		ID:  uuid.NewString(),
		URL: url,
	}
}

// WithScopes returns a copy of the request carrying an explicit scope
// assignment. The assignment is cloned so later mutation of the argument
// does not affect the request.
func (r *Request) WithScopes(scopes ScopeAssignment) *Request {
	out := *r
	out.Scopes = scopes.Clone()
	return &out
}

// Redirect returns the request to use after a redirect to url. The logical
// identity, priority, and scope assignment are preserved; only the URL
// changes. Scope assignment does not change mid-flight.
func (r *Request) Redirect(url string) *Request {
	out := *r
	out.URL = url
	return &out
}

// Validate returns an error if the request contains invalid fields.
func (r *Request) Validate() error {
	if r.ID == "" {
		return Errorf(EINVALID, "request ID required")
	}
	for name, weight := range r.Scopes {
		if name == "" {
			return Errorf(EINVALID, "request %s: empty scope name", r.ID)
		}
		if weight <= 0 {
			return Errorf(EINVALID, "request %s: scope %q weight must be positive, got %v", r.ID, name, weight)
		}
	}
	return nil
}
