// Package fetchgate provides adaptive request throttling for web crawlers.
// Every candidate outbound request is admitted against one or more named
// scopes (a domain, an API key, a cost budget), each with its own
// concurrency limit, inter-request delay, backoff state, and optional
// quota. A request is dispatched only when every scope it belongs to
// allows it; server feedback raises delays multiplicatively and lowers
// them gradually.
//
// This package contains domain types and interfaces following Ben
// Johnson's Standard Package Layout. Implementations live in
// subdirectories named after their primary dependency (e.g., throttle/,
// publicsuffix/, sqlite/).
package fetchgate
