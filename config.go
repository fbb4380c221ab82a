package fetchgate

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values. Durations are expressed in seconds to
// match the configuration file format.
const (
	DefaultConcurrency               = 1
	DefaultDelay                     = 1.0
	DefaultBackoffFactor             = 2.0
	DefaultBackoffMinDelay           = 1.0
	DefaultBackoffMaxDelay           = 300.0
	DefaultConcurrencyDecreaseFactor = 0.5
	DefaultWindow                    = 60.0
	DefaultRampupBackoffTarget       = 1
	DefaultIdleTTL                   = 300.0
	DefaultQuotaCostHeader           = "X-Request-Cost"
	DefaultRobotsMaxDelay            = 60.0
)

// DefaultBackoffHTTPCodes are the status codes treated as backoff-worthy
// when no explicit set is configured.
func DefaultBackoffHTTPCodes() []int {
	return []int{408, 429, 500, 502, 503, 504, 522, 524}
}

// DefaultBackoffExceptions are the transport failure kinds treated as
// backoff-worthy when no explicit set is configured.
func DefaultBackoffExceptions() []string {
	return []string{"timeout", "connection-refused", "connection-reset", "dns-error"}
}

// Jitter is the multiplicative randomization applied to a scope's delay on
// each dispatch. The effective delay is delay * f where f is drawn
// uniformly from [Low, High]. Jitter exists to avoid thundering-herd
// synchronization across concurrent slots of the same scope.
//
// In YAML a jitter may be given as a scalar j (meaning [1-j, 1+j]) or as a
// two-element sequence [low, high] for asymmetric ranges.
type Jitter struct {
	Low  float64
	High float64
}

// JitterAmount returns the symmetric jitter [1-j, 1+j].
func JitterAmount(j float64) Jitter {
	return Jitter{Low: 1 - j, High: 1 + j}
}

// IsZero reports whether the jitter is unset. An unset jitter leaves the
// delay unmodified.
func (j Jitter) IsZero() bool {
	return j.Low == 0 && j.High == 0
}

// Validate returns an error if the jitter range is invalid.
func (j Jitter) Validate() error {
	if j.IsZero() {
		return nil
	}
	if j.Low < 0 {
		return Errorf(EINVALID, "jitter low bound must be non-negative, got %v", j.Low)
	}
	if j.Low > j.High {
		return Errorf(EINVALID, "jitter low bound %v exceeds high bound %v", j.Low, j.High)
	}
	return nil
}

// UnmarshalYAML decodes a scalar jitter amount or a [low, high] sequence.
func (j *Jitter) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var amount float64
		if err := node.Decode(&amount); err != nil {
			return fmt.Errorf("jitter: %w", err)
		}
		*j = JitterAmount(amount)
		return nil
	case yaml.SequenceNode:
		var bounds []float64
		if err := node.Decode(&bounds); err != nil {
			return fmt.Errorf("jitter: %w", err)
		}
		if len(bounds) != 2 {
			return fmt.Errorf("jitter: expected 2 elements, got %d", len(bounds))
		}
		*j = Jitter{Low: bounds[0], High: bounds[1]}
		return nil
	default:
		return fmt.Errorf("jitter: expected scalar or sequence")
	}
}

// BackoffConfig holds the feedback classification sets and the backoff
// dynamics for a scope.
type BackoffConfig struct {
	// HTTPCodes is the set of status codes classified as backoff-worthy.
	HTTPCodes []int `yaml:"http_codes"`

	// Exceptions is the set of transport failure kinds classified as
	// backoff-worthy.
	Exceptions []string `yaml:"exceptions"`

	// Factor multiplies the current delay on each backoff event.
	Factor float64 `yaml:"factor"`

	// MinDelay and MaxDelay bound the current delay, in seconds.
	MinDelay float64 `yaml:"min_delay"`
	MaxDelay float64 `yaml:"max_delay"`

	// ConcurrencyDecreaseFactor shrinks the concurrency limit once
	// delay-only backoff is saturated at MaxDelay.
	ConcurrencyDecreaseFactor float64 `yaml:"concurrency_decrease_factor"`
}

// RobotsConfig controls how robots Crawl-Delay declarations are applied.
type RobotsConfig struct {
	// Obey enables the Crawl-Delay override.
	Obey bool `yaml:"obey"`

	// MaxDelay caps a declared Crawl-Delay, in seconds.
	MaxDelay float64 `yaml:"max_delay"`
}

// ScopeOverride overrides selected settings for one named scope. Nil
// fields inherit the global defaults. An explicit override wins over a
// robots Crawl-Delay declaration.
type ScopeOverride struct {
	Concurrency               *int     `yaml:"concurrency"`
	Delay                     *float64 `yaml:"delay"`
	Jitter                    *Jitter  `yaml:"jitter"`
	Factor                    *float64 `yaml:"factor"`
	MinDelay                  *float64 `yaml:"min_delay"`
	MaxDelay                  *float64 `yaml:"max_delay"`
	ConcurrencyDecreaseFactor *float64 `yaml:"concurrency_decrease_factor"`
	Window                    *float64 `yaml:"window"`
	RampupBackoffTarget       *int     `yaml:"rampup_backoff_target"`
	Quota                     *float64 `yaml:"quota"`
}

// Config is the immutable engine configuration. It is constructed once
// (typically from a YAML file plus defaults) and passed by reference into
// the gate at construction; it is never read ad hoc at runtime.
type Config struct {
	// Concurrency is the default per-scope concurrency limit.
	Concurrency int `yaml:"concurrency"`

	// Delay is the default minimum inter-request delay per concurrency
	// unit, in seconds.
	Delay float64 `yaml:"delay"`

	// Jitter randomizes the effective delay per dispatch.
	Jitter Jitter `yaml:"jitter"`

	// Backoff holds classification sets and backoff dynamics.
	Backoff BackoffConfig `yaml:"backoff"`

	// Window is the rampup and quota accounting window, in seconds.
	Window float64 `yaml:"window"`

	// RampupBackoffTarget is the maximum number of backoff events in a
	// window that still permits a rampup step at the window boundary.
	RampupBackoffTarget int `yaml:"rampup_backoff_target"`

	// Quota is the default per-scope quota per window. Zero disables
	// quota tracking.
	Quota float64 `yaml:"quota"`

	// QuotaCostHeader names the response header carrying the actual cost
	// of a request, used to reconcile the quota ledger.
	QuotaCostHeader string `yaml:"quota_cost_header"`

	// GlobalRPS is an optional ceiling on total dispatches per second
	// across all scopes. Zero disables it.
	GlobalRPS float64 `yaml:"global_rps"`

	// IdleTTL is how long a scope with no in-flight requests and no
	// waiters is kept before eviction, in seconds.
	IdleTTL float64 `yaml:"idle_ttl"`

	// Robots controls Crawl-Delay handling.
	Robots RobotsConfig `yaml:"robots"`

	// Scopes holds per-scope overrides keyed by scope name.
	Scopes map[string]ScopeOverride `yaml:"scopes"`
}

// DefaultConfig returns a config populated with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Concurrency: DefaultConcurrency,
		Delay:       DefaultDelay,
		Jitter:      JitterAmount(0.5),
		Backoff: BackoffConfig{
			HTTPCodes:                 DefaultBackoffHTTPCodes(),
			Exceptions:                DefaultBackoffExceptions(),
			Factor:                    DefaultBackoffFactor,
			MinDelay:                  DefaultBackoffMinDelay,
			MaxDelay:                  DefaultBackoffMaxDelay,
			ConcurrencyDecreaseFactor: DefaultConcurrencyDecreaseFactor,
		},
		Window:              DefaultWindow,
		RampupBackoffTarget: DefaultRampupBackoffTarget,
		QuotaCostHeader:     DefaultQuotaCostHeader,
		IdleTTL:             DefaultIdleTTL,
		Robots: RobotsConfig{
			MaxDelay: DefaultRobotsMaxDelay,
		},
	}
}

// Validate returns an error naming the offending scope and setting if the
// configuration is invalid. Configuration errors fail fast at gate
// construction and never degrade silently.
func (c *Config) Validate() error {
	if err := validateSettings("defaults", c.settings("")); err != nil {
		return err
	}
	if c.GlobalRPS < 0 {
		return Errorf(EINVALID, "defaults: global_rps must be non-negative, got %v", c.GlobalRPS)
	}
	if c.IdleTTL <= 0 {
		return Errorf(EINVALID, "defaults: idle_ttl must be positive, got %v", c.IdleTTL)
	}
	if c.Robots.Obey && c.Robots.MaxDelay <= 0 {
		return Errorf(EINVALID, "defaults: robots.max_delay must be positive, got %v", c.Robots.MaxDelay)
	}
	for name := range c.Scopes {
		if name == "" {
			return Errorf(EINVALID, "scope overrides: empty scope name")
		}
		if err := validateSettings(fmt.Sprintf("scope %q", name), c.settings(name)); err != nil {
			return err
		}
	}
	return nil
}

func validateSettings(where string, s ScopeSettings) error {
	if s.Concurrency < 1 {
		return Errorf(EINVALID, "%s: concurrency must be at least 1, got %d", where, s.Concurrency)
	}
	if s.Delay < 0 {
		return Errorf(EINVALID, "%s: delay must be non-negative, got %v", where, s.Delay)
	}
	if s.Factor <= 1 {
		return Errorf(EINVALID, "%s: backoff factor must be greater than 1, got %v", where, s.Factor)
	}
	if s.MinDelay <= 0 {
		return Errorf(EINVALID, "%s: backoff min_delay must be positive, got %v", where, s.MinDelay)
	}
	if s.MinDelay > s.MaxDelay {
		return Errorf(EINVALID, "%s: backoff min_delay %v exceeds max_delay %v", where, s.MinDelay, s.MaxDelay)
	}
	if s.ConcurrencyDecreaseFactor <= 0 || s.ConcurrencyDecreaseFactor >= 1 {
		return Errorf(EINVALID, "%s: concurrency_decrease_factor must be in (0, 1), got %v", where, s.ConcurrencyDecreaseFactor)
	}
	if s.Window <= 0 {
		return Errorf(EINVALID, "%s: window must be positive, got %v", where, s.Window)
	}
	if s.RampupBackoffTarget < 0 {
		return Errorf(EINVALID, "%s: rampup_backoff_target must be non-negative, got %d", where, s.RampupBackoffTarget)
	}
	if s.Quota < 0 {
		return Errorf(EINVALID, "%s: quota must be non-negative, got %v", where, s.Quota)
	}
	if err := s.Jitter.Validate(); err != nil {
		return Errorf(EINVALID, "%s: %s", where, ErrorMessage(err))
	}
	return nil
}

// ScopeSettings is the resolved, concrete configuration for one scope:
// global defaults merged with the scope's override, with durations in
// native form.
type ScopeSettings struct {
	Concurrency               int
	Delay                     time.Duration
	Jitter                    Jitter
	Factor                    float64
	MinDelay                  time.Duration
	MaxDelay                  time.Duration
	ConcurrencyDecreaseFactor float64
	Window                    time.Duration
	RampupBackoffTarget       int
	Quota                     float64

	// Explicit reports whether a per-scope override exists. Explicit
	// settings win over robots Crawl-Delay declarations.
	Explicit bool
}

// ScopeSettings resolves the effective settings for the named scope.
func (c *Config) ScopeSettings(name string) ScopeSettings {
	return c.settings(name)
}

func (c *Config) settings(name string) ScopeSettings {
	s := ScopeSettings{
		Concurrency:               c.Concurrency,
		Delay:                     secs(c.Delay),
		Jitter:                    c.Jitter,
		Factor:                    c.Backoff.Factor,
		MinDelay:                  secs(c.Backoff.MinDelay),
		MaxDelay:                  secs(c.Backoff.MaxDelay),
		ConcurrencyDecreaseFactor: c.Backoff.ConcurrencyDecreaseFactor,
		Window:                    secs(c.Window),
		RampupBackoffTarget:       c.RampupBackoffTarget,
		Quota:                     c.Quota,
	}
	ov, ok := c.Scopes[name]
	if !ok {
		return s
	}
	s.Explicit = true
	if ov.Concurrency != nil {
		s.Concurrency = *ov.Concurrency
	}
	if ov.Delay != nil {
		s.Delay = secs(*ov.Delay)
	}
	if ov.Jitter != nil {
		s.Jitter = *ov.Jitter
	}
	if ov.Factor != nil {
		s.Factor = *ov.Factor
	}
	if ov.MinDelay != nil {
		s.MinDelay = secs(*ov.MinDelay)
	}
	if ov.MaxDelay != nil {
		s.MaxDelay = secs(*ov.MaxDelay)
	}
	if ov.ConcurrencyDecreaseFactor != nil {
		s.ConcurrencyDecreaseFactor = *ov.ConcurrencyDecreaseFactor
	}
	if ov.Window != nil {
		s.Window = secs(*ov.Window)
	}
	if ov.RampupBackoffTarget != nil {
		s.RampupBackoffTarget = *ov.RampupBackoffTarget
	}
	if ov.Quota != nil {
		s.Quota = *ov.Quota
	}
	return s
}

// secs converts a duration in seconds to a time.Duration.
func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
