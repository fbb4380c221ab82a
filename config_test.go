package fetchgate_test

import (
	"testing"
	"time"

	"github.com/fwojciec/fetchgate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	t.Parallel()

	require.NoError(t, fetchgate.DefaultConfig().Validate())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(cfg *fetchgate.Config)
		wantErr string
	}{
		{
			name:    "zero concurrency",
			mutate:  func(cfg *fetchgate.Config) { cfg.Concurrency = 0 },
			wantErr: "concurrency must be at least 1",
		},
		{
			name:    "negative delay",
			mutate:  func(cfg *fetchgate.Config) { cfg.Delay = -1 },
			wantErr: "delay must be non-negative",
		},
		{
			name:    "factor not greater than one",
			mutate:  func(cfg *fetchgate.Config) { cfg.Backoff.Factor = 1 },
			wantErr: "backoff factor must be greater than 1",
		},
		{
			name: "min delay exceeds max delay",
			mutate: func(cfg *fetchgate.Config) {
				cfg.Backoff.MinDelay = 10
				cfg.Backoff.MaxDelay = 5
			},
			wantErr: "min_delay 10s exceeds max_delay 5s",
		},
		{
			name:    "concurrency decrease factor out of range",
			mutate:  func(cfg *fetchgate.Config) { cfg.Backoff.ConcurrencyDecreaseFactor = 1 },
			wantErr: "concurrency_decrease_factor must be in (0, 1)",
		},
		{
			name:    "zero window",
			mutate:  func(cfg *fetchgate.Config) { cfg.Window = 0 },
			wantErr: "window must be positive",
		},
		{
			name:    "negative quota",
			mutate:  func(cfg *fetchgate.Config) { cfg.Quota = -1 },
			wantErr: "quota must be non-negative",
		},
		{
			name:    "negative global rps",
			mutate:  func(cfg *fetchgate.Config) { cfg.GlobalRPS = -1 },
			wantErr: "global_rps must be non-negative",
		},
		{
			name:    "zero idle ttl",
			mutate:  func(cfg *fetchgate.Config) { cfg.IdleTTL = 0 },
			wantErr: "idle_ttl must be positive",
		},
		{
			name: "robots obey without max delay",
			mutate: func(cfg *fetchgate.Config) {
				cfg.Robots.Obey = true
				cfg.Robots.MaxDelay = 0
			},
			wantErr: "robots.max_delay must be positive",
		},
		{
			name: "invalid jitter range",
			mutate: func(cfg *fetchgate.Config) {
				cfg.Jitter = fetchgate.Jitter{Low: 2, High: 1}
			},
			wantErr: "jitter low bound 2 exceeds high bound 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := fetchgate.DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, fetchgate.EINVALID, fetchgate.ErrorCode(err))
			assert.Contains(t, fetchgate.ErrorMessage(err), tt.wantErr)
		})
	}
}

func TestConfig_Validate_NamesOffendingScope(t *testing.T) {
	t.Parallel()

	zero := 0
	cfg := fetchgate.DefaultConfig()
	cfg.Scopes = map[string]fetchgate.ScopeOverride{
		"api.example.com": {Concurrency: &zero},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, fetchgate.ErrorMessage(err), `scope "api.example.com"`)
	assert.Contains(t, fetchgate.ErrorMessage(err), "concurrency must be at least 1")
}

func TestConfig_ScopeSettings_Defaults(t *testing.T) {
	t.Parallel()

	cfg := fetchgate.DefaultConfig()
	s := cfg.ScopeSettings("anything.example.com")

	assert.Equal(t, fetchgate.DefaultConcurrency, s.Concurrency)
	assert.Equal(t, time.Second, s.Delay)
	assert.Equal(t, time.Second, s.MinDelay)
	assert.Equal(t, 300*time.Second, s.MaxDelay)
	assert.Equal(t, 60*time.Second, s.Window)
	assert.Equal(t, 2.0, s.Factor)
	assert.False(t, s.Explicit)
}

func TestConfig_ScopeSettings_OverrideMerge(t *testing.T) {
	t.Parallel()

	conc := 4
	delay := 0.5
	quota := 100.0
	cfg := fetchgate.DefaultConfig()
	cfg.Scopes = map[string]fetchgate.ScopeOverride{
		"api.example.com": {Concurrency: &conc, Delay: &delay, Quota: &quota},
	}

	s := cfg.ScopeSettings("api.example.com")

	assert.True(t, s.Explicit)
	assert.Equal(t, 4, s.Concurrency)
	assert.Equal(t, 500*time.Millisecond, s.Delay)
	assert.Equal(t, 100.0, s.Quota)
	// Unset fields inherit the defaults.
	assert.Equal(t, 2.0, s.Factor)
	assert.Equal(t, 300*time.Second, s.MaxDelay)

	other := cfg.ScopeSettings("other.example.com")
	assert.False(t, other.Explicit)
	assert.Equal(t, time.Second, other.Delay)
}

func TestJitterAmount(t *testing.T) {
	t.Parallel()

	j := fetchgate.JitterAmount(0.5)

	assert.Equal(t, 0.5, j.Low)
	assert.Equal(t, 1.5, j.High)
	assert.False(t, j.IsZero())
	assert.True(t, fetchgate.Jitter{}.IsZero())
}

func TestJitter_UnmarshalYAML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		want    fetchgate.Jitter
		wantErr bool
	}{
		{
			name: "scalar amount",
			yaml: `jitter: 0.25`,
			want: fetchgate.Jitter{Low: 0.75, High: 1.25},
		},
		{
			name: "explicit bounds",
			yaml: `jitter: [0.8, 1.6]`,
			want: fetchgate.Jitter{Low: 0.8, High: 1.6},
		},
		{
			name:    "wrong element count",
			yaml:    `jitter: [1, 2, 3]`,
			wantErr: true,
		},
		{
			name:    "mapping rejected",
			yaml:    `jitter: {low: 1}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var doc struct {
				Jitter fetchgate.Jitter `yaml:"jitter"`
			}
			err := yaml.Unmarshal([]byte(tt.yaml), &doc)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.Jitter)
		})
	}
}

func TestConfig_UnmarshalYAML(t *testing.T) {
	t.Parallel()

	doc := `
concurrency: 8
delay: 0.25
jitter: 0.1
backoff:
  http_codes: [429, 503]
  factor: 3
  max_delay: 120
robots:
  obey: true
  max_delay: 30
scopes:
  api.example.com:
    concurrency: 2
    quota: 1000
`
	cfg := fetchgate.DefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte(doc), cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 0.25, cfg.Delay)
	assert.Equal(t, fetchgate.Jitter{Low: 0.9, High: 1.1}, cfg.Jitter)
	assert.Equal(t, []int{429, 503}, cfg.Backoff.HTTPCodes)
	assert.Equal(t, 3.0, cfg.Backoff.Factor)
	assert.True(t, cfg.Robots.Obey)

	s := cfg.ScopeSettings("api.example.com")
	assert.Equal(t, 2, s.Concurrency)
	assert.Equal(t, 1000.0, s.Quota)
	assert.Equal(t, 120*time.Second, s.MaxDelay)
}
