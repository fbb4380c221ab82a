package fetchgate_test

import (
	"testing"

	"github.com/fwojciec/fetchgate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	t.Parallel()

	req := fetchgate.NewRequest("https://docs.example.com/guide")

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "https://docs.example.com/guide", req.URL)
	assert.Nil(t, req.Scopes)
	assert.Zero(t, req.Priority)
}

func TestRequest_WithScopes_ClonesAssignment(t *testing.T) {
	t.Parallel()

	scopes := fetchgate.ScopeAssignment{"api.example.com": 2}
	req := fetchgate.NewRequest("https://api.example.com/v1").WithScopes(scopes)

	scopes["api.example.com"] = 99

	assert.Equal(t, 2.0, req.Scopes["api.example.com"])
}

func TestRequest_Redirect_PreservesIdentityAndScopes(t *testing.T) {
	t.Parallel()

	req := fetchgate.NewRequest("https://a.example.com/start").
		WithScopes(fetchgate.ScopeAssignment{"a.example.com": 1})
	req.Priority = 5

	redirected := req.Redirect("https://b.example.com/elsewhere")

	assert.Equal(t, req.ID, redirected.ID)
	assert.Equal(t, "https://b.example.com/elsewhere", redirected.URL)
	assert.Equal(t, req.Priority, redirected.Priority)
	assert.Equal(t, req.Scopes, redirected.Scopes)
}

func TestRequest_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     *fetchgate.Request
		wantErr string
	}{
		{
			name: "valid",
			req:  fetchgate.NewRequest("https://example.com"),
		},
		{
			name: "valid with scopes",
			req: fetchgate.NewRequest("https://example.com").
				WithScopes(fetchgate.ScopeAssignment{"example.com": 1, "api-quota": 3}),
		},
		{
			name:    "missing ID",
			req:     &fetchgate.Request{URL: "https://example.com"},
			wantErr: "request ID required",
		},
		{
			name: "empty scope name",
			req: &fetchgate.Request{
				ID:     "r1",
				Scopes: fetchgate.ScopeAssignment{"": 1},
			},
			wantErr: "empty scope name",
		},
		{
			name: "non-positive weight",
			req: &fetchgate.Request{
				ID:     "r1",
				Scopes: fetchgate.ScopeAssignment{"example.com": 0},
			},
			wantErr: "weight must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.req.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, fetchgate.EINVALID, fetchgate.ErrorCode(err))
			assert.Contains(t, fetchgate.ErrorMessage(err), tt.wantErr)
		})
	}
}

func TestScopeAssignment_Clone(t *testing.T) {
	t.Parallel()

	t.Run("nil stays nil", func(t *testing.T) {
		t.Parallel()

		var a fetchgate.ScopeAssignment
		assert.Nil(t, a.Clone())
	})

	t.Run("independent copy", func(t *testing.T) {
		t.Parallel()

		a := fetchgate.ScopeAssignment{"a": 1, "b": 2}
		b := a.Clone()
		b["a"] = 10

		assert.Equal(t, 1.0, a["a"])
		assert.Equal(t, 2.0, b["b"])
	})
}

func TestScopeAssignment_Names(t *testing.T) {
	t.Parallel()

	a := fetchgate.ScopeAssignment{"a.example.com": 1, "api-quota": 2}

	assert.ElementsMatch(t, []string{"a.example.com", "api-quota"}, a.Names())
}
