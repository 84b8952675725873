package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/shipd/internal/build"
)

func TestMemTarget_PublishAndExists(t *testing.T) {
	target := NewMemTarget("stable")
	ctx := context.Background()

	ok, err := target.Exists(ctx, "1.4.0")
	require.NoError(t, err)
	assert.False(t, ok)

	err = target.Publish(ctx, &build.Artifact{Name: "widget", Version: "1.4.0"})
	require.NoError(t, err)

	ok, err = target.Exists(ctx, "1.4.0")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemTarget_DuplicateVersionIsFatal(t *testing.T) {
	target := NewMemTarget("stable")
	ctx := context.Background()

	require.NoError(t, target.Publish(ctx, &build.Artifact{Name: "widget", Version: "1.4.0"}))

	err := target.Publish(ctx, &build.Artifact{Name: "widget", Version: "1.4.0"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionExists)
	assert.Contains(t, err.Error(), "1.4.0")
	assert.Contains(t, err.Error(), "stable")

	// The original publish is untouched.
	assert.Equal(t, []string{"1.4.0"}, target.Published())
}

func TestMemTarget_PublishedSorted(t *testing.T) {
	target := NewMemTarget("test")
	ctx := context.Background()

	for _, v := range []string{"1.10.0", "1.2.0", "1.2.0-rc.1"} {
		require.NoError(t, target.Publish(ctx, &build.Artifact{Name: "widget", Version: v}))
	}

	assert.Equal(t, []string{"1.10.0", "1.2.0", "1.2.0-rc.1"}, target.Published())
}

func TestMemTarget_FailWith(t *testing.T) {
	target := NewMemTarget("stable")
	ctx := context.Background()
	boom := errors.New("registry unavailable")

	target.FailWith(boom)
	err := target.Publish(ctx, &build.Artifact{Name: "widget", Version: "1.4.0"})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, target.Published())

	target.FailWith(nil)
	require.NoError(t, target.Publish(ctx, &build.Artifact{Name: "widget", Version: "1.4.0"}))
}

func TestNewOCITarget_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     OCIConfig
		wantErr string
	}{
		{
			name:    "missing name",
			cfg:     OCIConfig{Repository: "registry.example.com/widget/releases"},
			wantErr: "target name is required",
		},
		{
			name:    "missing repository",
			cfg:     OCIConfig{Name: "stable"},
			wantErr: "repository is required",
		},
		{
			name:    "repository with tag",
			cfg:     OCIConfig{Name: "stable", Repository: "registry.example.com/widget:latest"},
			wantErr: "invalid repository",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOCITarget(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewOCITarget_Valid(t *testing.T) {
	target, err := NewOCITarget(OCIConfig{
		Name:       "stable",
		Repository: "registry.example.com/widget/releases",
		PlainHTTP:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "stable", target.Name())
}

func TestNewTokenSource_Static(t *testing.T) {
	ts, err := NewTokenSource(context.Background(), TokenConfig{Token: "s3cret"})
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", tok.AccessToken)
}

func TestNewTokenSource_Validation(t *testing.T) {
	_, err := NewTokenSource(context.Background(), TokenConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_url or token")

	_, err = NewTokenSource(context.Background(), TokenConfig{TokenURL: "https://registry.example.com/oauth/token"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
}

func TestTokenCredential_PassesAccessToken(t *testing.T) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "abc123"})
	fn := TokenCredential(ts)

	cred, err := fn(context.Background(), "registry.example.com")
	require.NoError(t, err)
	assert.Equal(t, "abc123", cred.AccessToken)
	assert.Empty(t, cred.Username)
}
