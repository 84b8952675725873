// Package github owns shipd's outbound GitHub surface: the
// authenticated API client and commit-status reporting for pipeline
// runs. Webhook parsing lives with the daemon; this package only talks
// back to GitHub.
//
// Status reporting is the one place shipd retries. Pipeline stages
// fail hard and stay failed until the trigger is re-delivered, but a
// dropped status update would strand a commit on "pending" forever, so
// outbound calls retry transient API errors with backoff.
package github

import (
	"context"
	"errors"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/shipd/internal/config"
)

// NewClient returns a GitHub API client authenticated with the token.
func NewClient(ctx context.Context, token config.Secret) (*gh.Client, error) {
	if !token.IsSet() {
		return nil, errors.New("github token is not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	return gh.NewClient(oauth2.NewClient(ctx, ts)), nil
}
