package registry

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"oras.land/oras-go/v2/registry/remote/auth"

	"github.com/fyrsmithlabs/shipd/internal/config"
)

// TokenConfig describes how to obtain credentials for a registry.
//
// When TokenURL is set the target authenticates through a short-lived
// token minted by the registry's OAuth endpoint (trusted publishing);
// no long-lived secret ever reaches the publish step. Otherwise Token
// is used as-is.
type TokenConfig struct {
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret config.Secret `yaml:"client_secret"`
	Scopes       []string      `yaml:"scopes"`
	Token        config.Secret `yaml:"token"`
}

// NewTokenSource builds an OAuth2 token source from cfg.
func NewTokenSource(ctx context.Context, cfg TokenConfig) (oauth2.TokenSource, error) {
	if cfg.TokenURL != "" {
		if cfg.ClientID == "" {
			return nil, errors.New("client_id is required when token_url is set")
		}
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret.Value(),
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		return cc.TokenSource(ctx), nil
	}
	if cfg.Token.IsSet() {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()}), nil
	}
	return nil, errors.New("either token_url or token is required")
}

// TokenCredential adapts an OAuth2 token source to the credential
// callback the OCI registry client expects. Tokens are fetched lazily
// so refreshes happen transparently on long publishes.
func TokenCredential(ts oauth2.TokenSource) auth.CredentialFunc {
	return func(ctx context.Context, hostport string) (auth.Credential, error) {
		tok, err := ts.Token()
		if err != nil {
			return auth.EmptyCredential, err
		}
		return auth.Credential{AccessToken: tok.AccessToken}, nil
	}
}
