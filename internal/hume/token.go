package hume

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenURL is the Hume client credentials endpoint.
const DefaultTokenURL = "https://api.hume.ai/oauth2-cc/token"

// TokenConfig holds the API key pair used to mint access tokens.
type TokenConfig struct {
	APIKey    string
	SecretKey string
	TokenURL  string
}

// NewTokenSource returns a cached client credentials token source. Tokens
// are refreshed when they expire.
func NewTokenSource(ctx context.Context, cfg TokenConfig) (oauth2.TokenSource, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("hume api key and secret key are required")
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.APIKey,
		ClientSecret: cfg.SecretKey,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return cc.TokenSource(ctx), nil
}
