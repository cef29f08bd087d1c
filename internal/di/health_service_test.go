package di_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/di"
)

func TestJWKSEndpointsCollection(t *testing.T) {
	t.Parallel()

	cfg := di.MustTestConfig()
	cfg.Auth.Strategies = []config.StrategyConfig{
		{
			Type:    config.StrategyJWT,
			JWKSURL: "https://issuer-a.example.com/jwks.json",
		},
		{
			Type: config.StrategyJWT,
			Domains: map[string]config.DomainConfig{
				"tenant-a": {JWKSURL: "https://issuer-b.example.com/jwks.json"},
				// Same endpoint as the flat strategy above; must not double up.
				"tenant-b": {JWKSURL: "https://issuer-a.example.com/jwks.json"},
				"tenant-c": {Secret: "local-secret"},
			},
		},
		{
			Type:   config.StrategyStatic,
			Tokens: []config.StaticTokenConfig{{Token: "tok"}},
		},
	}

	urls := di.JWKSEndpoints(&cfg)

	assert.Len(t, urls, 2)
	assert.Contains(t, urls, "https://issuer-a.example.com/jwks.json")
	assert.Contains(t, urls, "https://issuer-b.example.com/jwks.json")
}

func TestJWKSEndpointsEmptyWithoutJWT(t *testing.T) {
	t.Parallel()

	cfg := di.MustTestConfig()
	cfg.Auth.Strategies = []config.StrategyConfig{
		{Type: config.StrategyStatic, Tokens: []config.StaticTokenConfig{{Token: "tok"}}},
		{Type: config.StrategyAnonymous},
	}

	assert.Empty(t, di.JWKSEndpoints(&cfg))
}
