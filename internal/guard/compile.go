package guard

import (
	"context"
	"fmt"
	"os"

	"github.com/samber/lo"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/cache"
	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/health"
)

// Backends are the shared runtime services a compiled pipeline draws on.
type Backends struct {
	// Cache memoizes verified payloads and introspection results.
	// nil disables payload caching regardless of the configured TTL.
	Cache cache.Cache

	// Tracker supplies circuit breakers for remote verification targets
	// (JWKS endpoints, introspection endpoints). nil leaves them unguarded.
	Tracker *health.Tracker
}

// breaker returns the circuit for a target, or nil when no tracker is wired.
func (b Backends) breaker(target string) *health.CircuitBreaker {
	if b.Tracker == nil {
		return nil
	}
	return b.Tracker.GetOrCreateCircuit(target)
}

// Compile builds a guard from configuration. The strategy chain, exclusion
// rules, and response dispatcher are all resolved here so per-request
// processing touches only immutable state. ctx bounds background JWKS
// refreshes; cancel it when the guard is discarded.
func Compile(ctx context.Context, cfg *config.Config, backends Backends, hooks Hooks) (*Guard, error) {
	var chain *auth.Chain
	if cfg.Auth.IsEnabled() {
		payloads := auth.NewPayloadCache(backends.Cache, cfg.Auth.GetCacheTTLOption().OrElse(0), cfg.Auth.Fingerprint())

		strategies := make([]auth.Authenticator, 0, len(cfg.Auth.Strategies))
		for i, sc := range cfg.Auth.Strategies {
			strategy, err := compileStrategy(ctx, cfg, &sc, payloads, backends)
			if err != nil {
				return nil, fmt.Errorf("guard: strategies[%d]: %w", i, err)
			}
			strategies = append(strategies, strategy)
		}
		chain = auth.NewChain(strategies...)
	}

	specs := lo.Map(cfg.Auth.Exclusions, func(rule config.ExclusionRule, _ int) auth.RuleSpec {
		return auth.RuleSpec{Pattern: rule.Pattern, Methods: rule.Methods}
	})
	exclusions, err := auth.CompileExclusions(cfg.Server.BasePath, specs)
	if err != nil {
		return nil, err
	}

	g := New(chain, exclusions, dispatcherFromConfig(&cfg.Auth.Responses), cfg.Auth.ContinueOnError, hooks)
	g.logExclusions = cfg.Logging.DebugOptions.LogExclusionMatches
	return g, nil
}

// dispatcherFromConfig builds the denial dispatcher from the responses section.
func dispatcherFromConfig(rc *config.ResponsesConfig) *Dispatcher {
	return NewDispatcher(Statuses{
		Unauthorized: rc.GetUnauthorizedStatus(),
		BadRequest:   rc.GetBadRequestStatus(),
		ServerError:  rc.GetServerErrorStatus(),
	}, rc.BodyTemplate)
}

// compileStrategy builds one authenticator from its config entry.
func compileStrategy(
	ctx context.Context, cfg *config.Config, sc *config.StrategyConfig, payloads *auth.PayloadCache, backends Backends,
) (auth.Authenticator, error) {
	header := cfg.Auth.GetHeader()
	scheme := cfg.Auth.GetScheme()

	switch sc.Type {
	case config.StrategyJWT:
		return compileJWT(ctx, cfg, sc, payloads, backends)

	case config.StrategyStatic:
		tokens := lo.Map(sc.Tokens, func(t config.StaticTokenConfig, _ int) auth.StaticToken {
			return auth.StaticToken{Secret: t.Token, Subject: t.Subject}
		})
		return auth.NewStaticAuthenticator(header, scheme, tokens), nil

	case config.StrategyIntrospect:
		opts := auth.IntrospectOptions{
			Endpoint:     sc.Endpoint,
			ClientID:     sc.ClientID,
			ClientSecret: sc.ClientSecret,
			TokenURL:     sc.TokenURL,
			Timeout:      sc.GetTimeoutOption().OrElse(0),
		}
		breaker := backends.breaker("introspect:" + sc.Endpoint)
		return auth.NewIntrospectAuthenticator(header, scheme, opts, breaker, payloads), nil

	case config.StrategyAnonymous:
		return auth.NewAnonymousAuthenticator(), nil

	default:
		return nil, fmt.Errorf("unknown strategy type %q", sc.Type)
	}
}

// compileJWT resolves key material for the flat triple and every domain table
// entry. A resolved domain substitutes its whole triple; there is no per-field
// inheritance from the flat configuration.
func compileJWT(
	ctx context.Context, cfg *config.Config, sc *config.StrategyConfig, payloads *auth.PayloadCache, backends Backends,
) (auth.Authenticator, error) {
	flatKey, err := keyMaterial(ctx, sc.JWKSURL, sc.PublicKeyFile, sc.Secret, backends)
	if err != nil {
		return nil, err
	}
	flat := auth.DomainKeys{Audience: sc.Audience, Issuer: sc.Issuer, Key: flatKey}

	var table auth.DomainTable
	if len(sc.Domains) > 0 {
		table = make(auth.DomainTable, len(sc.Domains))
		for name, dc := range sc.Domains {
			key, err := keyMaterial(ctx, dc.JWKSURL, dc.PublicKeyFile, dc.Secret, backends)
			if err != nil {
				return nil, fmt.Errorf("domains[%s]: %w", name, err)
			}
			table[name] = auth.DomainKeys{Audience: dc.Audience, Issuer: dc.Issuer, Key: key}
		}
	}

	resolver := auth.NewResolver(flat, table, cfg.Auth.GetDomainClaim())
	verifier := auth.NewVerifier(sc.Algorithms, sc.GetLeeway(), sc.IsExpiryRequired())
	return auth.NewJWTAuthenticator(cfg.Auth.GetHeader(), cfg.Auth.GetScheme(), resolver, verifier, payloads), nil
}

// keyMaterial builds verification key material from one configured source.
// Precedence when several are set: JWKS endpoint, then PEM file, then inline
// secret. No source yields empty material, which deterministically fails
// verification.
func keyMaterial(ctx context.Context, jwksURL, keyFile, secret string, backends Backends) (auth.KeyMaterial, error) {
	switch {
	case jwksURL != "":
		return auth.RemoteKeys(ctx, jwksURL, backends.breaker("jwks:"+jwksURL))
	case keyFile != "":
		pemBytes, err := os.ReadFile(keyFile)
		if err != nil {
			return auth.KeyMaterial{}, fmt.Errorf("public key file: %w", err)
		}
		return auth.PublicKey(pemBytes)
	case secret != "":
		return auth.SecretKey(secret), nil
	default:
		return auth.KeyMaterial{}, nil
	}
}
