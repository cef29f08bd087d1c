package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tokengate/tokengate/internal/health"
)

const defaultIntrospectTimeout = 10 * time.Second

// IntrospectOptions configure the remote introspection strategy.
type IntrospectOptions struct {
	// Endpoint is the token introspection URL.
	Endpoint string
	// ClientID and ClientSecret authenticate this gateway to the endpoint.
	ClientID     string
	ClientSecret string
	// TokenURL, when set, obtains a client-credentials token for the
	// introspection calls instead of HTTP basic authentication.
	TokenURL string
	// Timeout bounds each introspection round trip.
	Timeout time.Duration
}

// IntrospectAuthenticator validates bearer tokens against a remote
// introspection endpoint (RFC 7662 response shape: an active flag plus
// token claims). Responses are cached and the endpoint is guarded by a
// circuit breaker so an authorization-server outage fails fast.
type IntrospectAuthenticator struct {
	header    string
	scheme    string
	endpoint  string
	client    *http.Client
	basicID   string
	basicPass string
	breaker   *health.CircuitBreaker
	cache     *PayloadCache
}

// NewIntrospectAuthenticator builds the strategy. The client-credentials
// flow is used when opts.TokenURL is set; otherwise calls authenticate with
// HTTP basic auth. breaker and cache are optional.
func NewIntrospectAuthenticator(
	header, scheme string, opts IntrospectOptions, breaker *health.CircuitBreaker, cache *PayloadCache,
) *IntrospectAuthenticator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultIntrospectTimeout
	}

	a := &IntrospectAuthenticator{
		header:   header,
		scheme:   scheme,
		endpoint: opts.Endpoint,
		breaker:  breaker,
		cache:    cache,
	}

	if opts.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
		}
		a.client = cc.Client(context.Background())
		a.client.Timeout = timeout
	} else {
		a.client = &http.Client{Timeout: timeout}
		a.basicID = opts.ClientID
		a.basicPass = opts.ClientSecret
	}

	return a
}

// Authenticate extracts the bearer token and asks the endpoint whether it is
// active. Endpoint faults map to FailInternal, inactive tokens to
// FailVerification.
func (a *IntrospectAuthenticator) Authenticate(r *http.Request) Outcome {
	raw, present := CredentialHeader(r, a.header)
	if !present {
		return Deny(FailNoHeader, ErrNoHeader)
	}

	token, herr := ParseToken(raw, a.scheme)
	if herr != nil {
		return Deny(herr.Kind, herr)
	}

	ctx := r.Context()
	if payload, ok := a.cache.Get(ctx, token); ok {
		return Grant(payload)
	}

	payload, err := a.introspect(ctx, token)
	if err != nil {
		if errors.Is(err, ErrTokenInactive) {
			return Deny(FailVerification, err)
		}
		return Deny(FailInternal, err)
	}

	a.cache.Put(ctx, token, payload)
	return Grant(payload)
}

// Name identifies the strategy.
func (a *IntrospectAuthenticator) Name() string {
	return "introspect"
}

// introspect performs one round trip to the endpoint.
func (a *IntrospectAuthenticator) introspect(ctx context.Context, token string) (*Payload, error) {
	release := func(error) {}
	if a.breaker != nil {
		done, err := a.breaker.Allow()
		if err != nil {
			return nil, err
		}
		release = done
	}

	payload, err := a.post(ctx, token)
	if errors.Is(err, ErrTokenInactive) {
		// An inactive token is a healthy endpoint answer, not an outage.
		release(nil)
		return nil, err
	}
	release(err)
	return payload, err
}

func (a *IntrospectAuthenticator) post(ctx context.Context, token string) (*Payload, error) {
	form := url.Values{
		"token":           {token},
		"token_type_hint": {"access_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("auth: introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if a.basicID != "" {
		req.SetBasicAuth(a.basicID, a.basicPass)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: introspection call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: introspection endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("auth: introspection response: %w", err)
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("auth: introspection response: %w", err)
	}

	active, _ := result["active"].(bool)
	if !active {
		return nil, ErrTokenInactive
	}

	return payloadFromClaims(jwt.MapClaims(result)), nil
}
