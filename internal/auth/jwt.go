package auth

import (
	"net/http"
)

// JWTAuthenticator verifies signed bearer tokens carried in a request header.
// Each request runs header parsing, domain resolution, and signature
// verification in order; any stage failure is returned as a typed outcome.
type JWTAuthenticator struct {
	header   string
	scheme   string
	resolver *Resolver
	verifier *Verifier
	cache    *PayloadCache
}

// NewJWTAuthenticator builds the strategy. The header name must be non-empty;
// an empty scheme accepts the bare header value as the token. cache is
// optional.
func NewJWTAuthenticator(header, scheme string, resolver *Resolver, verifier *Verifier, cache *PayloadCache) *JWTAuthenticator {
	return &JWTAuthenticator{
		header:   header,
		scheme:   scheme,
		resolver: resolver,
		verifier: verifier,
		cache:    cache,
	}
}

// Authenticate extracts and verifies the request's bearer token.
func (a *JWTAuthenticator) Authenticate(r *http.Request) Outcome {
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

	keys, domain := a.resolver.Resolve(token)

	payload, err := a.verifier.Verify(ctx, token, keys)
	if err != nil {
		return Deny(FailVerification, err)
	}
	payload.Domain = domain

	a.cache.Put(ctx, token, payload)
	return Grant(payload)
}

// Name identifies the strategy.
func (a *JWTAuthenticator) Name() string {
	return "jwt"
}
