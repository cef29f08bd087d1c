package auth

import "net/http"

// AnonymousAuthenticator authorizes every request with an empty payload.
// Placed last in a chain it makes enforcement advisory: earlier strategies
// still attach identities when credentials verify, but no request is refused.
type AnonymousAuthenticator struct{}

// NewAnonymousAuthenticator builds the strategy.
func NewAnonymousAuthenticator() *AnonymousAuthenticator {
	return &AnonymousAuthenticator{}
}

// Authenticate always grants an empty identity.
func (a *AnonymousAuthenticator) Authenticate(_ *http.Request) Outcome {
	return Grant(&Payload{Claims: map[string]any{}})
}

// Name identifies the strategy.
func (a *AnonymousAuthenticator) Name() string {
	return "anonymous"
}
