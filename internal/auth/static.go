package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
)

// StaticToken is one pre-shared credential accepted by the static strategy.
type StaticToken struct {
	// Secret is the literal token value callers must present.
	Secret string
	// Subject is the principal granted when the token matches.
	Subject string
}

// StaticAuthenticator grants access to callers presenting a pre-shared token.
// Intended for service-to-service callers that cannot mint signed tokens.
// Tokens are hashed at construction and compared in constant time.
type StaticAuthenticator struct {
	header   string
	scheme   string
	hashes   [][32]byte
	subjects []string
}

// NewStaticAuthenticator builds the strategy from the configured tokens.
// Entries with an empty secret are dropped.
func NewStaticAuthenticator(header, scheme string, tokens []StaticToken) *StaticAuthenticator {
	a := &StaticAuthenticator{header: header, scheme: scheme}

	for _, t := range tokens {
		if t.Secret == "" {
			continue
		}
		a.hashes = append(a.hashes, sha256.Sum256([]byte(t.Secret)))
		a.subjects = append(a.subjects, t.Subject)
	}

	return a
}

// Authenticate checks the presented token against every configured entry.
func (a *StaticAuthenticator) Authenticate(r *http.Request) Outcome {
	raw, present := CredentialHeader(r, a.header)
	if !present {
		return Deny(FailNoHeader, ErrNoHeader)
	}

	token, herr := ParseToken(raw, a.scheme)
	if herr != nil {
		return Deny(herr.Kind, herr)
	}

	presented := sha256.Sum256([]byte(token))

	for i := range a.hashes {
		if subtle.ConstantTimeCompare(presented[:], a.hashes[i][:]) == 1 {
			subject := a.subjects[i]
			return Grant(&Payload{
				Subject: subject,
				Claims:  map[string]any{"sub": subject},
			})
		}
	}

	return Deny(FailVerification, ErrUnknownToken)
}

// Name identifies the strategy.
func (a *StaticAuthenticator) Name() string {
	return "static"
}
