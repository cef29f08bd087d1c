package auth

import (
	"net/http"
	"strconv"
	"strings"
)

// HeaderError describes a credential header value that could not yield a token.
type HeaderError struct {
	// Kind is the parse failure classification.
	Kind FailureKind
	msg  string
}

// Error implements the error interface.
func (e *HeaderError) Error() string {
	return e.msg
}

func newHeaderError(kind FailureKind, msg string) *HeaderError {
	return &HeaderError{Kind: kind, msg: msg}
}

// CredentialHeader looks up the credential header on the request,
// distinguishing an absent header from one present with an empty value.
func CredentialHeader(r *http.Request, name string) (string, bool) {
	values := r.Header.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// ParseToken extracts the credential token from a present header value.
//
// The value is split on single spaces:
//   - one part: the whole value is the token, unless it equals the configured
//     scheme (a scheme marker with nothing after it) or is empty
//   - two parts: the first must match the scheme case-insensitively,
//     the second is the token
//   - three or more parts: malformed
//
// With an empty scheme a bare value is accepted as the token, so the same
// parser serves both "Bearer <token>" and raw-token deployments.
func ParseToken(raw, scheme string) (string, *HeaderError) {
	parts := strings.Split(raw, " ")

	switch len(parts) {
	case 1:
		value := parts[0]
		if value == "" {
			return "", newHeaderError(FailMissingToken, "empty credential header")
		}
		if scheme != "" && strings.EqualFold(value, scheme) {
			return "", newHeaderError(FailMissingToken, "credential scheme without token")
		}
		return value, nil
	case 2:
		if !strings.EqualFold(parts[0], scheme) {
			return "", newHeaderError(FailSchemeMismatch, "unexpected credential scheme "+strconv.Quote(parts[0]))
		}
		if parts[1] == "" {
			return "", newHeaderError(FailMissingToken, "credential scheme without token")
		}
		return parts[1], nil
	default:
		return "", newHeaderError(FailMalformedHeader, "credential header has too many parts")
	}
}
