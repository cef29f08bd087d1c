package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
)

// DefaultDomain is the table entry used when a token carries no domain claim.
const DefaultDomain = "default"

// DefaultDomainClaim is the claim read to pick a domain table entry.
const DefaultDomainClaim = "domain"

// DomainKeys is one audience/issuer/key triple a token may verify against.
type DomainKeys struct {
	// Audience lists the accepted aud values. Empty skips the audience check.
	Audience []string
	// Issuer is the required iss value. Empty skips the issuer check.
	Issuer string
	// Key is the signing key material for this domain.
	Key KeyMaterial
}

// DomainTable maps a domain claim value to its verification triple.
type DomainTable map[string]DomainKeys

// Resolver picks the verification triple for a token before it is verified.
//
// Resolution decodes the token's claims WITHOUT checking the signature and
// must never be mistaken for authentication: the unverified domain claim only
// selects which key the token is subsequently verified against, so a forged
// claim merely routes the token to a key it will not verify under.
type Resolver struct {
	flat  DomainKeys
	table DomainTable
	claim string
}

// NewResolver builds a resolver over a flat triple and an optional domain
// table. claimPath addresses the domain claim as a gjson path; empty uses
// DefaultDomainClaim.
func NewResolver(flat DomainKeys, table DomainTable, claimPath string) *Resolver {
	if claimPath == "" {
		claimPath = DefaultDomainClaim
	}
	return &Resolver{flat: flat, table: table, claim: claimPath}
}

// Resolve returns the triple the token should verify against and the name of
// the domain table entry chosen (empty when the flat triple applies).
//
// Resolution never fails the request: undecodable tokens, absent claims, and
// unknown domains all fall through, leaving signature and claim failures to
// the verifier.
func (rv *Resolver) Resolve(token string) (DomainKeys, string) {
	if len(rv.table) == 0 {
		return rv.flat, ""
	}

	name := rv.domainClaim(token)
	if keys, ok := rv.table[name]; ok {
		return keys, name
	}
	return rv.flat, ""
}

// domainClaim extracts the domain claim from the token's unverified payload.
// Anything undecodable maps to the default domain.
func (rv *Resolver) domainClaim(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return DefaultDomain
	}

	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return DefaultDomain
	}

	if value := gjson.GetBytes(payload, rv.claim); value.Exists() {
		return value.String()
	}
	return DefaultDomain
}
