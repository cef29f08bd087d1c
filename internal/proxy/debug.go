package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/config"
)

// Sensitive patterns to redact from logged payloads.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`"api_key"\s*:\s*"[^"]+"`),
	regexp.MustCompile(`"x-api-key"\s*:\s*"[^"]+"`),
	regexp.MustCompile(`"bearer"\s*:\s*"[^"]+"`),
	regexp.MustCompile(`"password"\s*:\s*"[^"]+"`),
	regexp.MustCompile(`"token"\s*:\s*"[^"]+"`),
	regexp.MustCompile(`"secret"\s*:\s*"[^"]+"`),
	regexp.MustCompile(`"authorization"\s*:\s*"[^"]+"`),
}

// sensitiveHeaderParts marks header names whose values never reach the log.
var sensitiveHeaderParts = []string{"authorization", "cookie", "token", "secret", "key"}

// redactSensitiveFields redacts sensitive information from a JSON string.
func redactSensitiveFields(body string) string {
	return lo.Reduce(sensitivePatterns, func(s string, pattern *regexp.Regexp, _ int) string {
		return pattern.ReplaceAllString(s, `"***":"REDACTED"`)
	}, body)
}

func isSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	return lo.SomeBy(sensitiveHeaderParts, func(part string) bool {
		return strings.Contains(lower, part)
	})
}

// LogRequestHeaders logs incoming request headers in debug mode.
// Credential-bearing headers are redacted by name, so a custom credential
// header like X-Api-Token is covered without extra configuration.
func LogRequestHeaders(ctx context.Context, r *http.Request) {
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() > zerolog.DebugLevel {
		return
	}

	headerData := make(map[string]string, len(r.Header))
	for name := range r.Header {
		if isSensitiveHeader(name) {
			headerData[name] = "REDACTED"
			continue
		}
		headerData[name] = r.Header.Get(name)
	}

	logger.Debug().
		Interface("headers", headerData).
		Msg("request headers")
}

// LogClaims logs the verified claim payload in debug mode.
// Respects DebugOptions.LogClaims and MaxClaimsLogSize.
func LogClaims(ctx context.Context, payload *auth.Payload, opts config.DebugOptions) {
	if !opts.LogClaims || payload == nil {
		return
	}

	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() > zerolog.DebugLevel {
		return
	}

	claims, err := json.Marshal(payload.Claims)
	if err != nil {
		logger.Debug().Err(err).Msg("failed to marshal claims")
		return
	}

	// Redact before truncating so a cut cannot leave a secret's tail exposed.
	preview := truncateClaims(redactSensitiveFields(string(claims)), opts.GetMaxClaimsLogSize())

	logger.Debug().
		Str("subject", payload.Subject).
		Str("domain", payload.Domain).
		Str("claims", preview).
		Msg("verified claims")
}

// truncateClaims truncates the claim payload to the configured cap.
func truncateClaims(claims string, maxSize int) string {
	if len(claims) > maxSize {
		return claims[:maxSize]
	}
	return claims
}
