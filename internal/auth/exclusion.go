package auth

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// RuleSpec is one route exclusion rule as configured: a path pattern and an
// optional method list. An empty method list matches any method.
type RuleSpec struct {
	Pattern string
	Methods []string
}

// ExclusionRule is a compiled exclusion rule.
type ExclusionRule struct {
	pattern *regexp.Regexp
	methods map[string]struct{}
}

// permits reports whether the rule's method constraint allows the method.
func (er ExclusionRule) permits(method string) bool {
	if er.methods == nil {
		return true
	}
	_, ok := er.methods[method]
	return ok
}

// Exclusions is an ordered set of rules waiving mandatory authentication for
// matching requests. Rules are evaluated in configured order; the first match
// wins. Exclusion never suppresses token processing, it only waives the
// requirement that a credential be present and valid.
type Exclusions struct {
	rules    []ExclusionRule
	basePath string
}

// CompileExclusions compiles the rule specs, preserving order. Patterns are
// regular expressions matched against the query-stripped, base-path-stripped
// request path. An invalid pattern fails compilation.
func CompileExclusions(basePath string, specs []RuleSpec) (*Exclusions, error) {
	rules := make([]ExclusionRule, 0, len(specs))

	for i, spec := range specs {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("auth: exclusion rule %d: %w", i, err)
		}

		rule := ExclusionRule{pattern: re}
		if len(spec.Methods) > 0 {
			rule.methods = lo.SliceToMap(spec.Methods, func(m string) (string, struct{}) {
				return strings.ToUpper(m), struct{}{}
			})
		}
		rules = append(rules, rule)
	}

	return &Exclusions{rules: rules, basePath: basePath}, nil
}

// Excluded reports whether enforcement is waived for the request.
func (e *Exclusions) Excluded(r *http.Request) bool {
	if e == nil {
		return false
	}
	return e.Match(r.URL.Path, r.Method)
}

// Match evaluates the rules against a raw path and method. The query string
// and the configured base path prefix are stripped before matching.
func (e *Exclusions) Match(path, method string) bool {
	if e == nil || len(e.rules) == 0 {
		return false
	}

	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if e.basePath != "" {
		path = strings.TrimPrefix(path, e.basePath)
		if path == "" {
			path = "/"
		}
	}

	method = strings.ToUpper(method)
	for _, rule := range e.rules {
		if rule.permits(method) && rule.pattern.MatchString(path) {
			return true
		}
	}
	return false
}
