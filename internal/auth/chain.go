package auth

import (
	"net/http"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"
)

// ChainResult is the outcome the chain settled on, plus which strategy
// produced it.
type ChainResult struct {
	Outcome
	// Strategy names the authenticator that produced the outcome.
	// Empty when the chain itself failed (no strategies configured).
	Strategy string
	// Elapsed is how long the chain evaluation took.
	Elapsed time.Duration
}

// Chain runs multiple authentication strategies in order.
//
// Strategies execute strictly sequentially: the first success short-circuits,
// so a later strategy's side effects never run after an earlier success. When
// every strategy fails, the FIRST failure is reported, because the first
// configured strategy is authoritative for user-facing errors. An empty chain
// fails with FailInternal.
type Chain struct {
	strategies []Authenticator
}

// NewChain creates a chain over the given strategies.
func NewChain(strategies ...Authenticator) *Chain {
	return &Chain{strategies: strategies}
}

// Run evaluates the chain and reports which strategy decided.
func (c *Chain) Run(r *http.Request) ChainResult {
	start := time.Now()
	if len(c.strategies) == 0 {
		return ChainResult{Outcome: Deny(FailInternal, ErrNoStrategies), Elapsed: time.Since(start)}
	}

	// Reduce over the strategies: an authorized accumulator passes through
	// untouched (short-circuit), a failed accumulator keeps its first
	// failure while still giving later strategies the chance to succeed.
	res := lo.Reduce(c.strategies, func(acc ChainResult, strategy Authenticator, _ int) ChainResult {
		if acc.Authorized {
			return acc
		}

		outcome := strategy.Authenticate(r)
		if outcome.Authorized || acc.Kind == "" {
			return ChainResult{Outcome: outcome, Strategy: strategy.Name()}
		}
		return acc
	}, ChainResult{})
	res.Elapsed = time.Since(start)
	return res
}

// Authenticate evaluates the chain. It satisfies Authenticator, so chains
// nest inside other chains.
func (c *Chain) Authenticate(r *http.Request) Outcome {
	return c.Run(r).Outcome
}

// Name identifies the composite.
func (c *Chain) Name() string {
	return "chain"
}

// AuthenticateResult evaluates the chain as a mo.Result for
// Railway-Oriented call sites: mo.Ok on success, mo.Err wrapping a
// ChainError otherwise.
func (c *Chain) AuthenticateResult(r *http.Request) mo.Result[ChainResult] {
	res := c.Run(r)
	if res.Authorized {
		return mo.Ok(res)
	}
	return mo.Err[ChainResult](&ChainError{Kind: res.Kind, Strategy: res.Strategy, cause: res.Err})
}

// ChainError carries a chain denial as an error value.
type ChainError struct {
	Kind     FailureKind
	Strategy string
	cause    error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if e.cause != nil {
		return string(e.Kind) + ": " + e.cause.Error()
	}
	return string(e.Kind)
}

// Unwrap exposes the underlying cause.
func (e *ChainError) Unwrap() error {
	return e.cause
}
