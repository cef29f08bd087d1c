package di

import "github.com/samber/do/v2"

// RegisterSingletons registers every service constructor as a lazy
// singleton. Order here is cosmetic; do resolves dependencies on first
// Invoke. Config sits at the root, Logger and Cache layer on it, the
// health pair and the two limiters follow, and Guard composes them all
// for the handler and server at the top.
func RegisterSingletons(i do.Injector) {
	do.Provide(i, NewConfig)
	do.Provide(i, NewLogger)
	do.Provide(i, NewCache)
	do.Provide(i, NewHealthTracker)
	do.Provide(i, NewChecker)
	do.Provide(i, NewThrottle)
	do.Provide(i, NewConcurrencyService)
	do.Provide(i, NewAudit)
	do.Provide(i, NewGuard)
	do.Provide(i, NewGatewayHandler)
	do.Provide(i, NewHTTPServer)
}
