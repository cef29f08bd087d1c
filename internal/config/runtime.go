package config

import "sync/atomic"

// Runtime holds the live configuration behind an atomic.Pointer so that
// hot reload can swap it without a lock. A request that loaded the old
// config keeps using it until it finishes; the next Get observes the
// replacement. Readers never see a half-updated Config because the swap
// is a single pointer store.
//
//	rt := config.NewRuntime(cfg)
//
//	// per request:
//	header := rt.Get().Auth.GetHeader()
//
//	// from the watcher callback:
//	rt.Store(reloaded)
type Runtime struct {
	ptr atomic.Pointer[Config]
}

var _ RuntimeConfig = (*Runtime)(nil)

// NewRuntime seeds a Runtime with the initial configuration. Get returns
// it until the first Store.
func NewRuntime(initial *Config) *Runtime {
	r := &Runtime{}
	r.ptr.Store(initial)
	return r
}

// Get returns the current configuration. Callers should fetch it once per
// request rather than caching it across requests, otherwise they miss
// reloads.
func (r *Runtime) Get() *Config {
	return r.ptr.Load()
}

// Store publishes cfg as the current configuration. The watcher calls this
// after a changed file passes validation.
func (r *Runtime) Store(cfg *Config) {
	r.ptr.Store(cfg)
}
