package health

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// probeTimeout bounds a single recovery probe.
const probeTimeout = 5 * time.Second

// TargetCheck is a lightweight health probe for one target. Probes run
// while the target's circuit is OPEN, so they must be cheap; a full
// proxied request would defeat the point of the breaker.
type TargetCheck interface {
	// Check returns nil when the target looks healthy.
	Check(ctx context.Context) error

	// TargetName returns the target this probe covers.
	TargetName() string
}

// HTTPHealthCheck probes a target by issuing a GET and expecting a 2xx.
type HTTPHealthCheck struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPHealthCheck builds an HTTP probe. A nil client gets a private
// one with a 5s timeout.
func NewHTTPHealthCheck(name, url string, client *http.Client) *HTTPHealthCheck {
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	return &HTTPHealthCheck{name: name, url: url, client: client}
}

// Check issues the probe request.
func (h *HTTPHealthCheck) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrHealthCheckFailed, resp.StatusCode)
	}
	return nil
}

// TargetName returns the probed target's name.
func (h *HTTPHealthCheck) TargetName() string {
	return h.name
}

// NoOpHealthCheck reports healthy unconditionally. It stands in for
// targets that expose no probe endpoint, leaving recovery to the
// breaker's own half-open timing.
type NoOpHealthCheck struct {
	name string
}

// NewNoOpHealthCheck builds an always-healthy probe.
func NewNoOpHealthCheck(name string) *NoOpHealthCheck {
	return &NoOpHealthCheck{name: name}
}

// Check reports healthy.
func (n *NoOpHealthCheck) Check(_ context.Context) error {
	return nil
}

// TargetName returns the target's name.
func (n *NoOpHealthCheck) TargetName() string {
	return n.name
}

// NewTargetCheck picks the probe type for a target: HTTP when a probe
// URL is configured, no-op otherwise.
func NewTargetCheck(name, url string, client *http.Client) TargetCheck {
	if url == "" {
		return NewNoOpHealthCheck(name)
	}
	return NewHTTPHealthCheck(name, url, client)
}

// Checker periodically probes targets whose circuits are OPEN and
// reports successes back to the tracker, so recovery is confirmed
// before the first real request is risked. CLOSED and HALF-OPEN
// circuits are left alone.
type Checker struct {
	ctx     context.Context
	tracker *Tracker
	checks  map[string]TargetCheck
	logger  *zerolog.Logger
	cancel  context.CancelFunc
	config  CheckConfig
	wg      sync.WaitGroup
	mu      sync.RWMutex
}

// NewChecker builds a Checker bound to the tracker. Probing starts when
// Start is called.
func NewChecker(tracker *Tracker, cfg CheckConfig, logger *zerolog.Logger) *Checker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Checker{
		tracker: tracker,
		config:  cfg,
		checks:  make(map[string]TargetCheck),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// RegisterTarget adds a probe. Registering the same target again
// replaces its probe.
func (h *Checker) RegisterTarget(check TargetCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[check.TargetName()] = check
}

// Start launches the probe loop. It is a no-op when probing is disabled
// in the config.
func (h *Checker) Start() {
	if !h.config.IsEnabled() {
		if h.logger != nil {
			h.logger.Info().Msg("health checker disabled")
		}
		return
	}

	// Jitter spreads probe ticks across instances sharing a schedule.
	interval := h.config.GetInterval()
	jitter := randJitter(2 * time.Second)

	h.wg.Add(1)
	go h.run(interval, jitter)
}

func (h *Checker) run(interval, jitter time.Duration) {
	defer h.wg.Done()

	ticker := time.NewTicker(interval + jitter)
	defer ticker.Stop()

	if h.logger != nil {
		h.logger.Info().
			Dur("interval", interval).
			Dur("jitter", jitter).
			Msg("health checker started")
	}

	for {
		select {
		case <-h.ctx.Done():
			if h.logger != nil {
				h.logger.Info().Msg("health checker stopped")
			}
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// Stop ends the probe loop and waits for it to exit.
func (h *Checker) Stop() {
	h.cancel()
	h.wg.Wait()
}

// sweep probes every registered target whose circuit is OPEN.
func (h *Checker) sweep() {
	h.mu.RLock()
	checks := make([]TargetCheck, 0, len(h.checks))
	for _, check := range h.checks {
		checks = append(checks, check)
	}
	h.mu.RUnlock()

	for _, check := range checks {
		if h.tracker.GetState(check.TargetName()) != StateOpen {
			continue
		}
		h.probe(check)
	}
}

// probe runs one health check and records a success with the tracker
// when the target answers healthy. Failures are only logged; the
// circuit is already open.
func (h *Checker) probe(check TargetCheck) {
	name := check.TargetName()

	ctx, cancel := context.WithTimeout(h.ctx, probeTimeout)
	err := check.Check(ctx)
	cancel()

	if err != nil {
		if h.logger != nil {
			h.logger.Debug().
				Str("target", name).
				Err(err).
				Msg("health check failed")
		}
		return
	}

	if h.logger != nil {
		h.logger.Info().
			Str("target", name).
			Msg("health check succeeded, recording success")
	}
	h.tracker.RecordSuccess(name)
}

// randJitter returns a random duration in [0, maxDur), or zero when
// maxDur is not positive or the random source fails.
func randJitter(maxDur time.Duration) time.Duration {
	if maxDur <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	n := binary.LittleEndian.Uint64(b[:])
	//nolint:gosec // G115: maxDur is positive here
	return time.Duration(n % uint64(maxDur))
}
