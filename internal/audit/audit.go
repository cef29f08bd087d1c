// Package audit publishes authentication decisions as a reactive event
// stream and sinks them into the structured log.
//
// Publishing is fire-and-forget: events enter a bounded queue and are
// dropped on overflow, so the request path never waits on the sink. The
// sink rate-limits per decision class, so a flood of denials cannot
// drown out the granted and waived entries.
package audit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/ro"

	"github.com/tokengate/tokengate/internal/ratelimit"
)

// Defaults for Options zero values.
const (
	DefaultBuffer   = 256
	DefaultPerClass = 120
)

// Event is one settled authentication decision.
type Event struct {
	Time      time.Time     `json:"time"`
	Decision  string        `json:"decision"`
	Strategy  string        `json:"strategy,omitempty"`
	Kind      string        `json:"kind,omitempty"`
	Subject   string        `json:"subject,omitempty"`
	Client    string        `json:"client,omitempty"`
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	RequestID string        `json:"request_id,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Options tunes the recorder. Zero values use the defaults.
type Options struct {
	// Buffer is the publish queue depth.
	Buffer int

	// PerClass caps logged events per decision class per interval.
	PerClass int64

	// Interval is the budget window. Defaults to ratelimit.DefaultInterval.
	Interval time.Duration
}

// Stats is a point-in-time snapshot of recorder throughput.
type Stats struct {
	Published uint64 `json:"published"` // accepted into the queue
	Emitted   uint64 `json:"emitted"`   // written to the log
	Dropped   uint64 `json:"dropped"`   // lost to overflow or a closed recorder
}

// Recorder is the audit pipeline: a bounded queue feeding a rate-limited
// observable whose subscriber writes zerolog entries.
type Recorder struct {
	logger zerolog.Logger
	events chan Event

	mu     sync.RWMutex
	closed bool

	published atomic.Uint64
	emitted   atomic.Uint64
	dropped   atomic.Uint64
}

// NewRecorder starts the sink subscription and returns the recorder.
func NewRecorder(logger *zerolog.Logger, opts Options) *Recorder {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	perClass := opts.PerClass
	if perClass <= 0 {
		perClass = DefaultPerClass
	}

	r := &Recorder{
		logger: logger.With().Str("component", "audit").Logger(),
		events: make(chan Event, buffer),
	}

	stream := ro.Pipe1(
		ro.FromChannel(r.events),
		ratelimit.NewLimitOperator(perClass, opts.Interval, func(e Event) string {
			return e.Decision
		}),
	)
	stream.Subscribe(ro.NewObserver(
		r.write,
		func(err error) {
			r.logger.Error().Err(err).Msg("audit stream failed")
		},
		func() {
			r.logger.Debug().Msg("audit stream closed")
		},
	))

	return r
}

// Publish queues an event. It never blocks: with the queue full or the
// recorder closed the event is counted as dropped instead.
func (r *Recorder) Publish(e Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	select {
	case r.events <- e:
		r.published.Add(1)
	default:
		r.dropped.Add(1)
	}
}

// Stats reports recorder throughput counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Published: r.published.Load(),
		Emitted:   r.emitted.Load(),
		Dropped:   r.dropped.Load(),
	}
}

// Close stops accepting events and completes the stream. Events still held
// back by the rate limiter are abandoned; delivery is best-effort.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.events)
	return nil
}

// write is the sink: one log entry per event that cleared the rate limit.
func (r *Recorder) write(e Event) {
	r.emitted.Add(1)

	entry := r.logger.Info().
		Time("at", e.Time).
		Str("decision", e.Decision).
		Str("method", e.Method).
		Str("path", e.Path).
		Dur("elapsed", e.Elapsed)

	if e.Strategy != "" {
		entry = entry.Str("strategy", e.Strategy)
	}
	if e.Kind != "" {
		entry = entry.Str("kind", e.Kind)
	}
	if e.Subject != "" {
		entry = entry.Str("subject", e.Subject)
	}
	if e.Client != "" {
		entry = entry.Str("client", e.Client)
	}
	if e.RequestID != "" {
		entry = entry.Str("req_id", e.RequestID)
	}

	entry.Msg("authentication decision")
}
