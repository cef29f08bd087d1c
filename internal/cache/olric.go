package cache

import (
	"cmp"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olric-data/olric"
	olricconfig "github.com/olric-data/olric/config"
	"github.com/rs/zerolog"
)

// olricStartupTimeout bounds how long an embedded node may take to
// announce itself before we proceed optimistically.
const olricStartupTimeout = 10 * time.Second

// pingKey is read by Ping; it never exists, a not-found answer proves
// the round trip.
const pingKey = "__ping_healthcheck__"

// parseBindAddr splits a bind address that may or may not carry a port.
// The port is 0 when absent or unparseable.
func parseBindAddr(addr string) (h string, p int) {
	var err error
	h, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	p, err = strconv.Atoi(portStr)
	if err != nil {
		return h, 0
	}
	return h, p
}

// override replaces *dst only when v is set. Zero keeps the preset.
func override[T cmp.Ordered](dst *T, v T) {
	var zero T
	if v > zero {
		*dst = v
	}
}

// olricCache backs HA deployments where a fleet of gateways shares one
// verdict dmap. It runs in one of two modes: embedded, where this
// process hosts a cluster member, or client, where it connects to an
// external Olric cluster.
type olricCache struct {
	db     *olric.Olric // embedded node, nil in client mode
	client olric.Client // works for both modes
	dmap   olric.DMap
	log    *zerolog.Logger
	name   string
	mu     sync.RWMutex
	closed atomic.Bool
}

var (
	_ Cache         = (*olricCache)(nil)
	_ StatsProvider = (*olricCache)(nil)
	_ Pinger        = (*olricCache)(nil)
	_ ClusterInfo   = (*olricCache)(nil)
)

func newOlricCache(ctx context.Context, cfg *OlricConfig) (*olricCache, error) {
	olricLog := logger().With().Str("backend", "olric").Logger()

	dmapName := cfg.DMapName
	if dmapName == "" {
		dmapName = "tokengate"
	}

	if cfg.Embedded {
		olricLog.Debug().Str("mode", "embedded").Msg("olric: starting embedded node")
		return newEmbeddedOlricCache(ctx, cfg, dmapName, &olricLog)
	}
	olricLog.Debug().Str("mode", "client").Strs("addresses", cfg.Addresses).Msg("olric: connecting to cluster")
	return newClientOlricCache(ctx, cfg, dmapName, &olricLog)
}

// embeddedOlricConfig translates our OlricConfig into Olric's own
// config struct, starting from the environment preset. Operator-set
// values win; zeroes keep the preset.
func embeddedOlricConfig(cfg *OlricConfig) *olricconfig.Config {
	c := olricconfig.New(cmp.Or(cfg.Environment, EnvLocal))

	host, port := parseBindAddr(cfg.BindAddr)
	c.BindAddr = host
	override(&c.BindPort, port)

	if len(cfg.Peers) > 0 {
		c.Peers = cfg.Peers
	}
	override(&c.ReplicaCount, cfg.ReplicaCount)
	override(&c.ReadQuorum, cfg.ReadQuorum)
	override(&c.WriteQuorum, cfg.WriteQuorum)
	override(&c.MemberCountQuorum, cfg.MemberCountQuorum)
	override(&c.LeaveTimeout, cfg.LeaveTimeout)

	// Olric's own logging would drown the gateway's structured output.
	c.LogOutput = io.Discard
	c.Logger = log.New(io.Discard, "", 0)

	return c
}

// newEmbeddedOlricCache boots an in-process cluster member and opens
// the verdict dmap on it.
func newEmbeddedOlricCache(
	ctx context.Context, cfg *OlricConfig, dmapName string, lg *zerolog.Logger,
) (*olricCache, error) {
	c := embeddedOlricConfig(cfg)

	// Started must be assigned before olric.New; it fires once the
	// node is serving.
	ready := make(chan struct{})
	c.Started = func() { close(ready) }

	db, err := olric.New(c)
	if err != nil {
		lg.Error().Err(err).Msg("olric: failed to create embedded instance")
		return nil, err
	}

	startErr := make(chan error, 1)
	go func() {
		if serveErr := db.Start(); serveErr != nil {
			startErr <- serveErr
		}
	}()

	if err := awaitOlricStartup(ctx, ready, startErr, lg); err != nil {
		return nil, err
	}

	client := db.NewEmbeddedClient()
	dm, err := client.NewDMap(dmapName)
	if err != nil {
		lg.Error().Err(err).Str("dmap", dmapName).Msg("olric: failed to create dmap")
		// The node is already running; take it down rather than leak it.
		if shutdownErr := db.Shutdown(context.Background()); shutdownErr != nil {
			lg.Error().Err(shutdownErr).Msg("olric: failed to shutdown after dmap creation error")
		}
		return nil, err
	}

	lg.Info().
		Str("bind_addr", c.BindAddr).
		Int("bind_port", c.BindPort).
		Str("dmap", dmapName).
		Int("peers", len(cfg.Peers)).
		Msg("olric embedded cache created")

	return &olricCache{client: client, dmap: dm, db: db, name: dmapName, log: lg}, nil
}

// awaitOlricStartup waits for the node to come up, a startup failure,
// or the deadline. On deadline the node may still be starting; we give
// the embedded client a beat and proceed, letting the first operation
// surface any real failure.
func awaitOlricStartup(ctx context.Context, ready <-chan struct{}, startErr <-chan error, lg *zerolog.Logger) error {
	startupCtx, cancel := context.WithTimeout(ctx, olricStartupTimeout)
	defer cancel()

	select {
	case <-ready:
		lg.Debug().Msg("olric: embedded node ready")
		return nil
	case err := <-startErr:
		lg.Error().Err(err).Msg("olric: embedded node failed to start")
		return err
	case <-startupCtx.Done():
		lg.Debug().Msg("olric: embedded node startup timeout, proceeding")
		time.Sleep(100 * time.Millisecond)
		return nil
	}
}

// newClientOlricCache connects to an external Olric cluster.
func newClientOlricCache(
	ctx context.Context, cfg *OlricConfig, dmapName string, lg *zerolog.Logger,
) (*olricCache, error) {
	if len(cfg.Addresses) == 0 {
		lg.Error().Msg("olric: addresses required for client mode")
		return nil, errors.New("cache: olric addresses required for client mode")
	}

	client, err := olric.NewClusterClient(cfg.Addresses)
	if err != nil {
		lg.Error().Err(err).Strs("addresses", cfg.Addresses).Msg("olric: failed to connect to cluster")
		return nil, err
	}

	dm, err := client.NewDMap(dmapName)
	if err != nil {
		lg.Error().Err(err).Str("dmap", dmapName).Msg("olric: failed to create dmap")
		if closeErr := client.Close(ctx); closeErr != nil {
			lg.Error().Err(closeErr).Msg("olric: failed to close client after dmap creation error")
		}
		return nil, err
	}

	lg.Info().Strs("addresses", cfg.Addresses).Str("dmap", dmapName).Msg("olric cluster cache created")

	return &olricCache{client: client, dmap: dm, name: dmapName, log: lg}, nil
}

// guard rejects canceled contexts and closed caches, then takes the
// read lock. The closed flag is rechecked under the lock so a
// concurrent Close cannot slip between check and use. Callers defer
// the returned release.
func (o *olricCache) guard(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.closed.Load() {
		return nil, ErrClosed
	}
	o.mu.RLock()
	if o.closed.Load() {
		o.mu.RUnlock()
		return nil, ErrClosed
	}
	return o.mu.RUnlock, nil
}

// tryRead is guard for the context-free cluster introspection paths.
// The second return is false when the cache is closed.
func (o *olricCache) tryRead() (func(), bool) {
	if o.closed.Load() {
		return nil, false
	}
	o.mu.RLock()
	if o.closed.Load() {
		o.mu.RUnlock()
		return nil, false
	}
	return o.mu.RUnlock, true
}

// keyed starts a debug event carrying the operation key.
func (o *olricCache) keyed(key string) *zerolog.Event {
	return o.log.Debug().Str("key", key)
}

func (o *olricCache) Get(ctx context.Context, key string) ([]byte, error) {
	release, err := o.guard(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := o.dmap.Get(ctx, key)
	switch {
	case errors.Is(err, olric.ErrKeyNotFound):
		o.keyed(key).Bool("hit", false).Msg("cache get")
		return nil, ErrNotFound
	case err != nil:
		o.keyed(key).Err(err).Msg("cache get error")
		return nil, err
	}

	value, err := resp.Byte()
	if err != nil {
		o.keyed(key).Err(err).Msg("cache get: failed to decode value")
		return nil, err
	}

	o.keyed(key).Bool("hit", true).Int("size", len(value)).Msg("cache get")

	// Hand out a copy so callers cannot mutate the stored verdict.
	return cloneValue(value), nil
}

func (o *olricCache) Set(ctx context.Context, key string, value []byte) error {
	release, err := o.guard(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := o.dmap.Put(ctx, key, cloneValue(value)); err != nil {
		o.keyed(key).Int("size", len(value)).Err(err).Msg("cache set error")
		return err
	}
	o.keyed(key).Int("size", len(value)).Msg("cache set")
	return nil
}

func (o *olricCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	release, err := o.guard(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := o.dmap.Put(ctx, key, cloneValue(value), olric.EX(ttl)); err != nil {
		o.keyed(key).Int("size", len(value)).Dur("ttl", ttl).Err(err).Msg("cache set error")
		return err
	}
	o.keyed(key).Int("size", len(value)).Dur("ttl", ttl).Msg("cache set")
	return nil
}

func (o *olricCache) Delete(ctx context.Context, key string) error {
	release, err := o.guard(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = o.dmap.Delete(ctx, key)
	switch {
	case errors.Is(err, olric.ErrKeyNotFound):
		// Deleting an absent key is not an error.
	case err != nil:
		o.keyed(key).Err(err).Msg("cache delete error")
		return err
	}
	o.keyed(key).Msg("cache delete")
	return nil
}

func (o *olricCache) Exists(ctx context.Context, key string) (bool, error) {
	release, err := o.guard(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	_, err = o.dmap.Get(ctx, key)
	switch {
	case errors.Is(err, olric.ErrKeyNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// Close shuts the backend down: the dmap handle first, then the
// embedded node or the cluster client. Idempotent.
func (o *olricCache) Close() error {
	if o.closed.Load() {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed.Load() {
		return nil
	}
	o.closed.Store(true)

	ctx := context.Background()
	if o.dmap != nil {
		// A dmap close failure does not block node shutdown.
		if dmapErr := o.dmap.Close(ctx); dmapErr != nil {
			o.log.Debug().Err(dmapErr).Msg("olric: dmap close error during shutdown")
		}
	}

	if o.db != nil {
		return o.closeEmbedded(ctx)
	}
	if o.client != nil {
		return o.closeClient(ctx)
	}
	return nil
}

func (o *olricCache) closeEmbedded(ctx context.Context) error {
	if err := o.db.Shutdown(ctx); err != nil {
		o.log.Error().Err(err).Msg("olric: embedded node shutdown error")
		return err
	}
	o.log.Info().Msg("olric embedded cache closed")
	return nil
}

func (o *olricCache) closeClient(ctx context.Context) error {
	if err := o.client.Close(ctx); err != nil {
		o.log.Error().Err(err).Msg("olric: client disconnect error")
		return err
	}
	o.log.Info().Msg("olric cluster cache closed")
	return nil
}

// Stats implements StatsProvider with a zero snapshot. Olric exposes
// member stats only per node address through its client; nothing here
// aggregates them, so every counter reads zero. The gateway's hit
// accounting for HA mode comes from the auth layer's own counters.
func (o *olricCache) Stats() Stats {
	return Stats{}
}

// IsEmbedded reports whether this cache runs an embedded Olric node.
// The answer does not change after Close.
func (o *olricCache) IsEmbedded() bool {
	return o.db != nil
}

// MemberlistAddr returns this node's gossip address as reported by
// cluster stats. Returns "" when the cache is closed or stats are
// unavailable (common for a lone embedded node).
func (o *olricCache) MemberlistAddr() string {
	release, ok := o.tryRead()
	if !ok {
		return ""
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := o.client.Stats(ctx, "")
	if err != nil {
		return ""
	}
	return s.Member.String()
}

// ClusterMembers returns the number of cluster members visible to this
// node, or 0 when the cache is closed or the cluster cannot be reached.
func (o *olricCache) ClusterMembers() int {
	release, ok := o.tryRead()
	if !ok {
		return 0
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	members, err := o.client.Members(ctx)
	if err != nil {
		return 0
	}
	return len(members)
}

// Ping verifies the backend is reachable by reading a probe key.
// ErrKeyNotFound means the round trip worked, which is all the health
// checker needs to know.
func (o *olricCache) Ping(ctx context.Context) error {
	release, err := o.guard(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = o.dmap.Get(ctx, pingKey)
	if err != nil && !errors.Is(err, olric.ErrKeyNotFound) {
		o.log.Debug().Err(err).Msg("cache ping: unhealthy")
		return err
	}
	o.log.Debug().Msg("cache ping: healthy")
	return nil
}
