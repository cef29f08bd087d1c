package cache

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects which backend the factory builds.
type Mode string

const (
	// ModeSingle keeps verdicts in a local Ristretto cache. The right
	// choice when one gateway instance fronts the upstream.
	ModeSingle Mode = "single"

	// ModeHA joins an Olric cluster so a fleet of gateways shares one
	// verdict store.
	ModeHA Mode = "ha"

	// ModeDisabled skips caching entirely; every request is verified
	// against the configured strategies.
	ModeDisabled Mode = "disabled"
)

// Olric environment presets. Each maps to one of olric's built-in
// memberlist profiles.
const (
	EnvLocal = "local"
	EnvLAN   = "lan"
	EnvWAN   = "wan"
)

// Config is the cache section of the gateway config file. Only the
// sub-config matching Mode is consulted; Validate enforces that it is
// usable.
type Config struct {
	Mode      Mode            `yaml:"mode" toml:"mode"`
	Olric     OlricConfig     `yaml:"olric" toml:"olric"`
	Ristretto RistrettoConfig `yaml:"ristretto" toml:"ristretto"`
}

// RistrettoConfig sizes the local backend.
type RistrettoConfig struct {
	// NumCounters sizes the admission policy's frequency sketch.
	// Ristretto recommends 10x the expected number of live keys.
	NumCounters int64 `yaml:"num_counters" toml:"num_counters"`

	// MaxCost caps total stored bytes; each entry costs its value length.
	MaxCost int64 `yaml:"max_cost" toml:"max_cost"`

	// BufferItems sizes the Get buffer. Ristretto's recommended value
	// is 64, which is also the fallback when left zero.
	BufferItems int64 `yaml:"buffer_items" toml:"buffer_items"`
}

// OlricConfig shapes the HA backend. Embedded selects between running
// a cluster member in-process and connecting to an external cluster.
type OlricConfig struct {
	DMapName          string        `yaml:"dmap_name" toml:"dmap_name"`
	BindAddr          string        `yaml:"bind_addr" toml:"bind_addr"`
	Environment       string        `yaml:"environment" toml:"environment"`
	Addresses         []string      `yaml:"addresses" toml:"addresses"`
	Peers             []string      `yaml:"peers" toml:"peers"`
	ReplicaCount      int           `yaml:"replica_count" toml:"replica_count"`
	ReadQuorum        int           `yaml:"read_quorum" toml:"read_quorum"`
	WriteQuorum       int           `yaml:"write_quorum" toml:"write_quorum"`
	LeaveTimeout      time.Duration `yaml:"leave_timeout" toml:"leave_timeout"`
	MemberCountQuorum int32         `yaml:"member_count_quorum" toml:"member_count_quorum"`
	Embedded          bool          `yaml:"embedded" toml:"embedded"`
}

// Validate checks the sub-config selected by Mode.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSingle:
		if c.Ristretto.MaxCost <= 0 {
			return errors.New("cache: ristretto.max_cost must be positive")
		}
		if c.Ristretto.NumCounters <= 0 {
			return errors.New("cache: ristretto.num_counters must be positive")
		}
	case ModeHA:
		return c.Olric.Validate()
	case ModeDisabled:
		// Nothing to check; the noop backend has no settings.
	case "":
		return errors.New("cache: mode is required")
	default:
		return fmt.Errorf("cache: unknown mode %q", c.Mode)
	}
	return nil
}

// Validate checks the HA settings for the selected olric mode.
func (c *OlricConfig) Validate() error {
	if c.Embedded {
		if c.BindAddr == "" {
			return errors.New("cache: olric.bind_addr required when embedded")
		}
	} else if len(c.Addresses) == 0 {
		return errors.New("cache: olric.addresses required when not embedded")
	}

	switch c.Environment {
	case "", EnvLocal, EnvLAN, EnvWAN:
	default:
		return fmt.Errorf(`cache: olric.environment must be "local", "lan", or "wan" (got %q)`, c.Environment)
	}

	// Zero quorum values defer to olric's environment preset.
	if c.ReplicaCount > 0 {
		if c.ReadQuorum > c.ReplicaCount {
			return errors.New("cache: olric.read_quorum cannot exceed replica_count")
		}
		if c.WriteQuorum > c.ReplicaCount {
			return errors.New("cache: olric.write_quorum cannot exceed replica_count")
		}
	}
	if c.MemberCountQuorum < 0 {
		return errors.New("cache: olric.member_count_quorum cannot be negative")
	}
	if c.LeaveTimeout < 0 {
		return errors.New("cache: olric.leave_timeout cannot be negative")
	}

	return nil
}

// DefaultRistrettoConfig sizes the local backend for roughly 100K live
// verdicts in 100 MB.
func DefaultRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{
		NumCounters: 1_000_000,
		MaxCost:     100 << 20,
		BufferItems: 64,
	}
}

// DefaultOlricConfig returns an OlricConfig with single-node defaults:
// a "tokengate" dmap in the local environment with no replication.
func DefaultOlricConfig() OlricConfig {
	return OlricConfig{
		DMapName:          "tokengate",
		Environment:       EnvLocal,
		ReplicaCount:      1,
		ReadQuorum:        1,
		WriteQuorum:       1,
		MemberCountQuorum: 1,
		LeaveTimeout:      5 * time.Second,
	}
}
