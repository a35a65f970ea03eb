// Package config loads the tunable constants of a ring node from an
// optional YAML file, falling back to the defaults fixed by the protocol.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in the external interfaces table. Zero
// values are replaced with the protocol defaults by Defaults/Load.
type Config struct {
	// NodeID is the node's identity. Zero means "pick a random id in
	// [1, 10000]" at startup.
	NodeID int `yaml:"node_id"`

	MulticastGroup string `yaml:"multicast_group"`
	MulticastPort  int    `yaml:"multicast_port"`
	MulticastTTL   int    `yaml:"multicast_ttl"`

	HelloInterval        time.Duration `yaml:"-"`
	TopologyTick         time.Duration `yaml:"-"`
	HeartbeatInterval    time.Duration `yaml:"-"`
	HeartbeatTimeout     time.Duration `yaml:"-"`
	PeerStaleness        time.Duration `yaml:"-"`
	ElectionCooldown     time.Duration `yaml:"-"`
	StartupElectionDelay time.Duration `yaml:"-"`
	ConnectTimeout       time.Duration `yaml:"-"`
	ClientWriteTimeout   time.Duration `yaml:"-"`

	// String mirrors of the duration fields above, the actual YAML surface.
	// Durations don't round-trip through yaml.v3 without a custom type, so
	// the file holds strings like "2s" and Load parses them.
	HelloIntervalStr        string `yaml:"hello_interval"`
	TopologyTickStr         string `yaml:"topology_tick"`
	HeartbeatIntervalStr    string `yaml:"heartbeat_interval"`
	HeartbeatTimeoutStr     string `yaml:"heartbeat_timeout"`
	PeerStalenessStr        string `yaml:"peer_staleness"`
	ElectionCooldownStr     string `yaml:"election_cooldown"`
	StartupElectionDelayStr string `yaml:"startup_election_delay"`
	ConnectTimeoutStr       string `yaml:"connect_timeout"`
	ClientWriteTimeoutStr   string `yaml:"client_write_timeout"`
}

// Defaults returns the config matching §6's default table exactly.
func Defaults() Config {
	return Config{
		MulticastGroup:       "224.1.1.1",
		MulticastPort:        50000,
		MulticastTTL:         2,
		HelloInterval:        1 * time.Second,
		TopologyTick:         1 * time.Second,
		HeartbeatInterval:    2 * time.Second,
		HeartbeatTimeout:     6 * time.Second,
		PeerStaleness:        10 * time.Second,
		ElectionCooldown:     2 * time.Second,
		StartupElectionDelay: 2 * time.Second,
		ConnectTimeout:       2 * time.Second,
		ClientWriteTimeout:   2 * time.Second,
	}
}

// Load reads a YAML config file at path, applying it on top of Defaults().
// A missing path is not an error: it returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var raw Config
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if raw.NodeID != 0 {
		cfg.NodeID = raw.NodeID
	}
	if raw.MulticastGroup != "" {
		cfg.MulticastGroup = raw.MulticastGroup
	}
	if raw.MulticastPort != 0 {
		cfg.MulticastPort = raw.MulticastPort
	}
	if raw.MulticastTTL != 0 {
		cfg.MulticastTTL = raw.MulticastTTL
	}

	durations := []struct {
		raw  string
		dest *time.Duration
	}{
		{raw.HelloIntervalStr, &cfg.HelloInterval},
		{raw.TopologyTickStr, &cfg.TopologyTick},
		{raw.HeartbeatIntervalStr, &cfg.HeartbeatInterval},
		{raw.HeartbeatTimeoutStr, &cfg.HeartbeatTimeout},
		{raw.PeerStalenessStr, &cfg.PeerStaleness},
		{raw.ElectionCooldownStr, &cfg.ElectionCooldown},
		{raw.StartupElectionDelayStr, &cfg.StartupElectionDelay},
		{raw.ConnectTimeoutStr, &cfg.ConnectTimeout},
		{raw.ClientWriteTimeoutStr, &cfg.ClientWriteTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return cfg, fmt.Errorf("parsing duration %q: %w", d.raw, err)
		}
		*d.dest = parsed
	}

	return cfg, nil
}
