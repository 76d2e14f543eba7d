package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Environment override keys. Values from the environment win over the
// config file, which wins over defaults.
const (
	EnvBindHost            = "TOOLMESH_BIND_HOST"
	EnvPort                = "TOOLMESH_PORT"
	EnvOpsAddr             = "TOOLMESH_OPS_ADDR"
	EnvOpsToken            = "TOOLMESH_OPS_TOKEN"
	EnvMaxFrameBytes       = "TOOLMESH_MAX_FRAME_BYTES"
	EnvMaxFramesPerSession = "TOOLMESH_MAX_FRAMES_PER_SESSION"

	EnvDiscoveryMDNS       = "TOOLMESH_DISCOVERY_MDNS"
	EnvDiscoveryDHT        = "TOOLMESH_DISCOVERY_DHT"
	EnvDiscoveryRendezvous = "TOOLMESH_DISCOVERY_RENDEZVOUS"
	EnvDiscoveryAutoNAT    = "TOOLMESH_DISCOVERY_AUTONAT"
	EnvDiscoveryRelay      = "TOOLMESH_DISCOVERY_RELAY"
	EnvDiscoveryHolePunch  = "TOOLMESH_DISCOVERY_HOLEPUNCH"
)

// DiscoveryConfig carries the opaque peer-discovery toggles.
type DiscoveryConfig struct {
	MDNS           bool     `toml:"mdns"`
	DHT            bool     `toml:"dht"`
	Rendezvous     bool     `toml:"rendezvous"`
	AutoNAT        bool     `toml:"autonat"`
	Relay          bool     `toml:"relay"`
	HolePunch      bool     `toml:"holepunch"`
	BootstrapPeers []string `toml:"bootstrap_peers"`
	AnnounceFile   string   `toml:"announce_file"`
}

// Config is the serving peer's boundary configuration.
type Config struct {
	PeerName            string          `toml:"peer_name"`
	BindHost            string          `toml:"bind_host"`
	Port                int             `toml:"port"`
	OpsAddr             string          `toml:"ops_addr"`
	OpsToken            string          `toml:"ops_token"`
	CorsOrigins         []string        `toml:"cors_origins"`
	MaxFrameBytes       uint32          `toml:"max_frame_bytes"`
	MaxFramesPerSession int64           `toml:"max_frames_per_session"`
	ShutdownTimeout     string          `toml:"shutdown_timeout"`
	Discovery           DiscoveryConfig `toml:"discovery"`

	shutdownTimeout time.Duration
}

func Default() Config {
	return Config{
		PeerName:            "toolmesh",
		BindHost:            "0.0.0.0",
		Port:                9200,
		OpsAddr:             ":9201",
		MaxFrameBytes:       1 << 20,
		MaxFramesPerSession: 0,
		shutdownTimeout:     5 * time.Second,
	}
}

// Load reads a TOML config file, fills defaults, applies environment
// overrides, and validates the result. An empty path loads defaults plus
// environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}

	if cfg.ShutdownTimeout != "" {
		d, err := time.ParseDuration(strings.TrimSpace(cfg.ShutdownTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("config parse shutdown_timeout: %w", err)
		}
		cfg.shutdownTimeout = d
	}
	if cfg.shutdownTimeout <= 0 {
		cfg.shutdownTimeout = Default().shutdownTimeout
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.PeerName) == "" {
		return fmt.Errorf("config missing peer_name")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config port out of range: %d", c.Port)
	}
	if c.MaxFrameBytes == 0 {
		return fmt.Errorf("config max_frame_bytes must be positive")
	}
	return nil
}

// ShutdownDeadline returns the parsed graceful-shutdown bound.
func (c Config) ShutdownDeadline() time.Duration {
	if c.shutdownTimeout <= 0 {
		return Default().shutdownTimeout
	}
	return c.shutdownTimeout
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvBindHost)); v != "" {
		cfg.BindHost = v
	}
	if v, ok := envInt(EnvPort); ok {
		cfg.Port = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvOpsAddr)); v != "" {
		cfg.OpsAddr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvOpsToken)); v != "" {
		cfg.OpsToken = v
	}
	if v, ok := envInt(EnvMaxFrameBytes); ok && v > 0 {
		cfg.MaxFrameBytes = uint32(v)
	}
	if v, ok := envInt(EnvMaxFramesPerSession); ok {
		cfg.MaxFramesPerSession = int64(v)
	}

	if v, ok := envBool(EnvDiscoveryMDNS); ok {
		cfg.Discovery.MDNS = v
	}
	if v, ok := envBool(EnvDiscoveryDHT); ok {
		cfg.Discovery.DHT = v
	}
	if v, ok := envBool(EnvDiscoveryRendezvous); ok {
		cfg.Discovery.Rendezvous = v
	}
	if v, ok := envBool(EnvDiscoveryAutoNAT); ok {
		cfg.Discovery.AutoNAT = v
	}
	if v, ok := envBool(EnvDiscoveryRelay); ok {
		cfg.Discovery.Relay = v
	}
	if v, ok := envBool(EnvDiscoveryHolePunch); ok {
		cfg.Discovery.HolePunch = v
	}
}

func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(key string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
