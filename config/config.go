package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"veilnet/core"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	GenesisFile   string `toml:"GenesisFile"`
	NetworkName   string `toml:"NetworkName"`
	Env           string `toml:"Env"`
	LogFile       string `toml:"LogFile"`

	// Backend selects the ledger store: "leveldb" or "sqlite".
	Backend string `toml:"Backend"`

	MaxActiveSeals            int   `toml:"MaxActiveSeals"`
	SkewWindowSeconds         int64 `toml:"SkewWindowSeconds"`
	MaxPayloadBytes           int   `toml:"MaxPayloadBytes"`
	CollaboratorTimeoutMillis int64 `toml:"CollaboratorTimeoutMillis"`

	// RateLimit is the per-client request budget per second. Zero disables
	// limiting.
	RateLimit float64 `toml:"RateLimit"`

	Auth AuthConfig `toml:"Auth"`
	OTel OTelConfig `toml:"OTel"`
}

type AuthConfig struct {
	Enabled    bool   `toml:"Enabled"`
	HMACSecret string `toml:"HMACSecret"`
	Issuer     string `toml:"Issuer"`
	Audience   string `toml:"Audience"`
}

type OTelConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = "0.0.0.0:8651"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./veilnet-data"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "veilnet-local"
	}
	if strings.TrimSpace(c.Env) == "" {
		c.Env = "dev"
	}
	if strings.TrimSpace(c.Backend) == "" {
		c.Backend = "leveldb"
	}
	def := core.DefaultPolicy()
	if c.MaxActiveSeals == 0 {
		c.MaxActiveSeals = def.MaxActiveSeals
	}
	if c.SkewWindowSeconds == 0 {
		c.SkewWindowSeconds = int64(def.SkewWindow / time.Second)
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = def.MaxPayloadBytes
	}
	if c.CollaboratorTimeoutMillis == 0 {
		c.CollaboratorTimeoutMillis = int64(def.CollaboratorTimeout / time.Millisecond)
	}
}

// Validate rejects settings the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Backend {
	case "leveldb", "sqlite":
	default:
		return fmt.Errorf("config: unknown backend %q (want leveldb or sqlite)", c.Backend)
	}
	if c.MaxActiveSeals < 1 {
		return fmt.Errorf("config: MaxActiveSeals must be at least 1, got %d", c.MaxActiveSeals)
	}
	if c.SkewWindowSeconds < 0 {
		return fmt.Errorf("config: SkewWindowSeconds must not be negative, got %d", c.SkewWindowSeconds)
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return fmt.Errorf("config: Auth.Enabled requires Auth.HMACSecret")
	}
	return nil
}

// Policy builds the engine policy from the configured knobs.
func (c *Config) Policy() core.Policy {
	return core.Policy{
		MaxActiveSeals:      c.MaxActiveSeals,
		SkewWindow:          time.Duration(c.SkewWindowSeconds) * time.Second,
		MaxPayloadBytes:     c.MaxPayloadBytes,
		CollaboratorTimeout: time.Duration(c.CollaboratorTimeoutMillis) * time.Millisecond,
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	fmt.Printf("Created default config file at: %s\n", path)
	return cfg, nil
}
