package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config captures runtime configuration for the flapgate service.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	RPCURL        string `toml:"RPCURL"`
	ChainID       int64  `toml:"ChainID"`

	// BackendKeyEnv names the environment variable holding the hex-encoded
	// private key of the custodial backend signer. The key itself never
	// lives in the config file.
	BackendKeyEnv string `toml:"BackendKeyEnv"`

	FlapTokenAddress   string `toml:"FlapTokenAddress"`
	FlappymonAddress   string `toml:"FlappymonAddress"`
	SkillNFTAddress    string `toml:"SkillNFTAddress"`
	GameItemAddress    string `toml:"GameItemAddress"`
	MarketplaceAddress string `toml:"MarketplaceAddress"`

	StorePath    string `toml:"StorePath"`
	RegistryPath string `toml:"RegistryPath"`

	ClaimFreshness   duration `toml:"ClaimFreshness"`
	ConfirmTimeout   duration `toml:"ConfirmTimeout"`
	SequencerDepth   int      `toml:"SequencerDepth"`
	RegistryInterval duration `toml:"RegistryInterval"`

	GameItemIDs []int64 `toml:"GameItemIDs"`

	RateLimits map[string]RateLimit `toml:"RateLimits"`
}

// RateLimit configures a per-route token bucket.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Load reads the configuration from path, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ListenAddress:    ":8090",
		BackendKeyEnv:    "FLAPGATE_BACKEND_KEY",
		StorePath:        "flapgate.db",
		RegistryPath:     "flapgate-registry.db",
		ClaimFreshness:   duration{5 * time.Minute},
		ConfirmTimeout:   duration{90 * time.Second},
		SequencerDepth:   256,
		RegistryInterval: duration{30 * time.Second},
		GameItemIDs:      []int64{0, 1, 2, 3},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("FLAPGATE_LISTEN")); v != "" {
		cfg.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("FLAPGATE_RPC_URL")); v != "" {
		cfg.RPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv("FLAPGATE_STORE_PATH")); v != "" {
		cfg.StorePath = v
	}
	if v := strings.TrimSpace(os.Getenv("FLAPGATE_REGISTRY_PATH")); v != "" {
		cfg.RegistryPath = v
	}
}

// Validate reports the first missing or malformed field.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCURL) == "" {
		return errors.New("RPCURL is required")
	}
	if c.ChainID <= 0 {
		return errors.New("ChainID must be positive")
	}
	for name, addr := range map[string]string{
		"FlapTokenAddress":   c.FlapTokenAddress,
		"FlappymonAddress":   c.FlappymonAddress,
		"SkillNFTAddress":    c.SkillNFTAddress,
		"GameItemAddress":    c.GameItemAddress,
		"MarketplaceAddress": c.MarketplaceAddress,
	} {
		if !isHexAddress(addr) {
			return fmt.Errorf("%s must be a 0x-prefixed 20-byte hex address", name)
		}
	}
	if c.SequencerDepth <= 0 {
		return errors.New("SequencerDepth must be positive")
	}
	if c.ConfirmTimeout.Duration <= 0 {
		return errors.New("ConfirmTimeout must be positive")
	}
	return nil
}

func isHexAddress(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
