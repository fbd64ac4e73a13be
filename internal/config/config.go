package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// HostConfig holds the optional overrides described in spec.md §6
// ("Environment knobs (optional)"). Every field has a normative default;
// the file (or any field within it) may be absent entirely.
type HostConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute,omitempty"`
	BanThreshold        int `yaml:"ban_threshold,omitempty"`

	SmallReadThreshold int           `yaml:"small_read_threshold,omitempty"`
	LargeBatchThreshold int          `yaml:"large_batch_threshold,omitempty"`
	MaxLatency         time.Duration `yaml:"max_latency,omitempty"`
}

// Defaults returns the normative values from spec.md §4.4 and §4.6.
func Defaults() HostConfig {
	return HostConfig{
		ListenAddr:          "0.0.0.0:8443",
		RateLimitPerMinute:  5,
		BanThreshold:        3,
		SmallReadThreshold:  256,
		LargeBatchThreshold: 4096,
		MaxLatency:          5 * time.Millisecond,
	}
}

// Load reads config.yaml from the data directory, merging it over Defaults.
// A missing file is not an error.
func Load(dataDir string) (HostConfig, error) {
	cfg := Defaults()
	path := filepath.Join(dataDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var override HostConfig
	if err := yaml.Unmarshal(data, &override); err != nil {
		return cfg, err
	}
	if override.ListenAddr != "" {
		cfg.ListenAddr = override.ListenAddr
	}
	if override.RateLimitPerMinute != 0 {
		cfg.RateLimitPerMinute = override.RateLimitPerMinute
	}
	if override.BanThreshold != 0 {
		cfg.BanThreshold = override.BanThreshold
	}
	if override.SmallReadThreshold != 0 {
		cfg.SmallReadThreshold = override.SmallReadThreshold
	}
	if override.LargeBatchThreshold != 0 {
		cfg.LargeBatchThreshold = override.LargeBatchThreshold
	}
	if override.MaxLatency != 0 {
		cfg.MaxLatency = override.MaxLatency
	}
	return cfg, nil
}
