// Package config handles Reeve configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/reeve/config.yaml, /etc/reeve/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "reeve", "config.yaml"))
	}

	paths = append(paths, "/etc/reeve/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Reeve configuration.
type Config struct {
	Listen       ListenConfig  `yaml:"listen"`
	Models       ModelsConfig  `yaml:"models"`
	Assistant    BackendConfig `yaml:"assistant"`     // tier (a): local high-capability assistant
	AgentNetwork BackendConfig `yaml:"agent_network"` // tier (b): multi-tool orchestrator
	Cache        CacheConfig   `yaml:"cache"`
	Memory       MemoryConfig  `yaml:"memory"`
	MQTT         MQTTConfig    `yaml:"mqtt"`
	Timeouts     TimeoutConfig `yaml:"timeouts"`
	DataDir      string        `yaml:"data_dir"`
	LogLevel     string        `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines the direct model endpoint (resolution tier c).
type ModelsConfig struct {
	Default   string `yaml:"default"`
	OllamaURL string `yaml:"ollama_url"`
}

// BackendConfig defines an opaque higher-priority resolution backend.
// An empty URL leaves the tier unconfigured and it is skipped.
type BackendConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"` // bearer token; never logged
}

// CacheConfig defines the response cache location and bound.
type CacheConfig struct {
	Path       string `yaml:"path"`        // default: <data_dir>/cache.json
	MaxEntries int    `yaml:"max_entries"` // 0 uses the built-in default
}

// MemoryConfig defines the conversation memory store.
type MemoryConfig struct {
	Path         string `yaml:"path"`          // default: <data_dir>/reeve.db
	MaxMessages  int    `yaml:"max_messages"`  // per conversation retention cap
	ContextLimit int    `yaml:"context_limit"` // recent exchanges fed into prompts
}

// MQTTConfig defines the optional presence/lifecycle publisher.
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"` // e.g. mqtt://host:1883 or mqtts://host:8883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// TimeoutConfig bounds resolution and dispatch.
type TimeoutConfig struct {
	TierSec     int `yaml:"tier_sec"`     // per backend tier attempt
	PipelineSec int `yaml:"pipeline_sec"` // whole request including tool execution
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so secrets stay out of the file.
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Models: ModelsConfig{
			Default:   "qwen3:4b",
			OllamaURL: "http://localhost:11434",
		},
		Cache:  CacheConfig{MaxEntries: 1000},
		Memory: MemoryConfig{MaxMessages: 100, ContextLimit: 10},
		MQTT: MQTTConfig{
			DeviceName:         "reeve",
			DiscoveryPrefix:    "homeassistant",
			PublishIntervalSec: 60,
		},
		Timeouts: TimeoutConfig{TierSec: 30, PipelineSec: 120},
		DataDir:  ".",
	}
}

// CachePath returns the resolved response cache file path.
func (c *Config) CachePath() string {
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	return filepath.Join(c.DataDir, "cache.json")
}

// MemoryPath returns the resolved memory database path.
func (c *Config) MemoryPath() string {
	if c.Memory.Path != "" {
		return c.Memory.Path
	}
	return filepath.Join(c.DataDir, "reeve.db")
}
