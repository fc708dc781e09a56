// Package config loads the control plane's YAML configuration, with
// environment-variable overrides bound through viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration structure for cmd/agentd.
type Config struct {
	Version string `yaml:"version"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`

	Bridge struct {
		URL               string `yaml:"url"`
		UseSidecar        bool   `yaml:"useSidecar"`
		HeartbeatSeconds  int    `yaml:"heartbeatSeconds"`
		BaseDelayMS       int    `yaml:"baseDelayMs"`
		MaxReconnects     int    `yaml:"maxReconnects"`
	} `yaml:"bridge"`

	Agent struct {
		MaxSteps          int `yaml:"maxSteps"`
		ScreenshotQuality int `yaml:"screenshotQuality"`
	} `yaml:"agent"`

	HTTP struct {
		Addr          string `yaml:"addr"`
		EnableMetrics bool   `yaml:"enableMetrics"`
	} `yaml:"http"`
}

// New returns a Config populated with defaults.
func New() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Dsn = "agentd.sqlite3"
	c.Sqlite.Prefix = "agentd_"
	c.Log.Level = "debug"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File = "agentd.log"
	c.Bridge.URL = "ws://127.0.0.1:8787/bridge"
	c.Bridge.UseSidecar = true
	c.Bridge.HeartbeatSeconds = 20
	c.Bridge.BaseDelayMS = 1000
	c.Bridge.MaxReconnects = 5
	c.Agent.MaxSteps = 15
	c.Agent.ScreenshotQuality = 30
	c.HTTP.Addr = ":8791"
	c.HTTP.EnableMetrics = true
	return c
}

// Load starts from New()'s defaults. If path is non-empty it reads that file
// and unmarshals it on top, where an AGENTD_-prefixed environment variable
// overrides any key the file sets (bridge.url -> AGENTD_BRIDGE_URL).
// AGENTD_BRIDGE_URL is applied even without a file; no other environment
// variable is read when path is empty.
func Load(path string) (*Config, error) {
	cfg := New()

	v := viper.New()
	v.SetEnvPrefix("AGENTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if url := v.GetString("bridge.url"); url != "" {
		cfg.Bridge.URL = url
	}
	return cfg, nil
}
