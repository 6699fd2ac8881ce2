// SPDX-License-Identifier: Apache-2.0

// Package config loads settings for the helper, broker and agent binaries
// from AUTOFILL_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/akihiro/login-autofill/internal/registry"
)

// Prefix is the environment variable prefix, e.g. AUTOFILL_BROKER_TIMEOUT.
const Prefix = "AUTOFILL"

// Config holds all settings. Each binary reads only its own section.
type Config struct {
	Log    LogConfig    `envconfig:"LOG"`
	Apps   []string     `envconfig:"APPS" default:"/truai=truai,/wiki=wiki,/tracker=tracker"`
	Helper HelperConfig `envconfig:"HELPER"`
	Broker BrokerConfig `envconfig:"BROKER"`
	Agent  AgentConfig  `envconfig:"AGENT"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"info"`
	Development bool   `envconfig:"DEV" default:"false"`
}

// HelperConfig configures the credential helper and the provisioning CLI.
type HelperConfig struct {
	// Backend is "auto", "file", "secretservice", "wincred" or "wslbridge".
	Backend   string `envconfig:"BACKEND" default:"auto"`
	StorePath string `envconfig:"STORE_PATH"`
	// Identity is the age identity file for the file backend.
	Identity string `envconfig:"IDENTITY"`
	// BridgePath is the Windows credential-helper.exe as seen from WSL.
	BridgePath        string   `envconfig:"BRIDGE_PATH"`
	BridgeArgs        []string `envconfig:"BRIDGE_ARGS" default:"--backend=wincred"`
	DisableMemprotect bool     `envconfig:"DISABLE_MEMPROTECT" default:"false"`
}

// BrokerConfig configures the relay broker.
type BrokerConfig struct {
	Listen         string        `envconfig:"LISTEN" default:"127.0.0.1:47615"`
	HelperPath     string        `envconfig:"HELPER_PATH"`
	HelperArgs     []string      `envconfig:"HELPER_ARGS"`
	Timeout        time.Duration `envconfig:"TIMEOUT" default:"10s"`
	AllowedOrigins []string      `envconfig:"ALLOWED_ORIGINS" default:"chrome-extension://login-autofill"`
}

// AgentConfig configures the page agent.
type AgentConfig struct {
	BrokerURL    string        `envconfig:"BROKER_URL" default:"ws://127.0.0.1:47615/messages"`
	Origin       string        `envconfig:"ORIGIN" default:"chrome-extension://login-autofill"`
	DebuggerURL  string        `envconfig:"DEBUGGER_URL"`
	Headless     bool          `envconfig:"HEADLESS" default:"false"`
	SettleDelay  time.Duration `envconfig:"SETTLE_DELAY" default:"1s"`
	SubmitDelay  time.Duration `envconfig:"SUBMIT_DELAY" default:"500ms"`
	IndicatorTTL time.Duration `envconfig:"INDICATOR_TTL" default:"4s"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Helper.StorePath == "" {
		cfg.Helper.StorePath = DefaultStorePath()
	}
	return &cfg, nil
}

// Registry builds the app registry from Apps.
func (c *Config) Registry() (*registry.Registry, error) {
	if len(c.Apps) == 0 {
		return registry.Default(), nil
	}
	return registry.Parse(c.Apps)
}

// DefaultStorePath returns the XDG-compliant location of the file backend.
func DefaultStorePath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "login-autofill", "credentials.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".login-autofill", "credentials.json")
	}
	return filepath.Join(home, ".local", "share", "login-autofill", "credentials.json")
}
