package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/logging"
	"gopkg.in/yaml.v3"
)

// Config holds the daemon configuration.
type Config struct {
	// Name is the advertised instance name.
	Name string `yaml:"name"`

	// Store is the SQLite database path. Empty keeps pairings in memory.
	Store string `yaml:"store"`

	// SetupCode is the pair-setup code. Empty generates one at startup.
	SetupCode string `yaml:"setup_code"`

	// MaxTries caps pair-setup attempts. 0 selects exponential backoff.
	MaxTries int `yaml:"max_tries"`

	// MaxPeers caps the number of paired controllers. 0 is unlimited.
	MaxPeers int `yaml:"max_peers"`

	// TCPListen is the framed pairing listener address.
	TCPListen string `yaml:"tcp_listen"`

	// HTTPListen is the HTTP listener address. Empty disables HTTP.
	HTTPListen string `yaml:"http_listen"`

	// Advertise enables DNS-SD advertisement.
	Advertise bool `yaml:"advertise"`

	// LogLevel is one of disabled, error, warn, info, debug, trace.
	LogLevel string `yaml:"log_level"`

	// HandshakeTimeout bounds one pairing exchange, in seconds.
	HandshakeTimeout int `yaml:"handshake_timeout_seconds"`

	// SessionIdle expires idle HTTP pairing sessions, in seconds.
	SessionIdle int `yaml:"session_idle_seconds"`

	// RateLimit caps HTTP pairing requests per client IP per minute.
	RateLimit int `yaml:"rate_limit"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:             "Pairing Device",
		Store:            "pairingd.db",
		TCPListen:        ":5541",
		HTTPListen:       ":8080",
		Advertise:        true,
		LogLevel:         "info",
		HandshakeTimeout: 30,
		SessionIdle:      60,
		RateLimit:        60,
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Environment variables applied by ApplyEnv.
const (
	envName       = "PAIRINGD_NAME"
	envStore      = "PAIRINGD_STORE"
	envSetupCode  = "PAIRINGD_SETUP_CODE"
	envMaxTries   = "PAIRINGD_MAX_TRIES"
	envMaxPeers   = "PAIRINGD_MAX_PEERS"
	envTCPListen  = "PAIRINGD_TCP_LISTEN"
	envHTTPListen = "PAIRINGD_HTTP_LISTEN"
	envAdvertise  = "PAIRINGD_ADVERTISE"
	envLogLevel   = "PAIRINGD_LOG_LEVEL"
)

var envKeys = []string{
	envName, envStore, envSetupCode, envMaxTries, envMaxPeers,
	envTCPListen, envHTTPListen, envAdvertise, envLogLevel,
}

// ApplyEnv overlays PAIRINGD_* variables read from envFile and the process
// environment. Process variables win over the file; a missing file is
// ignored.
func (c *Config) ApplyEnv(envFile string) error {
	vars := make(map[string]string)
	if envFile != "" {
		fileVars, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read env file: %w", err)
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}
	for _, key := range envKeys {
		if v, ok := os.LookupEnv(key); ok {
			vars[key] = v
		}
	}

	for key, v := range vars {
		var err error
		switch key {
		case envName:
			c.Name = v
		case envStore:
			c.Store = v
		case envSetupCode:
			c.SetupCode = v
		case envMaxTries:
			c.MaxTries, err = strconv.Atoi(v)
		case envMaxPeers:
			c.MaxPeers, err = strconv.Atoi(v)
		case envTCPListen:
			c.TCPListen = v
		case envHTTPListen:
			c.HTTPListen = v
		case envAdvertise:
			c.Advertise, err = strconv.ParseBool(v)
		case envLogLevel:
			c.LogLevel = v
		}
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.TCPListen == "" {
		return errors.New("tcp_listen is required")
	}
	if c.SetupCode != "" && (len(c.SetupCode) < 4 || len(c.SetupCode) > 64) {
		return errors.New("setup_code must be 4 to 64 characters")
	}
	if c.MaxTries < 0 || c.MaxPeers < 0 {
		return errors.New("max_tries and max_peers must not be negative")
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func (c *Config) handshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeout) * time.Second
}

func (c *Config) sessionIdle() time.Duration {
	return time.Duration(c.SessionIdle) * time.Second
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "", "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
