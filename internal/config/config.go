// Package config provides configuration parsing and validation for carelay.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/postalsys/carelay/internal/relay"
)

// Config represents the complete relay configuration.
type Config struct {
	Relay  RelayConfig  `yaml:"relay"`
	Log    LogConfig    `yaml:"log"`
	Health HealthConfig `yaml:"health"`
}

// RelayConfig defines the relay endpoints and timers.
type RelayConfig struct {
	ListenAddress    string        `yaml:"listen_address"`     // wildcard by default
	ListenPort       int           `yaml:"listen_port"`        // required
	ForwardAddress   string        `yaml:"forward_address"`    // host:port
	ReplyBindAddress string        `yaml:"reply_bind_address"` // per-session sockets
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	MaxPayloadSize   string        `yaml:"max_payload_size"` // e.g. "4KiB"
}

// LogConfig defines logging output.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // text, json
	File       string `yaml:"file"`   // empty for stderr
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// HealthConfig defines health check server settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns a Config with default values. The listen port is left
// unset; it must come from the file or the command line.
func Default() *Config {
	rd := relay.DefaultConfig()
	return &Config{
		Relay: RelayConfig{
			ListenAddress:    "0.0.0.0",
			ForwardAddress:   rd.ForwardAddress,
			ReplyBindAddress: rd.ReplyBindAddress,
			IdleTimeout:      rd.IdleTimeout,
			PollInterval:     rd.PollInterval,
			MaxPayloadSize:   "4KiB",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      "127.0.0.1:9465",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes and validates it.
func Parse(data []byte) (*Config, error) {
	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Decode parses YAML bytes over the defaults without validating, so that
// command-line overrides can be applied before Validate.
func Decode(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // Keep original if not found
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Relay.ListenPort < 1 || c.Relay.ListenPort > 65535 {
		errs = append(errs, "relay.listen_port must be between 1 and 65535")
	}
	if ip := net.ParseIP(c.Relay.ListenAddress); ip == nil || ip.To4() == nil {
		errs = append(errs, fmt.Sprintf("relay.listen_address: invalid IPv4 address: %q", c.Relay.ListenAddress))
	}
	if err := validateHostPort(c.Relay.ForwardAddress); err != nil {
		errs = append(errs, fmt.Sprintf("relay.forward_address: %v", err))
	}
	if ip := net.ParseIP(c.Relay.ReplyBindAddress); ip == nil || ip.To4() == nil {
		errs = append(errs, fmt.Sprintf("relay.reply_bind_address: invalid IPv4 address: %q", c.Relay.ReplyBindAddress))
	}
	if c.Relay.IdleTimeout < 0 {
		errs = append(errs, "relay.idle_timeout must not be negative")
	}
	if c.Relay.PollInterval <= 0 {
		errs = append(errs, "relay.poll_interval must be positive")
	}
	if size, err := c.PayloadSize(); err != nil {
		errs = append(errs, fmt.Sprintf("relay.max_payload_size: %v", err))
	} else if size < 1 || size > 65535 {
		errs = append(errs, "relay.max_payload_size must be between 1B and 65535B")
	}

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		errs = append(errs, "log rotation settings must not be negative")
	}

	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// PayloadSize returns max_payload_size in bytes.
func (c *Config) PayloadSize() (int, error) {
	n, err := humanize.ParseBytes(c.Relay.MaxPayloadSize)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", c.Relay.MaxPayloadSize, err)
	}
	if n > 1<<20 {
		return 0, fmt.Errorf("size %q too large", c.Relay.MaxPayloadSize)
	}
	return int(n), nil
}

// RelayConfig converts the relay section into a relay.Config. The config
// must have been validated.
func (c *Config) RelayConfig() relay.Config {
	size, _ := c.PayloadSize()
	return relay.Config{
		ListenAddress:    net.JoinHostPort(c.Relay.ListenAddress, strconv.Itoa(c.Relay.ListenPort)),
		ForwardAddress:   c.Relay.ForwardAddress,
		ReplyBindAddress: c.Relay.ReplyBindAddress,
		IdleTimeout:      c.Relay.IdleTimeout,
		PollInterval:     c.Relay.PollInterval,
		MaxPayloadSize:   size,
	}
}

func validateHostPort(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return fmt.Errorf("host is required")
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port: %s", port)
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

// String returns the configuration as YAML.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
