package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Framing modes for the connection workers
const (
	FramingRaw = "raw" // one read is one message
	FramingNUL = "nul" // the stream is split on NUL bytes
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Collector CollectorConfig `yaml:"collector"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains TCP listener and acceptor configuration
type ServerConfig struct {
	BindAddress   string `yaml:"bind_address"`
	Port          int    `yaml:"port"`
	MaxClients    int    `yaml:"max_clients"`
	BufferSize    int    `yaml:"buffer_size"`     // bytes per receive call
	MaxMessageLen int    `yaml:"max_message_len"` // record size including terminator
	AcceptPoll    int    `yaml:"accept_poll"`     // milliseconds
	Framing       string `yaml:"framing"`
}

// CollectorConfig contains coordinator configuration
type CollectorConfig struct {
	MessagesPerClient int `yaml:"messages_per_client"`
	PollInterval      int `yaml:"poll_interval"` // milliseconds
	WaitTimeout       int `yaml:"wait_timeout"`  // seconds, 0 waits forever
}

// HTTPConfig contains HTTP monitor configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration: three loopback clients with
// five messages each on port 8080.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:   "127.0.0.1",
			Port:          8080,
			MaxClients:    3,
			BufferSize:    256,
			MaxMessageLen: 128,
			AcceptPoll:    50,
			Framing:       FramingRaw,
		},
		Collector: CollectorConfig{
			MessagesPerClient: 5,
			PollInterval:      10,
			WaitTimeout:       0,
		},
		HTTP: HTTPConfig{
			Port:    9090,
			Address: "127.0.0.1",
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file, overlays it on the defaults and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Collector.Validate(); err != nil {
		return fmt.Errorf("collector config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	// Port 0 lets the kernel pick one, which tests rely on
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.MaxClients < 1 {
		return fmt.Errorf("max_clients must be at least 1, got %d", s.MaxClients)
	}

	if s.BufferSize < 2 {
		return fmt.Errorf("buffer_size must be at least 2 bytes, got %d", s.BufferSize)
	}

	if s.MaxMessageLen < 2 {
		return fmt.Errorf("max_message_len must be at least 2 bytes, got %d", s.MaxMessageLen)
	}

	if s.AcceptPoll < 1 || s.AcceptPoll > 1000 {
		return fmt.Errorf("accept_poll must be between 1 and 1000 ms, got %d", s.AcceptPoll)
	}

	if s.Framing != FramingRaw && s.Framing != FramingNUL {
		return fmt.Errorf("framing must be '%s' or '%s', got '%s'", FramingRaw, FramingNUL, s.Framing)
	}

	return nil
}

// Validate validates collector configuration
func (c *CollectorConfig) Validate() error {
	if c.MessagesPerClient < 1 {
		return fmt.Errorf("messages_per_client must be at least 1, got %d", c.MessagesPerClient)
	}

	if c.PollInterval < 1 {
		return fmt.Errorf("poll_interval must be at least 1 ms, got %d", c.PollInterval)
	}

	if c.WaitTimeout < 0 {
		return fmt.Errorf("wait_timeout cannot be negative, got %d", c.WaitTimeout)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 0 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 0 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path
	return nil
}

// ListenAddr returns the listener address in host:port form
func (s *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.Port)
}

// GetAcceptPollDuration returns the accept poll interval as a time.Duration
func (s *ServerConfig) GetAcceptPollDuration() time.Duration {
	return time.Duration(s.AcceptPoll) * time.Millisecond
}

// Target returns the total message count the coordinator waits for
func (c *Config) Target() int {
	return c.Server.MaxClients * c.Collector.MessagesPerClient
}

// GetPollIntervalDuration returns the coordinator poll interval as a time.Duration
func (c *CollectorConfig) GetPollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// GetWaitTimeoutDuration returns the wait timeout, zero meaning no timeout
func (c *CollectorConfig) GetWaitTimeoutDuration() time.Duration {
	return time.Duration(c.WaitTimeout) * time.Second
}

// ListenAddr returns the HTTP listen address in host:port form
func (h *HTTPConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}
