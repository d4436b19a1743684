// Package config holds the responder configuration and its YAML loader.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/remiblancher/qtsa/internal/signer"
)

// DefaultBodyBufferSize is the largest request body held in memory.
const DefaultBodyBufferSize = 16 * 1024

// Config represents the YAML configuration of the responder.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Signer SignerConfig `yaml:"signer"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// Listen is the TCP address to bind, host:port.
	Listen string `yaml:"listen"`

	// BodyBufferSize caps the POST body; larger bodies are refused with 500.
	BodyBufferSize int64 `yaml:"body_buffer_size"`

	// MaxConnections bounds concurrently accepted connections (0: unlimited).
	MaxConnections int `yaml:"max_connections"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS configuration (optional)
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// SignerConfig locates the signing identity. Empty paths select the built-in identity.
type SignerConfig struct {
	Certificate string `yaml:"certificate"`
	Key         string `yaml:"key"`
	Chain       string `yaml:"chain"`

	// PassphraseEnv is the name of the environment variable holding the key passphrase
	PassphraseEnv string `yaml:"passphrase_env"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns a Config with the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8318",
			BodyBufferSize:  DefaultBodyBufferSize,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Server.BodyBufferSize <= 0 {
		return fmt.Errorf("server.body_buffer_size must be positive")
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative")
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must not be negative")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}

	// Certificate and key go together; a chain alone has nothing to attach to.
	if (c.Signer.Certificate == "") != (c.Signer.Key == "") {
		return fmt.Errorf("signer.certificate and signer.key must be set together")
	}
	if c.Signer.Chain != "" && c.Signer.Certificate == "" {
		return fmt.Errorf("signer.chain requires signer.certificate and signer.key")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Passphrase retrieves the key passphrase from the configured environment variable.
func (c *SignerConfig) Passphrase() ([]byte, error) {
	if c.PassphraseEnv == "" {
		return nil, nil
	}
	v, ok := os.LookupEnv(c.PassphraseEnv)
	if !ok || v == "" {
		return nil, fmt.Errorf("environment variable %s is not set or empty", c.PassphraseEnv)
	}
	return []byte(v), nil
}

// Identity converts the signer section to the identity loader configuration.
func (c *SignerConfig) Identity() (signer.Config, error) {
	passphrase, err := c.Passphrase()
	if err != nil {
		return signer.Config{}, err
	}
	return signer.Config{
		Certificate: c.Certificate,
		Key:         c.Key,
		Chain:       c.Chain,
		Passphrase:  passphrase,
	}, nil
}
