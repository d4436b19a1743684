package config

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. QTSA_SERVER_LISTEN.
const EnvPrefix = "QTSA"

// Keys understood by ApplyOverrides. Flags are bound to the same names.
const (
	KeyListen          = "server.listen"
	KeyBodyBufferSize  = "server.body_buffer_size"
	KeyMaxConnections  = "server.max_connections"
	KeyReadTimeout     = "server.read_timeout"
	KeyWriteTimeout    = "server.write_timeout"
	KeyIdleTimeout     = "server.idle_timeout"
	KeyShutdownTimeout = "server.shutdown_timeout"
	KeyTLSCert         = "server.tls_cert"
	KeyTLSKey          = "server.tls_key"
	KeySignerCert      = "signer.certificate"
	KeySignerKey       = "signer.key"
	KeySignerChain     = "signer.chain"
	KeyPassphraseEnv   = "signer.passphrase_env"
	KeyLogLevel        = "log.level"
	KeyLogFormat       = "log.format"
)

// NewViper returns a viper instance reading QTSA_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverrides copies every key explicitly set in v (a changed flag or an
// environment variable) over cfg. Values only present as flag defaults are
// ignored so that the config file keeps precedence over them.
func ApplyOverrides(cfg *Config, v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	str(KeyListen, &cfg.Server.Listen)
	if v.IsSet(KeyBodyBufferSize) {
		cfg.Server.BodyBufferSize = v.GetInt64(KeyBodyBufferSize)
	}
	if v.IsSet(KeyMaxConnections) {
		cfg.Server.MaxConnections = v.GetInt(KeyMaxConnections)
	}
	if v.IsSet(KeyReadTimeout) {
		cfg.Server.ReadTimeout = v.GetDuration(KeyReadTimeout)
	}
	if v.IsSet(KeyWriteTimeout) {
		cfg.Server.WriteTimeout = v.GetDuration(KeyWriteTimeout)
	}
	if v.IsSet(KeyIdleTimeout) {
		cfg.Server.IdleTimeout = v.GetDuration(KeyIdleTimeout)
	}
	if v.IsSet(KeyShutdownTimeout) {
		cfg.Server.ShutdownTimeout = v.GetDuration(KeyShutdownTimeout)
	}
	str(KeyTLSCert, &cfg.Server.TLSCert)
	str(KeyTLSKey, &cfg.Server.TLSKey)

	str(KeySignerCert, &cfg.Signer.Certificate)
	str(KeySignerKey, &cfg.Signer.Key)
	str(KeySignerChain, &cfg.Signer.Chain)
	str(KeyPassphraseEnv, &cfg.Signer.PassphraseEnv)

	str(KeyLogLevel, &cfg.Log.Level)
	str(KeyLogFormat, &cfg.Log.Format)
}

// Configure applies level and format to l.
func (c LogConfig) Configure(l *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	l.SetLevel(level)
	if c.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
