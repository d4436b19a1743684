package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/remiblancher/qtsa/internal/api/router"
	"github.com/remiblancher/qtsa/internal/api/server"
	"github.com/remiblancher/qtsa/internal/api/service"
	"github.com/remiblancher/qtsa/internal/config"
	"github.com/remiblancher/qtsa/internal/signer"
	"github.com/remiblancher/qtsa/internal/tsa"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the RFC 3161 HTTP time-stamp responder",
	Long: `Start the RFC 3161 HTTP time-stamp responder.

Settings come from, in order of precedence: command-line flags, QTSA_*
environment variables, the --config YAML file and built-in defaults.
Without a signer certificate and key the built-in identity is used.

Environment variables:
  QTSA_SERVER_LISTEN            Listen address
  QTSA_SERVER_BODY_BUFFER_SIZE  Largest accepted request body in bytes
  QTSA_SERVER_MAX_CONNECTIONS   Concurrent connection cap (0: unlimited)
  QTSA_SERVER_TLS_CERT          TLS certificate file
  QTSA_SERVER_TLS_KEY           TLS private key file
  QTSA_SIGNER_CERTIFICATE       Signing certificate (PEM)
  QTSA_SIGNER_KEY               Signing key (PEM)
  QTSA_SIGNER_CHAIN             Chain certificates (PEM)
  QTSA_LOG_LEVEL                Log level
  QTSA_LOG_FORMAT               Log format (text, json)

Examples:
  # Built-in identity on the default port
  qtsa serve

  # Own identity and TLS
  qtsa serve --cert tsa.crt --key tsa.key --chain root.crt \
    --tls-cert server.crt --tls-key server.key

  # From a config file, JSON logs
  qtsa serve --config /etc/qtsa/qtsa.yaml --log-format json`,
	RunE: runServe,
}

// serveFlags maps each serve flag to its configuration key.
var serveFlags = map[string]string{
	"listen":           config.KeyListen,
	"body-buffer-size": config.KeyBodyBufferSize,
	"max-connections":  config.KeyMaxConnections,
	"read-timeout":     config.KeyReadTimeout,
	"write-timeout":    config.KeyWriteTimeout,
	"idle-timeout":     config.KeyIdleTimeout,
	"shutdown-timeout": config.KeyShutdownTimeout,
	"tls-cert":         config.KeyTLSCert,
	"tls-key":          config.KeyTLSKey,
	"cert":             config.KeySignerCert,
	"key":              config.KeySignerKey,
	"chain":            config.KeySignerChain,
	"passphrase-env":   config.KeyPassphraseEnv,
	"log-level":        config.KeyLogLevel,
	"log-format":       config.KeyLogFormat,
}

func init() {
	def := config.Default()
	f := serveCmd.Flags()
	f.StringVar(&serveConfigPath, "config", "", "YAML configuration file")
	addServeFlags(f, def)
}

// addServeFlags registers the serve flags with defaults taken from def.
func addServeFlags(f *pflag.FlagSet, def *config.Config) {
	f.String("listen", def.Server.Listen, "Listen address (host:port)")
	f.Int64("body-buffer-size", def.Server.BodyBufferSize, "Largest accepted request body in bytes")
	f.Int("max-connections", def.Server.MaxConnections, "Concurrent connection cap (0: unlimited)")
	f.Duration("read-timeout", def.Server.ReadTimeout, "HTTP read timeout")
	f.Duration("write-timeout", def.Server.WriteTimeout, "HTTP write timeout")
	f.Duration("idle-timeout", def.Server.IdleTimeout, "HTTP keep-alive idle timeout")
	f.Duration("shutdown-timeout", def.Server.ShutdownTimeout, "Graceful shutdown timeout")
	f.String("tls-cert", "", "TLS certificate for HTTPS")
	f.String("tls-key", "", "TLS private key for HTTPS")
	f.String("cert", "", "TSA signing certificate (PEM)")
	f.String("key", "", "TSA signing key (PEM)")
	f.String("chain", "", "Certificates added to tokens after the signer (PEM)")
	f.String("passphrase-env", "", "Environment variable holding the key passphrase")
	f.String("log-level", def.Log.Level, "Log level (debug, info, warn, error)")
	f.String("log-format", def.Log.Format, "Log format (text, json)")
}

// loadServeConfig assembles the configuration from the file at path (if any),
// the environment and the changed flags in f.
func loadServeConfig(path string, f *pflag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	v := config.NewViper()
	if err := bindServeFlags(v, f); err != nil {
		return nil, err
	}
	config.ApplyOverrides(cfg, v)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindServeFlags(v *viper.Viper, f *pflag.FlagSet) error {
	for name, key := range serveFlags {
		flag := f.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

// newResponder loads the identity and wires the HTTP stack for cfg.
func newResponder(cfg *config.Config, log *logrus.Logger) (*server.Server, error) {
	idCfg, err := cfg.Signer.Identity()
	if err != nil {
		return nil, err
	}
	id, err := signer.Load(idCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing identity: %w", err)
	}

	cert := id.Certificate()
	entry := log.WithFields(logrus.Fields{
		"subject":   cert.Subject.String(),
		"serial":    cert.SerialNumber.String(),
		"algorithm": id.Algorithm(),
		"not_after": cert.NotAfter,
		"chain":     len(id.Chain()),
	})
	if cfg.Signer.Certificate == "" {
		entry = entry.WithField("source", "built-in")
	}
	entry.Info("signing identity loaded")
	if !id.HasTimeStampingEKU() {
		log.WithField("subject", cert.Subject.String()).Warn("signing certificate lacks the timeStamping extended key usage")
	}

	builder, err := tsa.NewBuilder(tsa.BuilderConfig{Identity: id})
	if err != nil {
		return nil, err
	}

	handler := router.New(&router.Config{
		Service:        service.NewTSAService(builder, version, log),
		BodyBufferSize: cfg.Server.BodyBufferSize,
		Log:            log,
	})
	return server.New(cfg.Server, handler, version, log), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(serveConfigPath, cmd.Flags())
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetOutput(cmd.ErrOrStderr())
	if err := cfg.Log.Configure(log); err != nil {
		return err
	}

	srv, err := newResponder(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
