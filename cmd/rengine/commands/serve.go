package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ratengine/rengine/engine"
	"github.com/ratengine/rengine/tlsacceptor"
)

// serveOptions holds the CLI flags that can override the config file.
type serveOptions struct {
	configFile string
	addr       string
	mode       string
	logLevel   string
	devTLS     bool
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve [flags]",
		Short: "Run the rengine server",
		Long: `Run the connection acceptor against one or more listeners.

Examples:
  # Run a single HTTP/1.1+HTTP/2 listener on port 8080
  rengine serve --addr :8080 --mode http_only

  # Run from a config file describing several listeners
  rengine serve --config rengine.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listener address, overrides config (e.g. :8080)")
	cmd.Flags().StringVar(&opts.mode, "mode", "http_only", "Listener mode when --addr is set: http_only, grpc_only, mixed")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().BoolVar(&opts.devTLS, "dev-tls", false, "Generate an ephemeral self-signed certificate instead of reading cert/key files")

	return cmd
}

func runServe(opts *serveOptions) error {
	cfg, err := loadConfig(opts.configFile, opts)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	var engineOpts []engine.Option
	engineOpts = append(engineOpts,
		engine.WithLogger(logger),
		engine.WithMaxConnections(cfg.MaxConnections),
		engine.WithHandshakeTimeout(cfg.HandshakeTimeout),
		engine.WithShutdownGrace(cfg.ShutdownGrace),
	)

	for _, spec := range cfg.Listeners {
		lc, err := buildListenerConfig(spec, cfg.DevTLS)
		if err != nil {
			return fmt.Errorf("listener %q: %w", spec.Name, err)
		}
		engineOpts = append(engineOpts, engine.WithListener(lc))
	}

	eng, err := engine.New(engineOpts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	registerHealthCheck(eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- eng.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-runErr:
		if err != nil {
			return fmt.Errorf("engine stopped: %w", err)
		}
		return nil
	case <-quit:
		logger.Info("shutdown signal received")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zapLevel
	return cfg.Build()
}

func buildListenerConfig(spec listenerSpec, devTLS bool) (engine.ListenerConfig, error) {
	lc := engine.ListenerConfig{
		Name:          spec.Name,
		Addr:          spec.Addr,
		MTLSWhitelist: spec.MTLSWhitelist,
	}

	switch spec.Mode {
	case "grpc_only":
		lc.Mode = engine.GRPCOnly
	case "mixed":
		lc.Mode = engine.Mixed
	default:
		lc.Mode = engine.HTTPOnly
	}

	switch {
	case devTLS:
		mgr, err := tlsacceptor.NewDev(spec.Name)
		if err != nil {
			return lc, fmt.Errorf("generate dev cert: %w", err)
		}
		lc.TLS = mgr
	case spec.CertFile != "" && spec.KeyFile != "":
		mgr, err := tlsacceptor.NewShared(spec.CertFile, spec.KeyFile)
		if err != nil {
			return lc, fmt.Errorf("load certificate: %w", err)
		}
		lc.TLS = mgr
	case lc.Mode == engine.GRPCOnly:
		return lc, fmt.Errorf("grpc_only listeners require cert_file/key_file or --dev-tls")
	}

	if spec.MTLSCAFile != "" {
		bundle, err := os.ReadFile(spec.MTLSCAFile)
		if err != nil {
			return lc, fmt.Errorf("read mtls_ca_file: %w", err)
		}
		lc.MTLSCABundle = bundle
	}

	return lc, nil
}
