package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// listenerSpec is one entry of the config file's "listeners" list.
type listenerSpec struct {
	Name          string   `mapstructure:"name" validate:"required"`
	Addr          string   `mapstructure:"addr" validate:"required"`
	Mode          string   `mapstructure:"mode" validate:"required,oneof=http_only grpc_only mixed"`
	CertFile      string   `mapstructure:"cert_file"`
	KeyFile       string   `mapstructure:"key_file"`
	MTLSCAFile    string   `mapstructure:"mtls_ca_file"`
	MTLSWhitelist []string `mapstructure:"mtls_whitelist"`
}

// config is the fully resolved, validated configuration rengine serves from:
// defaults, overlaid by an optional config file, overlaid by RENGINE_*
// environment variables, overlaid by CLI flags — the same three-layer
// precedence the teacher's viper usage follows elsewhere in the pack.
type config struct {
	Listeners        []listenerSpec `mapstructure:"listeners" validate:"required,min=1,dive"`
	MaxConnections   int64          `mapstructure:"max_connections"`
	HandshakeTimeout time.Duration  `mapstructure:"handshake_timeout"`
	ShutdownGrace    time.Duration  `mapstructure:"shutdown_grace"`
	LogLevel         string         `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	DevTLS           bool           `mapstructure:"dev_tls"`
}

var validate = validator.New()

func loadConfig(configFile string, overrides *serveOptions) (*config, error) {
	v := viper.New()
	v.SetEnvPrefix("rengine")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("max_connections", 10_000)
	v.SetDefault("handshake_timeout", 10*time.Second)
	v.SetDefault("shutdown_grace", 30*time.Second)
	v.SetDefault("log_level", "info")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", configFile, err)
		}
	}

	if overrides.addr != "" {
		v.Set("listeners", []map[string]any{{
			"name": "default",
			"addr": overrides.addr,
			"mode": overrides.mode,
		}})
	}
	if overrides.logLevel != "" {
		v.Set("log_level", overrides.logLevel)
	}
	if overrides.devTLS {
		v.Set("dev_tls", true)
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
