package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"log-level":         "log.level",
	"log-format":        "log.format",
	"db-url":            "database.url",
	"host":              "server.host",
	"http-port":         "server.http_port",
	"grpc-port":         "server.grpc_port",
	"failure-rate":      "server.failure_rate",
	"server-url":        "client.server_url",
	"transport":         "client.transport",
	"grpc-target":       "client.grpc_target",
	"rotation-interval": "client.rotation_interval",
	"rulesets":          "client.rulesets_file",
}

// LoadConfig loads configuration using viper.
// CLI flags > environment (DC_ prefix) > config file > defaults precedence.
// flags may be nil; only flags that exist and were changed take effect.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("DC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			HTTPPort:       v.GetInt("server.http_port"),
			GRPCPort:       v.GetInt("server.grpc_port"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
			FailureRate:    v.GetFloat64("server.failure_rate"),
			AllowedOrigin:  v.GetString("server.allowed_origin"),
		},
		Client: ClientConfig{
			ServerURL:        v.GetString("client.server_url"),
			Transport:        v.GetString("client.transport"),
			GRPCTarget:       v.GetString("client.grpc_target"),
			RotationInterval: v.GetDuration("client.rotation_interval"),
			SubmitTimeout:    v.GetDuration("client.submit_timeout"),
			RuleSetsFile:     v.GetString("client.rulesets_file"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.http_port", d.Server.HTTPPort)
	v.SetDefault("server.grpc_port", d.Server.GRPCPort)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("server.failure_rate", d.Server.FailureRate)
	v.SetDefault("server.allowed_origin", d.Server.AllowedOrigin)
	v.SetDefault("client.server_url", d.Client.ServerURL)
	v.SetDefault("client.transport", d.Client.Transport)
	v.SetDefault("client.grpc_target", d.Client.GRPCTarget)
	v.SetDefault("client.rotation_interval", d.Client.RotationInterval.String())
	v.SetDefault("client.submit_timeout", d.Client.SubmitTimeout.String())
	v.SetDefault("client.rulesets_file", d.Client.RuleSetsFile)
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// validateConfig checks ports, durations, the failure rate and enum values.
func validateConfig(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be between 1 and 65535, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.GRPCPort <= 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port must be between 1 and 65535, got %d", cfg.Server.GRPCPort)
	}
	if cfg.Server.HTTPPort == cfg.Server.GRPCPort {
		return fmt.Errorf("server.http_port and server.grpc_port must differ, both %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Server.FailureRate < 0 || cfg.Server.FailureRate > 1 {
		return fmt.Errorf("server.failure_rate must be between 0 and 1, got %v", cfg.Server.FailureRate)
	}
	if cfg.Client.RotationInterval <= 0 {
		return fmt.Errorf("client.rotation_interval must be positive, got %v", cfg.Client.RotationInterval)
	}
	if cfg.Client.SubmitTimeout <= 0 {
		return fmt.Errorf("client.submit_timeout must be positive, got %v", cfg.Client.SubmitTimeout)
	}
	switch cfg.Client.Transport {
	case TransportHTTP, TransportGRPC:
	default:
		return fmt.Errorf("client.transport must be %q or %q, got %q", TransportHTTP, TransportGRPC, cfg.Client.Transport)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", cfg.Log.Format)
	}
	return nil
}
