// Package config provides configuration for the dualcheck server and client.
package config

import "time"

// Transport names accepted by ClientConfig.Transport.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Config is the full process configuration. Both the server and the form
// client read it; each uses its own section.
type Config struct {
	Server   ServerConfig
	Client   ClientConfig
	Database DatabaseConfig
	Log      LogConfig
}

// ServerConfig configures the authoritative validator service.
type ServerConfig struct {
	Host           string
	HTTPPort       int
	GRPCPort       int
	RequestTimeout time.Duration
	// FailureRate is the probability of an injected transient failure per request.
	FailureRate   float64
	AllowedOrigin string
}

// ClientConfig configures the interactive form client.
type ClientConfig struct {
	ServerURL        string
	Transport        string
	GRPCTarget       string
	RotationInterval time.Duration
	SubmitTimeout    time.Duration
	// RuleSetsFile overrides the embedded rule sets; empty uses the defaults.
	RuleSetsFile string
}

// DatabaseConfig locates the denylist store. Empty URL uses built-in lists.
type DatabaseConfig struct {
	URL string
}

// LogConfig selects log level and encoding.
type LogConfig struct {
	Level  string
	Format string
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			HTTPPort:       8080,
			GRPCPort:       50051,
			RequestTimeout: 30 * time.Second,
			FailureRate:    0.15,
			AllowedOrigin:  "*",
		},
		Client: ClientConfig{
			ServerURL:        "http://localhost:8080",
			Transport:        TransportHTTP,
			GRPCTarget:       "localhost:50051",
			RotationInterval: 30 * time.Second,
			SubmitTimeout:    10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
