// Package config provides configuration loading for the shipd daemon
// and CLI.
//
// Configuration is read from an optional YAML file, then overridden by
// SHIPD_-prefixed environment variables, then validated. Defaults are
// applied for anything left unset. Secret-bearing fields use the Secret
// type so they redact themselves in logs and serialized output.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Dispatch modes accepted by DispatchConfig.Mode.
const (
	DispatchLocal    = "local"
	DispatchTemporal = "temporal"
)

// Config holds the complete shipd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Workspace WorkspaceConfig `koanf:"workspace"`
	Registry  RegistryConfig  `koanf:"registry"`
	Docs      DocsConfig      `koanf:"docs"`
	GitHub    GitHubConfig    `koanf:"github"`
	Events    EventsConfig    `koanf:"events"`
	Scan      ScanConfig      `koanf:"scan"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds the webhook daemon's HTTP settings.
type ServerConfig struct {
	ListenAddr      string   `koanf:"listen_addr"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	WebhookSecret   Secret   `koanf:"webhook_secret"`
	// RateLimit is the sustained webhook requests/second allowed per
	// client IP; RateBurst is the token-bucket burst size.
	RateLimit    float64 `koanf:"rate_limit"`
	RateBurst    int     `koanf:"rate_burst"`
	MaxBodyBytes int64   `koanf:"max_body_bytes"`
}

// DispatchConfig selects how accepted webhook events become pipeline
// runs: in-process ("local") or via a Temporal task queue ("temporal").
type DispatchConfig struct {
	Mode              string `koanf:"mode"`
	Workers           int    `koanf:"workers"`
	TemporalHostPort  string `koanf:"temporal_host_port"`
	TemporalNamespace string `koanf:"temporal_namespace"`
	TemporalTaskQueue string `koanf:"temporal_task_queue"`
}

// WorkspaceConfig locates the working checkout pipeline stages run in.
type WorkspaceConfig struct {
	RepoDir      string `koanf:"repo_dir"`
	ManifestFile string `koanf:"manifest_file"`
}

// RegistryConfig holds one IndexConfig per package index. Stable
// releases publish to Stable, prereleases to Test.
type RegistryConfig struct {
	Stable IndexConfig `koanf:"stable"`
	Test   IndexConfig `koanf:"test"`
}

// IndexConfig describes a single OCI package index and how to
// authenticate against it. Either a static Token or a TokenURL plus
// client credentials (trusted publishing) may be set.
type IndexConfig struct {
	Repository   string   `koanf:"repository"`
	PlainHTTP    bool     `koanf:"plain_http"`
	Token        Secret   `koanf:"token"`
	TokenURL     string   `koanf:"token_url"`
	ClientID     string   `koanf:"client_id"`
	ClientSecret Secret   `koanf:"client_secret"`
	Scopes       []string `koanf:"scopes"`
}

// DocsConfig holds the documentation site checkout settings.
type DocsConfig struct {
	RepoPath    string `koanf:"repo_path"`
	PushRemote  string `koanf:"push_remote"`
	AuthorName  string `koanf:"author_name"`
	AuthorEmail string `koanf:"author_email"`
}

// GitHubConfig holds the token used for commit-status reporting.
type GitHubConfig struct {
	Token         Secret `koanf:"token"`
	StatusContext string `koanf:"status_context"`
}

// EventsConfig holds run-event publishing settings. An empty NATSURL
// disables publishing; run records are then kept in memory only.
type EventsConfig struct {
	NATSURL    string `koanf:"nats_url"`
	RunHistory int    `koanf:"run_history"`
}

// ScanConfig holds the pre-publish secret scan settings.
type ScanConfig struct {
	Enabled       bool `koanf:"enabled"`
	MaxFileSizeKB int  `koanf:"max_file_size_kb"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Endpoint    string `koanf:"endpoint"`
	Insecure    bool   `koanf:"insecure"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns a Config populated with defaults. Loaded values are
// unmarshaled on top of it, so absent keys keep their default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8382",
			ShutdownTimeout: Duration(10 * time.Second),
			RateLimit:       1,
			RateBurst:       10,
			MaxBodyBytes:    5 << 20,
		},
		Dispatch: DispatchConfig{
			Mode:              DispatchLocal,
			Workers:           4,
			TemporalHostPort:  "localhost:7233",
			TemporalNamespace: "default",
			TemporalTaskQueue: "shipd-pipeline",
		},
		Workspace: WorkspaceConfig{
			ManifestFile: "ship.toml",
		},
		Docs: DocsConfig{
			AuthorName:  "shipd",
			AuthorEmail: "shipd@users.noreply.github.com",
		},
		GitHub: GitHubConfig{
			StatusContext: "shipd/pipeline",
		},
		Events: EventsConfig{
			RunHistory: 256,
		},
		Scan: ScanConfig{
			Enabled:       true,
			MaxFileSizeKB: 1024,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "shipd",
			Endpoint:    "localhost:4317",
			Insecure:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for values that cannot work.
// Registry repositories are validated where the registry targets are
// constructed; this only covers settings consumed directly here.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
		return fmt.Errorf("invalid server.listen_addr %q: %w", c.Server.ListenAddr, err)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	if c.Server.RateLimit <= 0 {
		return errors.New("server.rate_limit must be positive")
	}
	if c.Server.RateBurst < 1 {
		return errors.New("server.rate_burst must be at least 1")
	}
	if c.Server.MaxBodyBytes < 1 {
		return errors.New("server.max_body_bytes must be positive")
	}

	switch c.Dispatch.Mode {
	case DispatchLocal:
		if c.Dispatch.Workers < 1 {
			return errors.New("dispatch.workers must be at least 1")
		}
	case DispatchTemporal:
		if c.Dispatch.TemporalHostPort == "" {
			return errors.New("dispatch.temporal_host_port is required in temporal mode")
		}
		if c.Dispatch.TemporalTaskQueue == "" {
			return errors.New("dispatch.temporal_task_queue is required in temporal mode")
		}
	default:
		return fmt.Errorf("invalid dispatch.mode %q (must be %q or %q)",
			c.Dispatch.Mode, DispatchLocal, DispatchTemporal)
	}

	if c.Events.RunHistory < 1 {
		return errors.New("events.run_history must be at least 1")
	}
	if c.Scan.Enabled && c.Scan.MaxFileSizeKB < 1 {
		return errors.New("scan.max_file_size_kb must be at least 1")
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("telemetry.service_name is required when telemetry is enabled")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q (must be debug, info, warn, or error)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging.format %q (must be json or console)", c.Logging.Format)
	}

	return nil
}
