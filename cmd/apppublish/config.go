package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/artpar/apppublish/internal/core/crypto"
	"github.com/artpar/apppublish/internal/core/domain"
	"github.com/artpar/apppublish/internal/core/manifest"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Target  string        `mapstructure:"target"` // "local" or "cloud"
	Server  ServerConfig  `mapstructure:"server"`
	Cloud   CloudConfig   `mapstructure:"cloud"`
	Publish PublishConfig `mapstructure:"publish"`
	Session SessionConfig `mapstructure:"session"`
	History HistoryConfig `mapstructure:"history"`
	Log     LogConfig     `mapstructure:"log"`
	WorkDir string        `mapstructure:"work_dir"`
}

// ServerConfig describes the local server instance and how to find it.
type ServerConfig struct {
	Instance          string `mapstructure:"instance"`
	Username          string `mapstructure:"username"`
	Password          string `mapstructure:"password"`
	Provider          string `mapstructure:"provider"` // "docker" or "file"
	File              string `mapstructure:"file"`
	DockerHost        string `mapstructure:"docker_host"`
	UsePublishedPorts bool   `mapstructure:"use_published_ports"`
}

// CloudConfig holds cloud tenant configuration.
type CloudConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	TenantID    string `mapstructure:"tenant_id"`
	Environment string `mapstructure:"environment"`
	AccessToken string `mapstructure:"access_token"`
}

// PublishConfig holds the publish options.
type PublishConfig struct {
	SyncMode                 string `mapstructure:"sync_mode"`
	Scope                    string `mapstructure:"scope"`
	PackageType              string `mapstructure:"package_type"`
	SkipVerification         bool   `mapstructure:"skip_verification"`
	IgnoreIfAppExists        bool   `mapstructure:"ignore_if_app_exists"`
	Sync                     bool   `mapstructure:"sync"`
	Install                  bool   `mapstructure:"install"`
	Upgrade                  bool   `mapstructure:"upgrade"`
	Tenant                   string `mapstructure:"tenant"`
	Language                 string `mapstructure:"language"`
	UseDevEndpoint           bool   `mapstructure:"use_dev_endpoint"`
	Force                    bool   `mapstructure:"force"`
	PublisherAzureADTenantID string `mapstructure:"publisher_azure_ad_tenant_id"`

	// Pre-processing
	ShowMyCode         ShowMyCodeConfig `mapstructure:"show_my_code"`
	InternalsVisibleTo []ModuleConfig   `mapstructure:"internals_visible_to"`
	ReplacementsFile   string           `mapstructure:"replacements_file"`
	ReplacePackageID   bool             `mapstructure:"replace_package_id"`
}

// ShowMyCodeConfig sets or asserts the code visibility flag.
type ShowMyCodeConfig struct {
	Mode  string `mapstructure:"mode"` // "", "set" or "assert"
	Value bool   `mapstructure:"value"`
}

// ModuleConfig names an app granted access to internals.
type ModuleConfig struct {
	ID        string `mapstructure:"id"`
	Name      string `mapstructure:"name"`
	Publisher string `mapstructure:"publisher"`
}

// SessionConfig configures the remote command channel.
type SessionConfig struct {
	Channel      string    `mapstructure:"channel"` // "docker" or "ssh"
	Container    string    `mapstructure:"container"`
	AgentPath    string    `mapstructure:"agent_path"`
	SharedLocal  string    `mapstructure:"shared_local"`
	SharedRemote string    `mapstructure:"shared_remote"`
	SSH          SSHConfig `mapstructure:"ssh"`
}

// SSHConfig holds SSH channel configuration.
type SSHConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	KeyFile        string        `mapstructure:"key_file"`
	HostKey        string        `mapstructure:"host_key"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// HistoryConfig holds publish history configuration.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("target", "local")
	v.SetDefault("work_dir", "")
	v.SetDefault("server.instance", "")
	v.SetDefault("server.username", "")
	v.SetDefault("server.password", "")
	v.SetDefault("server.provider", "docker")
	v.SetDefault("server.file", "")
	v.SetDefault("server.docker_host", "")
	v.SetDefault("server.use_published_ports", false)
	v.SetDefault("cloud.base_url", "https://api.businesscentral.dynamics.com")
	v.SetDefault("cloud.tenant_id", "")
	v.SetDefault("cloud.environment", "")
	v.SetDefault("cloud.access_token", "") // Must be set via environment
	v.SetDefault("publish.sync_mode", "")
	v.SetDefault("publish.scope", "")
	v.SetDefault("publish.package_type", string(domain.PackageTypeExtension))
	v.SetDefault("publish.skip_verification", false)
	v.SetDefault("publish.ignore_if_app_exists", false)
	v.SetDefault("publish.sync", false)
	v.SetDefault("publish.install", false)
	v.SetDefault("publish.upgrade", false)
	v.SetDefault("publish.tenant", domain.DefaultTenant)
	v.SetDefault("publish.language", "")
	v.SetDefault("publish.use_dev_endpoint", false)
	v.SetDefault("publish.force", false)
	v.SetDefault("publish.publisher_azure_ad_tenant_id", "")
	v.SetDefault("publish.show_my_code.mode", "")
	v.SetDefault("publish.show_my_code.value", false)
	v.SetDefault("publish.replacements_file", "")
	v.SetDefault("publish.replace_package_id", false)
	v.SetDefault("session.channel", "docker")
	v.SetDefault("session.container", "") // Defaults to the server instance
	v.SetDefault("session.agent_path", "apppublish-agent")
	v.SetDefault("session.shared_local", "")
	v.SetDefault("session.shared_remote", "")
	v.SetDefault("session.ssh.host", "")
	v.SetDefault("session.ssh.port", 22)
	v.SetDefault("session.ssh.user", "")
	v.SetDefault("session.ssh.key_file", "")
	v.SetDefault("session.ssh.host_key", "")
	v.SetDefault("session.ssh.connect_timeout", "30s")
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.dsn", "./data/apppublish.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("APPPUBLISH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Conversions
// =============================================================================

// BuildTarget returns the publish target described by the config.
func (c *Config) BuildTarget() (domain.Target, error) {
	switch strings.ToLower(c.Target) {
	case "cloud":
		if c.Cloud.AccessToken == "" {
			return domain.Target{}, fmt.Errorf("%w: cloud.access_token is required", domain.ErrUnsupportedTarget)
		}
		return domain.NewCloudTenantTarget(c.Cloud.BaseURL, c.Cloud.TenantID, c.Cloud.Environment,
			staticToken(c.Cloud.AccessToken)), nil
	case "local", "":
		var cred *domain.Credential
		if c.Server.Username != "" {
			password, err := crypto.NewSecret([]byte(c.Server.Password))
			if err != nil {
				return domain.Target{}, fmt.Errorf("seal password: %w", err)
			}
			cred = &domain.Credential{Username: c.Server.Username, Password: password}
		}
		return domain.NewLocalServerTarget(c.Server.Instance, cred), nil
	default:
		return domain.Target{}, fmt.Errorf("%w: unknown target %q", domain.ErrUnsupportedTarget, c.Target)
	}
}

// PublishOptions returns the validated publish options.
func (c *Config) PublishOptions() (domain.PublishOptions, error) {
	p := c.Publish
	opts := domain.PublishOptions{
		SkipVerification:         p.SkipVerification,
		SyncMode:                 domain.SyncMode(p.SyncMode),
		Scope:                    domain.Scope(p.Scope),
		PackageType:              domain.PackageType(p.PackageType),
		IgnoreIfAppExists:        p.IgnoreIfAppExists,
		Sync:                     p.Sync,
		Install:                  p.Install,
		Upgrade:                  p.Upgrade,
		Tenant:                   p.Tenant,
		Language:                 p.Language,
		UseDevEndpoint:           p.UseDevEndpoint,
		Force:                    p.Force,
		PublisherAzureADTenantID: p.PublisherAzureADTenantID,
		Preprocess: domain.Preprocessing{
			ShowMyCode: domain.ShowMyCodeRule{
				Mode:  domain.VisibilityMode(strings.ToLower(p.ShowMyCode.Mode)),
				Value: p.ShowMyCode.Value,
			},
			ReplacePackageID: p.ReplacePackageID,
		},
	}
	for _, m := range p.InternalsVisibleTo {
		opts.Preprocess.InternalsVisibleTo = append(opts.Preprocess.InternalsVisibleTo,
			domain.ModuleRef{ID: m.ID, Name: m.Name, Publisher: m.Publisher})
	}

	if p.ReplacementsFile != "" {
		replacements, err := manifest.LoadReplacements(p.ReplacementsFile)
		if err != nil {
			return domain.PublishOptions{}, err
		}
		opts.Preprocess.ReplaceDependencies = replacements
	}

	opts = opts.Normalize()
	if err := opts.Validate(); err != nil {
		return domain.PublishOptions{}, err
	}
	return opts, nil
}

// staticToken serves a pre-acquired access token. Acquiring tokens is left
// to the caller's tooling.
type staticToken string

func (t staticToken) Renew(context.Context) (string, time.Time, error) {
	return string(t), time.Time{}, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
// Logs go to stderr so command output stays on stdout.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
