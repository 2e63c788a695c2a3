// Package settings loads planesync configuration from planesync.yaml and the
// environment.
package settings

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/planesync/planesync/pkg/engine"
	"github.com/planesync/planesync/pkg/stores"
	"github.com/planesync/planesync/pkg/telemetry"
)

// FileName is the config file name searched for without an explicit path.
const FileName = "planesync.yaml"

// EnvPrefix prefixes every environment variable derived from a key.
const EnvPrefix = "PLANESYNC"

// Settings is the complete planesync configuration.
type Settings struct {
	Plane     PlaneSettings     `mapstructure:"plane" yaml:"plane"`
	Database  DatabaseSettings  `mapstructure:"database" yaml:"database"`
	Engine    EngineSettings    `mapstructure:"engine" yaml:"engine"`
	Policy    PolicySettings    `mapstructure:"policy" yaml:"policy"`
	Telemetry TelemetrySettings `mapstructure:"telemetry" yaml:"telemetry"`
	Server    ServerSettings    `mapstructure:"server" yaml:"server"`

	// ConfigFile is the file the settings were read from, if any.
	ConfigFile string `mapstructure:"-" yaml:"-"`
}

// PlaneSettings configures the Plane API client.
type PlaneSettings struct {
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
	APIKey        string        `mapstructure:"api_key" yaml:"api_key"`
	WorkspaceSlug string        `mapstructure:"workspace_slug" yaml:"workspace_slug"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=1s"`
}

// DatabaseSettings selects and configures the ledger store.
type DatabaseSettings struct {
	// Driver is "sqlite" or "postgres". Empty means postgres when URL is
	// set and sqlite otherwise.
	Driver string `mapstructure:"driver" yaml:"driver" validate:"omitempty,oneof=sqlite postgres"`
	Path   string `mapstructure:"path" yaml:"path" validate:"required_if=Driver sqlite"`
	URL    string `mapstructure:"url" yaml:"url,omitempty" validate:"required_if=Driver postgres"`

	// Host, Port, User, Password and Name assemble URL when it is empty.
	Host     string `mapstructure:"host" yaml:"host,omitempty"`
	Port     int    `mapstructure:"port" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	User     string `mapstructure:"user" yaml:"user,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	Name     string `mapstructure:"name" yaml:"name,omitempty"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode,omitempty"`
}

// EngineSettings tunes batch execution.
type EngineSettings struct {
	ReuseExistingProjects bool          `mapstructure:"reuse_existing_projects" yaml:"reuse_existing_projects"`
	MetadataTTL           time.Duration `mapstructure:"metadata_ttl" yaml:"metadata_ttl" validate:"min=0"`
}

// PolicySettings configures template guardrails.
type PolicySettings struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Paths   []string `mapstructure:"paths" yaml:"paths"`
	Watch   bool     `mapstructure:"watch" yaml:"watch"`
}

// TelemetrySettings configures logging, tracing and metrics.
type TelemetrySettings struct {
	LogLevel         string `mapstructure:"log_level" yaml:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat        string `mapstructure:"log_format" yaml:"log_format" validate:"oneof=console json"`
	TracingExporter  string `mapstructure:"tracing_exporter" yaml:"tracing_exporter" validate:"oneof=none stdout otlp"`
	TracingEndpoint  string `mapstructure:"tracing_endpoint" yaml:"tracing_endpoint,omitempty" validate:"required_if=TracingExporter otlp"`
	MetricsEnabled   bool   `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsNamespace string `mapstructure:"metrics_namespace" yaml:"metrics_namespace"`
}

// ServerSettings configures planesync serve.
type ServerSettings struct {
	Listen string `mapstructure:"listen" yaml:"listen" validate:"required,hostname_port"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		Plane: PlaneSettings{
			BaseURL: "https://api.plane.so/api/v1",
			Timeout: 30 * time.Second,
		},
		Database: DatabaseSettings{
			Path:    filepath.Join("data", "planesync.db"),
			Port:    5432,
			SSLMode: "disable",
		},
		Engine: EngineSettings{
			ReuseExistingProjects: true,
			MetadataTTL:           engine.DefaultMetadataTTL,
		},
		Policy: PolicySettings{
			Enabled: true,
			Paths:   []string{},
		},
		Telemetry: TelemetrySettings{
			LogLevel:         "info",
			LogFormat:        "console",
			TracingExporter:  "none",
			MetricsEnabled:   true,
			MetricsNamespace: "planesync",
		},
		Server: ServerSettings{
			Listen: ":8080",
		},
	}
}

// envBindings lists the environment variables read for each key, in
// precedence order. Every key also answers to its PLANESYNC_ name.
var envBindings = map[string][]string{
	"plane.base_url":                 {"PLANE_API_BASE_URL"},
	"plane.api_key":                  {"PLANE_API_KEY"},
	"plane.workspace_slug":           {"PLANE_WORKSPACE_SLUG"},
	"plane.timeout":                  nil,
	"database.driver":                nil,
	"database.path":                  nil,
	"database.url":                   {"DATABASE_URL"},
	"database.host":                  {"DB_HOST"},
	"database.port":                  {"DB_PORT"},
	"database.user":                  {"DB_USER"},
	"database.password":              {"DB_PASSWORD"},
	"database.name":                  {"DB_NAME"},
	"database.sslmode":               {"DB_SSLMODE"},
	"engine.reuse_existing_projects": nil,
	"engine.metadata_ttl":            nil,
	"policy.enabled":                 nil,
	"policy.paths":                   nil,
	"policy.watch":                   nil,
	"telemetry.log_level":            {"LOG_LEVEL"},
	"telemetry.log_format":           nil,
	"telemetry.tracing_exporter":     nil,
	"telemetry.tracing_endpoint":     nil,
	"telemetry.metrics_enabled":      nil,
	"telemetry.metrics_namespace":    nil,
	"server.listen":                  nil,
}

// envName returns the PLANESYNC_ variable for a key.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// newViper returns a viper instance with defaults and env bindings.
func newViper() *viper.Viper {
	v := viper.New()
	d := Default()

	v.SetDefault("plane.base_url", d.Plane.BaseURL)
	v.SetDefault("plane.api_key", "")
	v.SetDefault("plane.workspace_slug", "")
	v.SetDefault("plane.timeout", d.Plane.Timeout)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("engine.reuse_existing_projects", d.Engine.ReuseExistingProjects)
	v.SetDefault("engine.metadata_ttl", d.Engine.MetadataTTL)
	v.SetDefault("policy.enabled", d.Policy.Enabled)
	v.SetDefault("policy.paths", d.Policy.Paths)
	v.SetDefault("telemetry.log_level", d.Telemetry.LogLevel)
	v.SetDefault("telemetry.log_format", d.Telemetry.LogFormat)
	v.SetDefault("telemetry.tracing_exporter", d.Telemetry.TracingExporter)
	v.SetDefault("telemetry.metrics_enabled", d.Telemetry.MetricsEnabled)
	v.SetDefault("telemetry.metrics_namespace", d.Telemetry.MetricsNamespace)
	v.SetDefault("server.listen", d.Server.Listen)

	for key, extra := range envBindings {
		names := append([]string{envName(key)}, extra...)
		// BindEnv only fails without a key.
		_ = v.BindEnv(append([]string{key}, names...)...)
	}

	return v
}

// Load reads settings from configFile, or from planesync.yaml in the
// working directory or $HOME/.config/planesync when configFile is empty.
// A missing file is not an error unless it was named explicitly.
func Load(configFile string) (*Settings, error) {
	v := newViper()
	v.SetConfigType("yaml")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.AddConfigPath(".")
		if dir := ConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	s.ConfigFile = v.ConfigFileUsed()
	s.normalize()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ConfigDir returns $XDG_CONFIG_HOME/planesync or ~/.config/planesync.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "planesync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "planesync")
}

// normalize fills derived values: the postgres URL from its parts and the
// driver from whichever of path or URL is in use.
func (s *Settings) normalize() {
	db := &s.Database
	if db.URL == "" && db.Host != "" {
		db.URL = db.assembleURL()
	}
	if db.Driver == "" {
		if db.URL != "" {
			db.Driver = stores.DriverPostgres
		} else {
			db.Driver = stores.DriverSQLite
		}
	}
	s.Telemetry.LogLevel = strings.ToLower(s.Telemetry.LogLevel)
	s.Plane.BaseURL = strings.TrimRight(s.Plane.BaseURL, "/")
}

func (d *DatabaseSettings) assembleURL() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, fmt.Sprint(d.Port)),
		Path:   "/" + d.Name,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {d.SSLMode}}.Encode()
	}
	return u.String()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks settings needed by every command.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// ErrMissingAPIKey is returned by RequireRemote without plane.api_key.
var ErrMissingAPIKey = errors.New("plane.api_key is not set (PLANE_API_KEY)")

// RequireRemote checks the settings needed to call the Plane API.
func (s *Settings) RequireRemote() error {
	if s.Plane.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// StoreConfig returns the ledger store configuration.
func (s *Settings) StoreConfig() stores.Config {
	return stores.Config{
		Driver: s.Database.Driver,
		Path:   s.Database.Path,
		URL:    s.Database.URL,
	}
}

// TelemetryConfig returns the telemetry configuration.
func (s *Settings) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = s.Telemetry.LogLevel
	cfg.Logging.Format = s.Telemetry.LogFormat
	cfg.Tracing.Exporter = s.Telemetry.TracingExporter
	cfg.Tracing.Enabled = s.Telemetry.TracingExporter != "none"
	cfg.Tracing.Endpoint = s.Telemetry.TracingEndpoint
	cfg.Metrics.Enabled = s.Telemetry.MetricsEnabled
	cfg.Metrics.Namespace = s.Telemetry.MetricsNamespace
	return cfg
}

// EngineOptions returns executor options without Guard and Telemetry.
func (s *Settings) EngineOptions() engine.Options {
	return engine.Options{
		ReuseExistingProjects: s.Engine.ReuseExistingProjects,
		DefaultWorkspace:      s.Plane.WorkspaceSlug,
	}
}

// Masked returns a copy safe to print: the API key keeps its last four
// characters and passwords are replaced.
func (s *Settings) Masked() *Settings {
	m := *s
	m.Policy.Paths = append([]string(nil), s.Policy.Paths...)
	m.Plane.APIKey = maskSecret(s.Plane.APIKey)
	if m.Database.Password != "" {
		m.Database.Password = "****"
	}
	if m.Database.URL != "" {
		if u, err := url.Parse(m.Database.URL); err == nil {
			m.Database.URL = u.Redacted()
		}
	}
	return &m
}

func maskSecret(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "****"
	default:
		return "****" + secret[len(secret)-4:]
	}
}

// YAML renders the settings as a planesync.yaml document.
func (s *Settings) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}

// WriteFile writes settings to path, refusing to overwrite an existing file.
func (s *Settings) WriteFile(path string) error {
	data, err := s.YAML()
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
