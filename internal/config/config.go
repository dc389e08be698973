package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/systmms/rotator/internal/awsclient"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/internal/schema"
	"github.com/systmms/rotator/pkg/rotation"
	"gopkg.in/yaml.v3"
)

// Store types.
const (
	StoreSecretsManager = "aws.secretsmanager"
	StoreMemory         = "memory"
)

// Target types.
const (
	TargetSQL = "sql"
	TargetLog = "log"
)

// Config holds the runtime configuration
type Config struct {
	Path     string
	Logger   *logging.Logger
	Settings *Settings

	// Debug and NoColor carry the global CLI flags. Debug wins over the
	// log settings of the file.
	Debug   bool
	NoColor bool

	// Getenv reads environment overrides. Defaults to os.Getenv.
	Getenv func(string) string
}

// Settings is the rotator.yaml structure
type Settings struct {
	Version  int              `yaml:"version" json:"version,omitempty"`
	AWS      AWSSettings      `yaml:"aws,omitempty" json:"aws"`
	Store    StoreSettings    `yaml:"store,omitempty" json:"store"`
	Password PasswordSettings `yaml:"password,omitempty" json:"password"`
	Target   TargetSettings   `yaml:"target,omitempty" json:"target"`
	Cache    CacheSettings    `yaml:"cache,omitempty" json:"cache"`
	Journal  JournalSettings  `yaml:"journal,omitempty" json:"journal"`
	Server   ServerSettings   `yaml:"server,omitempty" json:"server"`
	Log      LogSettings      `yaml:"log,omitempty" json:"log"`
}

// AWSSettings configures the AWS SDK
type AWSSettings struct {
	Region          string `yaml:"region,omitempty" json:"region,omitempty"`
	Profile         string `yaml:"profile,omitempty" json:"profile,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// StoreSettings selects the secret store
type StoreSettings struct {
	Type      string `yaml:"type,omitempty" json:"type,omitempty"`
	Fixture   string `yaml:"fixture,omitempty" json:"fixture,omitempty"`
	TimeoutMs int    `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

// PasswordSettings configures generated passwords
type PasswordSettings struct {
	Length            int    `yaml:"length,omitempty" json:"length,omitempty"`
	ExcludeCharacters string `yaml:"exclude_characters,omitempty" json:"exclude_characters,omitempty"`
}

// TargetSettings selects and configures the credential target
type TargetSettings struct {
	Type           string `yaml:"type,omitempty" json:"type,omitempty"`
	Engine         string `yaml:"engine,omitempty" json:"engine,omitempty"`
	MasterSecretID string `yaml:"master_secret_id,omitempty" json:"master_secret_id,omitempty"`
	SSLMode        string `yaml:"sslmode,omitempty" json:"sslmode,omitempty"`
	TimeoutMs      int    `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	Reject         bool   `yaml:"reject,omitempty" json:"reject,omitempty"`
}

// CacheSettings configures the read cache used by 'rotator get'
type CacheSettings struct {
	TTL string `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// JournalSettings configures the local step journal
type JournalSettings struct {
	Dir     string `yaml:"dir,omitempty" json:"dir,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// ServerSettings configures 'rotator serve'
type ServerSettings struct {
	Addr    string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Metrics *bool  `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// LogSettings configures the logger
type LogSettings struct {
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	Debug  bool   `yaml:"debug,omitempty" json:"debug,omitempty"`
}

// Defaults returns the settings used when nothing is configured
func Defaults() *Settings {
	return &Settings{
		Version: 1,
		Store:   StoreSettings{Type: StoreSecretsManager},
		Password: PasswordSettings{
			Length:            rotation.DefaultPasswordLength,
			ExcludeCharacters: rotation.DefaultExcludeCharacters,
		},
		Target: TargetSettings{Type: TargetLog},
		Cache:  CacheSettings{TTL: "1h"},
		Server: ServerSettings{Addr: ":8080"},
		Log:    LogSettings{Format: string(logging.FormatText)},
	}
}

// Load reads the configuration file, applies environment overrides and
// validates the result. A missing file is only an error when the path was
// set explicitly; otherwise the defaults are used.
func (c *Config) Load() error {
	settings := Defaults()

	if c.Path != "" {
		data, err := os.ReadFile(c.Path)
		switch {
		case err == nil:
			if err := Parse(data, settings); err != nil {
				return err
			}
		case os.IsNotExist(err):
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create the file or drop --config to run with defaults and ROTATOR_* environment variables",
			}
		default:
			return dserrors.UserError{
				Message:    "Failed to read configuration file",
				Details:    err.Error(),
				Suggestion: "Check file permissions and path",
				Err:        err,
			}
		}
	}

	getenv := c.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := ApplyEnv(settings, getenv); err != nil {
		return err
	}

	if err := settings.Validate(); err != nil {
		return err
	}

	if c.Debug {
		settings.Log.Debug = true
	}
	if c.Logger == nil || settings.Log.Format == string(logging.FormatJSON) || settings.Log.Debug != c.Debug {
		c.Logger = settings.NewLogger(c.NoColor)
	}

	c.Settings = settings
	return nil
}

// Parse decodes a YAML document on top of settings
func Parse(data []byte, settings *Settings) error {
	if err := yaml.Unmarshal(data, settings); err != nil {
		return dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	return nil
}

// Validate checks the settings against the embedded schema and the rules
// the schema cannot express
func (s *Settings) Validate() error {
	if s.Version != 1 {
		return dserrors.ConfigError{
			Field:      "version",
			Value:      s.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 1' at the top of your rotator.yaml file",
		}
	}

	if err := schema.Validate(schema.Config, s); err != nil {
		return dserrors.ConfigError{
			Message:    strings.TrimPrefix(err.Error(), schema.ErrInvalid.Error()+":"),
			Suggestion: "Compare your file with the example in the README",
		}
	}

	if s.Store.Type == StoreMemory && s.Store.Fixture == "" {
		return dserrors.ConfigError{
			Field:      "store.fixture",
			Message:    "the memory store needs a fixture file",
			Suggestion: "Point store.fixture at a YAML fixture describing the secrets",
		}
	}

	if _, err := s.CacheTTL(); err != nil {
		return dserrors.ConfigError{
			Field:      "cache.ttl",
			Value:      s.Cache.TTL,
			Message:    "invalid duration",
			Suggestion: "Use a Go duration such as 30s, 5m or 1h",
		}
	}

	return nil
}

// AWSOptions returns the SDK options derived from the settings
func (s *Settings) AWSOptions() awsclient.Options {
	return awsclient.Options{
		Region:          s.AWS.Region,
		Profile:         s.AWS.Profile,
		Endpoint:        s.AWS.Endpoint,
		AccessKeyID:     s.AWS.AccessKeyID,
		SecretAccessKey: s.AWS.SecretAccessKey,
	}
}

// PasswordPolicy returns the password policy for createSecret
func (s *Settings) PasswordPolicy() rotation.PasswordPolicy {
	return rotation.PasswordPolicy{
		Length:            s.Password.Length,
		ExcludeCharacters: s.Password.ExcludeCharacters,
	}
}

// CacheTTL returns the staleness bound of the read cache
func (s *Settings) CacheTTL() (time.Duration, error) {
	if s.Cache.TTL == "" {
		return 0, nil
	}
	ttl, err := time.ParseDuration(s.Cache.TTL)
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, fmt.Errorf("negative cache ttl %s", ttl)
	}
	return ttl, nil
}

// StoreTimeout bounds each call of a rotation step. Zero means no bound.
func (s *Settings) StoreTimeout() time.Duration {
	return time.Duration(s.Store.TimeoutMs) * time.Millisecond
}

// TargetTimeout bounds each connection attempt against the target
func (s *Settings) TargetTimeout() time.Duration {
	return time.Duration(s.Target.TimeoutMs) * time.Millisecond
}

// JournalEnabled reports whether step outcomes are written to the journal
func (s *Settings) JournalEnabled() bool {
	return s.Journal.Enabled == nil || *s.Journal.Enabled
}

// MetricsEnabled reports whether 'rotator serve' exposes /metrics
func (s *Settings) MetricsEnabled() bool {
	return s.Server.Metrics == nil || *s.Server.Metrics
}

// NewLogger builds the logger described by the log settings
func (s *Settings) NewLogger(noColor bool) *logging.Logger {
	if s.Log.Format == string(logging.FormatJSON) {
		return logging.NewJSON(os.Stderr, s.Log.Debug)
	}
	return logging.New(s.Log.Debug, noColor)
}
