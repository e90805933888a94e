// Package config loads visitvideo configuration from YAML or TOML files and
// the environment, and turns it into per-provider video.ProviderConfig
// values.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/jdgilhuly/visitvideo/pkg/factory"
	"github.com/jdgilhuly/visitvideo/pkg/video"
)

// Environment variables that override file settings.
const (
	EnvDefaultProvider = factory.EnvDefaultProvider
	EnvEnvironment     = "VIDEO_ENVIRONMENT"
	EnvLogLevel        = "VIDEO_LOG_LEVEL"
	EnvMock            = "VIDEO_MOCK_ENABLED"
)

//go:embed schema.json
var schemaJSON []byte

// Config holds the top-level visitvideo configuration.
type Config struct {
	DefaultProvider string                    `yaml:"default_provider" toml:"default_provider"`
	Environment     string                    `yaml:"environment" toml:"environment"`
	LogLevel        string                    `yaml:"log_level" toml:"log_level"`
	RequestTimeout  time.Duration             `yaml:"request_timeout" toml:"request_timeout"`
	Mock            bool                      `yaml:"mock" toml:"mock"`
	FacilityID      string                    `yaml:"facility_id" toml:"facility_id"`
	Concurrency     int                       `yaml:"concurrency" toml:"concurrency"`
	Timeout         time.Duration             `yaml:"timeout" toml:"timeout"`
	OutputDir       string                    `yaml:"output_dir" toml:"output_dir"`
	Security        SecurityConfig            `yaml:"security" toml:"security"`
	Providers       map[string]ProviderConfig `yaml:"providers" toml:"providers"`
}

// ProviderConfig names where one provider's credentials come from.
// Credentials themselves never live in the file.
type ProviderConfig struct {
	APIKeyEnv    string `yaml:"api_key_env" toml:"api_key_env"`
	APISecretEnv string `yaml:"api_secret_env" toml:"api_secret_env"`
	AccountIDEnv string `yaml:"account_id_env" toml:"account_id_env"`
	URL          string `yaml:"url" toml:"url"`
	Region       string `yaml:"region" toml:"region"`
	LogLevel     string `yaml:"log_level" toml:"log_level"`
	Mock         bool   `yaml:"mock" toml:"mock"`
}

// SecurityConfig configures encryption and AI monitoring for every provider.
type SecurityConfig struct {
	EncryptionKeyEnv string           `yaml:"encryption_key_env" toml:"encryption_key_env"`
	Monitoring       MonitoringConfig `yaml:"monitoring" toml:"monitoring"`
}

// MonitoringConfig names the AI monitoring service.
type MonitoringConfig struct {
	AIProvider  string `yaml:"ai_provider" toml:"ai_provider"`
	AIAPIKeyEnv string `yaml:"ai_api_key_env" toml:"ai_api_key_env"`
}

// envDefaults are the variable names used when a provider entry leaves
// them unset.
var envDefaults = map[factory.Kind]ProviderConfig{
	factory.KindTwilio: {
		APIKeyEnv:    "TWILIO_API_KEY",
		APISecretEnv: "TWILIO_API_SECRET",
		AccountIDEnv: "TWILIO_ACCOUNT_SID",
	},
	factory.KindDaily:      {APIKeyEnv: "DAILY_API_KEY"},
	factory.KindGoogleMeet: {APIKeyEnv: "GOOGLE_MEET_API_KEY"},
	factory.KindLiveKit: {
		APIKeyEnv:    "LIVEKIT_API_KEY",
		APISecretEnv: "LIVEKIT_API_SECRET",
	},
}

// urlEnv lists providers whose server URL may come from the environment.
var urlEnv = map[factory.Kind]string{
	factory.KindLiveKit: "LIVEKIT_URL",
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		DefaultProvider: string(factory.DefaultKind),
		Environment:     video.EnvDevelopment,
		LogLevel:        "info",
		RequestTimeout:  30 * time.Second,
		Concurrency:     4,
		Timeout:         2 * time.Minute,
		OutputDir:       "results/",
		Providers:       make(map[string]ProviderConfig),
	}
}

// Load reads a config file. Files ending in .toml are parsed as TOML,
// anything else as YAML. The document is checked against the embedded
// JSON schema before it is decoded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	isTOML := strings.EqualFold(filepath.Ext(path), ".toml")
	var doc any
	if isTOML {
		var m map[string]any
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		doc = m
	} else if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if doc != nil {
		if err := checkSchema(doc); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	cfg := Default()
	if isTOML {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	return cfg, nil
}

// LoadOrDefault loads config from the given path. If the file does not exist,
// it returns the default configuration. Other errors (e.g. parse failures)
// are still returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// checkSchema validates a decoded document against schema.json. The
// document is re-read as JSON so YAML and TOML number and time types reach
// the validator in JSON form.
func checkSchema(doc any) error {
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("invalid embedded schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("config.schema.json", schemaDoc); err != nil {
		return fmt.Errorf("invalid embedded schema: %w", err)
	}
	sch, err := c.Compile("config.schema.json")
	if err != nil {
		return fmt.Errorf("compiling embedded schema: %w", err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("re-encoding config: %w", err)
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("re-reading config: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("does not match schema: %w", err)
	}
	return nil
}

// ApplyEnv overrides file settings from VIDEO_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvDefaultProvider); v != "" {
		c.DefaultProvider = v
	}
	if v := os.Getenv(EnvEnvironment); v != "" {
		c.Environment = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvMock); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMock, err)
		}
		c.Mock = b
	}
	return nil
}

// Validate checks the config for required fields and returns a descriptive
// error if any are missing or invalid.
func (c *Config) Validate() error {
	var errs []error

	if c.DefaultProvider != "" {
		if _, err := factory.ParseKind(c.DefaultProvider); err != nil {
			errs = append(errs, fmt.Errorf("default_provider: %w", err))
		}
	}
	if c.Environment != video.EnvDevelopment && c.Environment != video.EnvProduction {
		errs = append(errs, fmt.Errorf("environment must be %q or %q, got %q", video.EnvDevelopment, video.EnvProduction, c.Environment))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be >= 0, got %s", c.RequestTimeout))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be > 0, got %s", c.Timeout))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir must not be empty"))
	}

	for name, p := range c.Providers {
		if _, err := factory.ParseKind(name); err != nil {
			errs = append(errs, fmt.Errorf("providers.%s: %w", name, err))
		}
		if p.LogLevel != "" {
			if _, err := logrus.ParseLevel(p.LogLevel); err != nil {
				errs = append(errs, fmt.Errorf("providers.%s.log_level: %w", name, err))
			}
		}
	}

	return errors.Join(errs...)
}

// MockEnvVar returns the per-provider mock switch, e.g.
// GOOGLE_MEET_MOCK_ENABLED.
func MockEnvVar(k factory.Kind) string {
	return strings.ToUpper(strings.ReplaceAll(string(k), "-", "_")) + "_MOCK_ENABLED"
}

// ProviderConfig builds the adapter configuration for the named provider,
// reading credentials from the environment. Unset variables leave the
// credential empty so the adapter can fall back to mock mode.
func (c *Config) ProviderConfig(name string) (video.ProviderConfig, error) {
	k, err := factory.ParseKind(name)
	if err != nil {
		return video.ProviderConfig{}, err
	}
	p := c.providerEntry(k)

	out := video.ProviderConfig{
		APIKey:         getenv(p.APIKeyEnv),
		APISecret:      getenv(p.APISecretEnv),
		AccountID:      getenv(p.AccountIDEnv),
		BaseURL:        p.URL,
		Region:         p.Region,
		Environment:    c.Environment,
		LogLevel:       p.LogLevel,
		FacilityID:     c.FacilityID,
		Mock:           c.Mock || p.Mock,
		RequestTimeout: c.RequestTimeout,
	}
	if env, ok := urlEnv[k]; ok {
		if v := os.Getenv(env); v != "" {
			out.BaseURL = v
		}
	}
	if v := os.Getenv(MockEnvVar(k)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return video.ProviderConfig{}, fmt.Errorf("%s: %w", MockEnvVar(k), err)
		}
		out.Mock = out.Mock || b
	}
	if sec := c.securityConfig(); sec != nil {
		out.Security = sec
	}
	return out, nil
}

// providerEntry returns the file entry for k with unset env names filled
// from envDefaults. Entries may be keyed by any spelling ParseKind accepts.
func (c *Config) providerEntry(k factory.Kind) ProviderConfig {
	var p ProviderConfig
	for name, entry := range c.Providers {
		if parsed, err := factory.ParseKind(name); err == nil && parsed == k {
			p = entry
			break
		}
	}
	def := envDefaults[k]
	if p.APIKeyEnv == "" {
		p.APIKeyEnv = def.APIKeyEnv
	}
	if p.APISecretEnv == "" {
		p.APISecretEnv = def.APISecretEnv
	}
	if p.AccountIDEnv == "" {
		p.AccountIDEnv = def.AccountIDEnv
	}
	return p
}

func (c *Config) securityConfig() *video.SecurityConfig {
	s := c.Security
	if s.EncryptionKeyEnv == "" && s.Monitoring.AIProvider == "" {
		return nil
	}
	out := &video.SecurityConfig{EncryptionKey: getenv(s.EncryptionKeyEnv)}
	if s.Monitoring.AIProvider != "" {
		out.Monitoring = &video.MonitoringConfig{
			AIProvider: s.Monitoring.AIProvider,
			AIAPIKey:   getenv(s.Monitoring.AIAPIKeyEnv),
		}
	}
	return out
}

func getenv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
