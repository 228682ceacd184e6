package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/telekom/authcoord/pkg/coordinator"
	"github.com/telekom/authcoord/pkg/telemetry"
)

const (
	VersionV1 = "v1"

	StorageKeychain = "keychain"
	StorageFile     = "file"

	DefaultRedirectURI  = "http://127.0.0.1:0/callback"
	DefaultBrokerListen = "127.0.0.1:8787"
)

// DefaultScopes are requested when the config names none.
var DefaultScopes = []string{"openid", "profile", "offline_access"}

type Config struct {
	Version           string            `yaml:"version"`
	Authority         string            `yaml:"authority"`
	ClientID          string            `yaml:"client-id"`
	Scopes            []string          `yaml:"scopes,omitempty"`
	RedirectURI       string            `yaml:"redirect-uri,omitempty"`
	Presentation      string            `yaml:"presentation,omitempty"`
	HidePrivacyPrompt bool              `yaml:"hide-privacy-prompt,omitempty"`
	InteractivePolicy string            `yaml:"interactive-policy,omitempty"`
	TokenStorage      string            `yaml:"token-storage,omitempty"`
	TokenCacheFile    string            `yaml:"token-cache-file,omitempty"`
	CAFile            string            `yaml:"ca-file,omitempty"`
	InsecureSkipTLS   bool              `yaml:"insecure-skip-tls-verify,omitempty"`
	ExtraAuthParams   map[string]string `yaml:"extra-auth-params,omitempty"`
	Broker            Broker            `yaml:"broker,omitempty"`
	Telemetry         Telemetry         `yaml:"telemetry,omitempty"`
	LogLevel          string            `yaml:"log-level,omitempty"`
}

// Broker configures `authctl serve`.
type Broker struct {
	Listen string  `yaml:"listen,omitempty"`
	Rate   float64 `yaml:"rate,omitempty"`
	Burst  int     `yaml:"burst,omitempty"`
}

type Telemetry struct {
	Enabled      bool    `yaml:"enabled,omitempty"`
	Exporter     string  `yaml:"exporter,omitempty"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	Insecure     bool    `yaml:"insecure,omitempty"`
	SamplingRate float64 `yaml:"sampling-rate,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version:           VersionV1,
		Scopes:            append([]string(nil), DefaultScopes...),
		RedirectURI:       DefaultRedirectURI,
		Presentation:      coordinator.PresentationSystemView.String(),
		InteractivePolicy: coordinator.InteractiveFailFast.String(),
		TokenStorage:      StorageKeychain,
		Broker: Broker{
			Listen: DefaultBrokerListen,
			Rate:   5,
			Burst:  10,
		},
		Telemetry: Telemetry{
			Exporter:     telemetry.ExporterNone,
			SamplingRate: 1.0,
		},
		LogLevel: "info",
	}
}

// Load reads path and fills unset fields from DefaultConfig.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	// Scopes from the file replace the defaults rather than extending them.
	cfg.Scopes = nil
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = append([]string(nil), DefaultScopes...)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

// ApplyEnv overrides fields from AUTHCTL_* environment variables.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvTokenStorage)); v != "" {
		c.TokenStorage = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.New("config version missing")
	}
	if c.Version != VersionV1 {
		return fmt.Errorf("unsupported config version %q", c.Version)
	}
	if strings.TrimSpace(c.Authority) == "" {
		return errors.New("authority is required")
	}
	if u, err := url.Parse(c.Authority); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("authority %q is not an absolute URL", c.Authority)
	}
	if _, err := c.CoordinatorConfig(nil); err != nil {
		return err
	}
	switch c.TokenStorage {
	case "", StorageKeychain, StorageFile:
	default:
		return fmt.Errorf("unsupported token-storage %q: supported values are keychain, file", c.TokenStorage)
	}
	if c.Broker.Listen != "" {
		if err := ValidateLoopbackListen(c.Broker.Listen); err != nil {
			return err
		}
	}
	if c.Broker.Rate < 0 || c.Broker.Burst < 0 {
		return errors.New("broker rate and burst must not be negative")
	}
	if !telemetry.ValidExporter(c.Telemetry.Exporter) {
		return fmt.Errorf("unsupported telemetry exporter %q", c.Telemetry.Exporter)
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		return fmt.Errorf("telemetry sampling-rate must be within [0,1], got %v", c.Telemetry.SamplingRate)
	}
	return nil
}

// CoordinatorConfig maps the file settings onto a coordinator.Config and runs
// the coordinator's own validation.
func (c *Config) CoordinatorConfig(window coordinator.ParentWindow) (coordinator.Config, error) {
	presentation, err := coordinator.ParsePresentationMode(c.Presentation)
	if err != nil {
		return coordinator.Config{}, err
	}
	policy, err := coordinator.ParseInteractivePolicy(c.InteractivePolicy)
	if err != nil {
		return coordinator.Config{}, err
	}
	redirect := c.RedirectURI
	if redirect == "" {
		redirect = DefaultRedirectURI
	}
	cfg := coordinator.Config{
		ClientID:          c.ClientID,
		Scopes:            append([]string(nil), c.Scopes...),
		RedirectURI:       redirect,
		Presentation:      presentation,
		ParentWindow:      window,
		SystemView:        coordinator.SystemViewOptions{HidePrivacyPrompt: c.HidePrivacyPrompt},
		InteractivePolicy: policy,
	}
	if err := cfg.Validate(); err != nil {
		return coordinator.Config{}, err
	}
	return cfg, nil
}

// ValidateLoopbackListen rejects listen addresses reachable from other hosts.
func ValidateLoopbackListen(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("listen address %q is not a loopback address", addr)
	}
	return nil
}
