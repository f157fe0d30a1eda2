// Package config loads server settings from the environment and an
// optional federated providers file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

type Config struct {
	Host        string `env:"HOST" envDefault:"127.0.0.1"`
	Port        string `env:"PORT" envDefault:"8086"`
	DBPath      string `env:"AUTH_DB_PATH" envDefault:"bubblyclouds-auth.db"`
	Verbose     bool   `env:"AUTH_VERBOSE"`
	ServerURL   string `env:"AUTH_SERVER_URL" envDefault:"http://localhost:8086"`
	MountPath   string `env:"AUTH_MOUNT_PATH" envDefault:"/oidc"`
	ProductName string `env:"AUTH_PRODUCT_NAME" envDefault:"Bubbly Clouds"`

	AccountIDPrefix  string        `env:"AUTH_ACCOUNT_ID_PREFIX" envDefault:"bubblyclouds"`
	SignInCodeTTL    time.Duration `env:"AUTH_SIGNIN_CODE_TTL" envDefault:"1h"`
	StoreMaxAttempts int           `env:"AUTH_STORE_MAX_ATTEMPTS" envDefault:"5"`
	SweepInterval    time.Duration `env:"AUTH_SWEEP_INTERVAL" envDefault:"15m"`

	LoginRatePerMinute int    `env:"AUTH_LOGIN_RATE_PER_MINUTE" envDefault:"10"`
	AdminAPIKey        string `env:"AUTH_ADMIN_API_KEY"`
	ProvidersFile      string `env:"AUTH_PROVIDERS_FILE"`

	Google  GoogleEnv  `envPrefix:"AUTH_GOOGLE_"`
	Apple   AppleEnv   `envPrefix:"AUTH_APPLE_"`
	Mail    MailEnv    `envPrefix:"AUTH_MAIL_"`
	Secrets SecretsEnv `envPrefix:"AUTH_SECRETS_"`

	// AWSSessionToken authenticates calls to the secrets extension.
	AWSSessionToken string `env:"AWS_SESSION_TOKEN"`

	providers []Provider
}

type GoogleEnv struct {
	ClientID  string `env:"CLIENT_ID"`
	IssuerURL string `env:"ISSUER_URL"`
}

type AppleEnv struct {
	ClientID  string `env:"CLIENT_ID"`
	TeamID    string `env:"TEAM_ID"`
	KeyID     string `env:"KEY_ID"`
	KeySecret string `env:"KEY_SECRET"`
	IssuerURL string `env:"ISSUER_URL"`
}

type MailEnv struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	FromName string `env:"FROM_NAME" envDefault:"Bubbly Clouds"`
	FromAddr string `env:"FROM" envDefault:"no-reply@bubblyclouds.com"`
}

type SecretsEnv struct {
	// Source is "env" or "extension".
	Source        string `env:"SOURCE" envDefault:"env"`
	ExtensionPort string `env:"EXTENSION_PORT" envDefault:"2773"`
}

// Load reads the environment, then the providers file.
func Load() (*Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.MountPath = normalizeMountPath(cfg.MountPath)
	cfg.ServerURL = strings.TrimSuffix(cfg.ServerURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	providers, err := LoadProviders(cfg.ProvidersFile, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.providers = providers
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.StoreMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("AUTH_STORE_MAX_ATTEMPTS must be at least 1, got %d", c.StoreMaxAttempts))
	}
	if c.SignInCodeTTL <= 0 {
		errs = append(errs, errors.New("AUTH_SIGNIN_CODE_TTL must be positive"))
	}
	if c.LoginRatePerMinute < 1 {
		errs = append(errs, fmt.Errorf("AUTH_LOGIN_RATE_PER_MINUTE must be at least 1, got %d", c.LoginRatePerMinute))
	}
	if u, err := url.Parse(c.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("AUTH_SERVER_URL must be an absolute URL, got %q", c.ServerURL))
	}
	switch c.Secrets.Source {
	case SecretsFromEnv, SecretsFromExtension:
	default:
		errs = append(errs, fmt.Errorf("AUTH_SECRETS_SOURCE must be %q or %q, got %q", SecretsFromEnv, SecretsFromExtension, c.Secrets.Source))
	}
	return errors.Join(errs...)
}

// Providers are the federated providers resolved by Load.
func (c *Config) Providers() []Provider {
	return c.providers
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// SecureCookies is true when the public URL is https.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.ServerURL, "https://")
}

// CallbackURL is where provider id returns its response.
func (c *Config) CallbackURL(id string) string {
	return c.ServerURL + c.MountPath + "/interaction/callback/" + id
}

func normalizeMountPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimSuffix(p, "/")
}
