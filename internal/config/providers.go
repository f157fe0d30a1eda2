package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"

	"github.com/jamesacres/bubblyclouds-auth/internal/federated"
	"github.com/jamesacres/bubblyclouds-auth/internal/mailer"
	"github.com/jamesacres/bubblyclouds-auth/internal/secrets"
	"gopkg.in/yaml.v3"
)

const (
	ProviderGoogle = "google"
	ProviderApple  = "apple"

	SecretsFromEnv       = "env"
	SecretsFromExtension = "extension"

	defaultAppleKeySecret = "apple-signin-key"
)

var providerIDRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

type fileConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig is one entry of the providers file.
type ProviderConfig struct {
	ID        string `yaml:"id"`
	Type      string `yaml:"type"`
	Enabled   *bool  `yaml:"enabled"`
	IssuerURL string `yaml:"issuer_url"`
	ClientID  string `yaml:"client_id"`
	TeamID    string `yaml:"team_id"`
	KeyID     string `yaml:"key_id"`
	KeySecret string `yaml:"key_secret"`
}

// Provider is a resolved, enabled federated provider.
type Provider struct {
	ID        string
	Type      string
	IssuerURL string
	ClientID  string
	TeamID    string
	KeyID     string
	KeySecret string
}

// LoadProviders reads path (if set), applies the AUTH_GOOGLE_* and
// AUTH_APPLE_* overrides and drops disabled or incomplete entries.
// Without a file, google and apple are configured from env alone.
func LoadProviders(path string, cfg *Config) ([]Provider, error) {
	entries := defaultProviders()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read providers file %q: %w", path, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse providers file %q: %w", path, err)
		}
		entries = fc.Providers
	}

	seen := make(map[string]bool)
	var providers []Provider
	for _, entry := range entries {
		p, ok := normalizeProvider(entry, cfg)
		if !ok || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		providers = append(providers, p)
	}
	return providers, nil
}

func normalizeProvider(entry ProviderConfig, cfg *Config) (Provider, bool) {
	id := strings.ToLower(strings.TrimSpace(entry.ID))
	if !providerIDRegexp.MatchString(id) {
		log.Printf("[Config] ⚠️ skipping provider with invalid id %q", entry.ID)
		return Provider{}, false
	}
	if entry.Enabled != nil && !*entry.Enabled {
		return Provider{}, false
	}
	typ := strings.ToLower(strings.TrimSpace(entry.Type))
	if typ == "" {
		typ = id
	}

	p := Provider{
		ID:        id,
		Type:      typ,
		IssuerURL: strings.TrimSpace(entry.IssuerURL),
		ClientID:  strings.TrimSpace(entry.ClientID),
		TeamID:    strings.TrimSpace(entry.TeamID),
		KeyID:     strings.TrimSpace(entry.KeyID),
		KeySecret: strings.TrimSpace(entry.KeySecret),
	}

	switch typ {
	case ProviderGoogle:
		override(&p.ClientID, cfg.Google.ClientID)
		override(&p.IssuerURL, cfg.Google.IssuerURL)
		if p.ClientID == "" {
			return Provider{}, false
		}
	case ProviderApple:
		override(&p.ClientID, cfg.Apple.ClientID)
		override(&p.TeamID, cfg.Apple.TeamID)
		override(&p.KeyID, cfg.Apple.KeyID)
		override(&p.KeySecret, cfg.Apple.KeySecret)
		override(&p.IssuerURL, cfg.Apple.IssuerURL)
		if p.KeySecret == "" {
			p.KeySecret = defaultAppleKeySecret
		}
		if p.ClientID == "" || p.TeamID == "" || p.KeyID == "" {
			return Provider{}, false
		}
	default:
		log.Printf("[Config] ⚠️ skipping provider %s with unsupported type %q", id, typ)
		return Provider{}, false
	}
	return p, true
}

func override(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{ID: ProviderGoogle},
		{ID: ProviderApple},
	}
}

// FederatedRegistry registers every resolved provider. Discovery runs on
// first use.
func (c *Config) FederatedRegistry(src secrets.Source) *federated.Registry {
	reg := federated.NewRegistry()
	for _, p := range c.providers {
		switch p.Type {
		case ProviderGoogle:
			reg.Register(p.ID, federated.GoogleFactory(federated.GoogleConfig{
				ClientID:    p.ClientID,
				RedirectURL: c.CallbackURL(p.ID),
				IssuerURL:   p.IssuerURL,
			}))
		case ProviderApple:
			reg.Register(p.ID, federated.AppleFactory(federated.AppleConfig{
				ClientID:    p.ClientID,
				TeamID:      p.TeamID,
				KeyID:       p.KeyID,
				KeySecret:   p.KeySecret,
				RedirectURL: c.CallbackURL(p.ID),
				IssuerURL:   p.IssuerURL,
			}, src))
		}
	}
	return reg
}

// SecretSource returns the configured secret backend.
func (c *Config) SecretSource() secrets.Source {
	if c.Secrets.Source == SecretsFromExtension {
		return secrets.NewExtensionSource(c.Secrets.ExtensionPort, c.AWSSessionToken)
	}
	return secrets.EnvSource{}
}

// MailSender returns an SMTP sender when a mail host is set, otherwise a
// sender that only logs.
func (c *Config) MailSender() mailer.Sender {
	if c.Mail.Host == "" {
		return mailer.LogSender{}
	}
	return mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     c.Mail.Host,
		Port:     c.Mail.Port,
		Username: c.Mail.Username,
		Password: c.Mail.Password,
		FromName: c.Mail.FromName,
		FromAddr: c.Mail.FromAddr,
	})
}
