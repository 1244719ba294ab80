package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultScopes are requested when the config does not override them:
// offline access plus read/write on the ontology object store.
var DefaultScopes = []string{"offline_access", "api:ontologies-read", "api:ontologies-write"}

// Config is the top-level configuration.
type Config struct {
	ListenAddr         string  `toml:"listen_addr"`
	LogLevel           string  `toml:"log_level"`
	InsecureSkipVerify bool    `toml:"insecure_skip_verify"`
	TLSCertPath        string  `toml:"tls_cert_path"`
	TLSKeyPath         string  `toml:"tls_key_path"`
	TLSSelfSigned      bool    `toml:"tls_self_signed"`
	CredentialFile     string  `toml:"credential_file"`
	Foundry            Foundry `toml:"foundry"`
}

// Foundry holds the identity-provider and downstream-API settings.
type Foundry struct {
	URL          string   `toml:"url"`           // base URL, also the downstream API base
	Issuer       string   `toml:"issuer"`        // optional OIDC issuer for endpoint discovery
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"` // usually supplied via FOUNDRY_CLIENT_SECRET
	RedirectURI  string   `toml:"redirect_uri"`
	Scopes       []string `toml:"scopes"`
	PKCE         *bool    `toml:"pkce"` // default: true

	// AllowedEndpointPrefixes restricts which downstream paths the proxy
	// will forward. Empty means any path (the bearer token's own scopes
	// are the only constraint).
	AllowedEndpointPrefixes []string `toml:"allowed_endpoint_prefixes"`
}

// PKCEEnabled returns whether the authorization flow attaches a code
// challenge (default true).
func (f Foundry) PKCEEnabled() bool {
	return f.PKCE == nil || *f.PKCE
}

// AuthorizeURL returns the authorization endpoint derived from the
// Foundry base URL. Ignored when an issuer is configured for discovery.
func (f Foundry) AuthorizeURL() string {
	return f.URL + "/multipass/api/oauth2/authorize"
}

// TokenURL returns the token endpoint derived from the Foundry base URL.
func (f Foundry) TokenURL() string {
	return f.URL + "/multipass/api/oauth2/token"
}

// Load reads the configuration from a TOML file, applies environment
// overrides, and validates it.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr: ":3000",
		LogLevel:   "info",
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg.Foundry)

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":3000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if len(cfg.Foundry.Scopes) == 0 {
		cfg.Foundry.Scopes = DefaultScopes
	}

	if cfg.TLSSelfSigned && (cfg.TLSCertPath != "" || cfg.TLSKeyPath != "") {
		return nil, fmt.Errorf("tls_self_signed and tls_cert_path/tls_key_path are mutually exclusive")
	}
	if (cfg.TLSCertPath != "") != (cfg.TLSKeyPath != "") {
		return nil, fmt.Errorf("both tls_cert_path and tls_key_path must be specified together")
	}

	if err := validateFoundry(cfg.Foundry); err != nil {
		return nil, err
	}
	cfg.Foundry.URL = strings.TrimRight(cfg.Foundry.URL, "/")

	return cfg, nil
}

// applyEnvOverrides lets deployment environments supply values without
// writing them into the config file. The client secret in particular
// should come from the environment, never from a checked-in file.
func applyEnvOverrides(f *Foundry) {
	if v := os.Getenv("FOUNDRY_URL"); v != "" {
		f.URL = v
	}
	if v := os.Getenv("FOUNDRY_CLIENT_ID"); v != "" {
		f.ClientID = v
	}
	if v := os.Getenv("FOUNDRY_CLIENT_SECRET"); v != "" {
		f.ClientSecret = v
	}
	if v := os.Getenv("FOUNDRY_REDIRECT_URI"); v != "" {
		f.RedirectURI = v
	}
}

// validateFoundry rejects missing required values by name. Configuration
// errors are fatal and never silently defaulted.
func validateFoundry(f Foundry) error {
	missing := func(key string) error {
		return fmt.Errorf("foundry configuration error: missing required value %q", key)
	}
	if f.URL == "" {
		return missing("foundry.url")
	}
	if f.ClientID == "" {
		return missing("foundry.client_id")
	}
	if f.ClientSecret == "" {
		return missing("foundry.client_secret")
	}
	if f.RedirectURI == "" {
		return missing("foundry.redirect_uri")
	}

	u, err := url.Parse(f.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("foundry.url %q must be an absolute http(s) URL", f.URL)
	}
	if _, err := url.Parse(f.RedirectURI); err != nil {
		return fmt.Errorf("foundry.redirect_uri %q: %w", f.RedirectURI, err)
	}
	return nil
}

// TLSEnabled returns true if TLS is configured (self-signed or cert files).
func (c *Config) TLSEnabled() bool {
	return c.TLSSelfSigned || (c.TLSCertPath != "" && c.TLSKeyPath != "")
}
