package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
listen_addr = ":8080"
log_level = "debug"

[foundry]
url = "https://example.palantirfoundry.com/"
client_id = "scholar-dashboard"
client_secret = "s3cret"
redirect_uri = "http://localhost:8080/callback"
`

func TestLoadNonExistent(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml")
	if err == nil {
		t.Fatal("Load(nonexistent) should return error")
	}
}

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Foundry.URL != "https://example.palantirfoundry.com" {
		t.Errorf("URL not normalized: %q", cfg.Foundry.URL)
	}
	if got := cfg.Foundry.TokenURL(); got != "https://example.palantirfoundry.com/multipass/api/oauth2/token" {
		t.Errorf("TokenURL = %q", got)
	}
	if got := cfg.Foundry.AuthorizeURL(); got != "https://example.palantirfoundry.com/multipass/api/oauth2/authorize" {
		t.Errorf("AuthorizeURL = %q", got)
	}
	if !cfg.Foundry.PKCEEnabled() {
		t.Error("PKCE should default to enabled")
	}
	if len(cfg.Foundry.Scopes) != 3 || cfg.Foundry.Scopes[0] != "offline_access" {
		t.Errorf("Scopes = %v, want defaults", cfg.Foundry.Scopes)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[foundry]
url = "https://foundry.test"
client_id = "id"
client_secret = "secret"
redirect_uri = "http://localhost:3000/callback"
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":3000" {
		t.Errorf("ListenAddr = %q, want :3000", cfg.ListenAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestMissingRequiredValues(t *testing.T) {
	tests := []struct {
		name    string
		drop    string
		wantKey string
	}{
		{"missing url", "url", "foundry.url"},
		{"missing client_id", "client_id", "foundry.client_id"},
		{"missing client_secret", "client_secret", "foundry.client_secret"},
		{"missing redirect_uri", "redirect_uri", "foundry.redirect_uri"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var lines []string
			for _, line := range strings.Split(validConfig, "\n") {
				if strings.HasPrefix(strings.TrimSpace(line), tt.drop+" ") {
					continue
				}
				lines = append(lines, line)
			}
			_, err := Load(writeConfig(t, strings.Join(lines, "\n")))
			if err == nil {
				t.Fatalf("Load should fail without %s", tt.drop)
			}
			if !strings.Contains(err.Error(), tt.wantKey) {
				t.Errorf("error %q should name %q", err, tt.wantKey)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FOUNDRY_CLIENT_SECRET", "env-secret")
	t.Setenv("FOUNDRY_CLIENT_ID", "env-client")

	cfg, err := Load(writeConfig(t, `
[foundry]
url = "https://foundry.test"
client_id = "file-client"
client_secret = "file-secret"
redirect_uri = "http://localhost:3000/callback"
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Foundry.ClientSecret != "env-secret" {
		t.Errorf("ClientSecret = %q, want env override", cfg.Foundry.ClientSecret)
	}
	if cfg.Foundry.ClientID != "env-client" {
		t.Errorf("ClientID = %q, want env override", cfg.Foundry.ClientID)
	}
}

func TestTLSValidation(t *testing.T) {
	t.Run("self signed with cert paths rejected", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
tls_self_signed = true
tls_cert_path = "/tmp/cert.pem"
tls_key_path = "/tmp/key.pem"
`+validConfig))
		if err == nil {
			t.Error("conflicting TLS settings should be rejected")
		}
	})

	t.Run("cert without key rejected", func(t *testing.T) {
		_, err := Load(writeConfig(t, "tls_cert_path = \"/tmp/cert.pem\"\n"+validConfig))
		if err == nil {
			t.Error("cert path without key path should be rejected")
		}
	})
}

func TestInvalidFoundryURL(t *testing.T) {
	_, err := Load(writeConfig(t, `
[foundry]
url = "not-a-url"
client_id = "id"
client_secret = "secret"
redirect_uri = "http://localhost:3000/callback"
`))
	if err == nil {
		t.Error("relative foundry.url should be rejected")
	}
}
