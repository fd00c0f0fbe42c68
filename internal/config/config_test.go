package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8080 {
		t.Errorf("listen defaults = %s", cfg.Addr())
	}
	if cfg.Upstream.Region != "us-east-1" {
		t.Errorf("region = %q", cfg.Upstream.Region)
	}
	if cfg.Pool.Strategy != "round-robin" || cfg.Pool.CompatMode != "balanced" {
		t.Errorf("pool defaults = %+v", cfg.Pool)
	}
	if !strings.HasSuffix(cfg.Pool.SharedAccountsFile, filepath.Join(".kiro-account-manager", "accounts.json")) {
		t.Errorf("shared file default = %q", cfg.Pool.SharedAccountsFile)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		// comments are allowed
		server: {port: 9090},
		auth: {apiKey: "sk-test"},
		pool: {strategy: "least-used", compatMode: "relaxed", loadBalancingMode: "priority"},
	}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Auth.APIKey != "sk-test" {
		t.Errorf("apiKey = %q", cfg.Auth.APIKey)
	}
	if cfg.Pool.Strategy != "least-used" {
		t.Errorf("strategy = %q", cfg.Pool.Strategy)
	}
	// Unset fields keep their defaults.
	if cfg.Upstream.Region != "us-east-1" {
		t.Errorf("region = %q", cfg.Upstream.Region)
	}
}

func TestLoadRejectsBadEnums(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{pool: {strategy: "fastest"}}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error for unknown strategy")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KIROGATE_API_KEY", "env-key")
	t.Setenv("KIROGATE_PORT", "7070")
	t.Setenv("KIROGATE_REGION", "eu-west-1")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.APIKey != "env-key" {
		t.Errorf("apiKey = %q", cfg.Auth.APIKey)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Upstream.Region != "eu-west-1" {
		t.Errorf("region = %q", cfg.Upstream.Region)
	}
}

func TestEnvOverridesInvalidPortIgnored(t *testing.T) {
	t.Setenv("KIROGATE_PORT", "notaport")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default kept", cfg.Server.Port)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandHome("~/x"); got != filepath.Join(home, "x") {
		t.Errorf("ExpandHome(~/x) = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("absolute path changed: %q", got)
	}
}
