package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults: loopback listen, the
// production upstream region, and the standard shared accounts file location.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Upstream: UpstreamConfig{
			Region:           "us-east-1",
			KiroVersion:      "0.9.2",
			SocialRefreshURL: "https://prod.us-east-1.auth.desktop.kiro.dev/refreshToken",
			IDCRefreshURL:    "https://oidc.us-east-1.amazonaws.com/token",
		},
		Pool: PoolConfig{
			Strategy:           "round-robin",
			LoadBalancingMode:  "balanced",
			CompatMode:         "balanced",
			SharedAccountsFile: defaultSharedAccountsFile(),
		},
		Database: DatabaseConfig{
			Path: ExpandHome("~/.kirogate/kirogate.db"),
		},
	}
}

func defaultSharedAccountsFile() string {
	return ExpandHome("~/.kiro-account-manager/accounts.json")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.validate()
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("KIROGATE_API_KEY", &c.Auth.APIKey)
	envStr("KIROGATE_ADMIN_KEY", &c.Auth.AdminKey)
	envStr("KIROGATE_REGION", &c.Upstream.Region)
	envStr("KIROGATE_PROXY_URL", &c.Upstream.ProxyURL)
	envStr("KIROGATE_SHARED_ACCOUNTS_FILE", &c.Pool.SharedAccountsFile)
	envStr("KIROGATE_DB_PATH", &c.Database.Path)

	if v := os.Getenv("KIROGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			c.Server.Port = port
		}
	}

	c.Pool.SharedAccountsFile = ExpandHome(c.Pool.SharedAccountsFile)
	c.Database.Path = ExpandHome(c.Database.Path)
}

func (c *Config) validate() error {
	switch c.Pool.Strategy {
	case "round-robin", "random", "least-used":
	default:
		return fmt.Errorf("unknown pool strategy %q", c.Pool.Strategy)
	}
	switch c.Pool.CompatMode {
	case "strict", "balanced", "relaxed":
	default:
		return fmt.Errorf("unknown compat mode %q", c.Pool.CompatMode)
	}
	switch c.Pool.LoadBalancingMode {
	case "", "priority", "balanced":
	default:
		return fmt.Errorf("unknown load balancing mode %q", c.Pool.LoadBalancingMode)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
