// Package config holds the engine configuration: a JSON5 file overlaid with
// environment variables.
package config

// Config is the root configuration for the kirogate engine.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Auth     AuthConfig     `json:"auth"`
	Upstream UpstreamConfig `json:"upstream"`
	Pool     PoolConfig     `json:"pool"`
	Database DatabaseConfig `json:"database"`
}

// ServerConfig is the local listen address.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// AuthConfig holds the inbound API keys. Both are secrets: the env overrides
// KIROGATE_API_KEY / KIROGATE_ADMIN_KEY take precedence over file values.
type AuthConfig struct {
	APIKey   string `json:"apiKey"`
	AdminKey string `json:"adminApiKey"`
}

// UpstreamConfig describes the code-assistant service and token refresh
// endpoints. The refresh URLs are configuration, not code: social and IDC
// credentials target different services.
type UpstreamConfig struct {
	Region           string `json:"region"`
	KiroVersion      string `json:"kiroVersion"`
	ProxyURL         string `json:"proxyUrl,omitempty"`
	SocialRefreshURL string `json:"socialRefreshUrl,omitempty"`
	IDCRefreshURL    string `json:"idcRefreshUrl,omitempty"`
}

// PoolConfig configures account scheduling. When SharedAccountsFile is set,
// the pool runs in shared mode: the file owns the account set and local
// mutations are rejected.
type PoolConfig struct {
	Strategy           string `json:"strategy"`           // round-robin | random | least-used
	LoadBalancingMode  string `json:"loadBalancingMode"`  // priority | balanced (admin surface alias)
	CompatMode         string `json:"compatMode"`         // strict | balanced | relaxed
	SharedAccountsFile string `json:"sharedAccountsFile,omitempty"`
}

// DatabaseConfig locates the sqlite backing store for model mappings and
// request logs.
type DatabaseConfig struct {
	Path string `json:"path"`
}
