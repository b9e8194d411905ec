// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the connector server.
//
// Fields:
//   - EndpointAddr: bind address for the HTTP tool endpoint.
//   - DatabasePath: path to the SQLite catalog file.
//   - KeyPath: path to the content encryption key file.
//   - SecretKey: HMAC secret for signing access tokens (HS256). Do not use test defaults in prod.
//   - TokenValidityDuration: default lifetime for issued access tokens.
//   - RateLimitMaxRequests / RateLimitWindow: per-subject request budget. Zero max disables limiting.
//   - PrivacyEnabled / PrivacyDefaultEpsilon / PrivacyTotalBudget: differential privacy settings for summaries.
//   - AuditRetention: how long audit entries are kept before pruning.
type Config struct {
	EndpointAddr          string
	DatabasePath          string
	KeyPath               string
	SecretKey             string
	TokenValidityDuration time.Duration
	RateLimitMaxRequests  int
	RateLimitWindow       time.Duration
	PrivacyEnabled        bool
	PrivacyDefaultEpsilon float64
	PrivacyTotalBudget    float64
	AuditRetention        time.Duration
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddr = ":8080"
	c.DatabasePath = "data/vault.db"
	c.KeyPath = "data/content.key"
	c.SecretKey = "secretKey"
	c.TokenValidityDuration = 1 * time.Hour
	c.RateLimitMaxRequests = 100
	c.RateLimitWindow = 1 * time.Minute
	c.PrivacyEnabled = true
	c.PrivacyDefaultEpsilon = 1.0
	c.PrivacyTotalBudget = 100.0
	c.AuditRetention = 30 * 24 * time.Hour
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
