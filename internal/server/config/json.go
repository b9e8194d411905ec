package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/datasite/connector/internal/flagx"
	"github.com/datasite/connector/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1m" and integer nanoseconds.
//
// This struct is an intermediate DTO (Data Transfer Object) used only for
// reading JSON configuration files. After unmarshalling, its fields are
// copied into the runtime Config struct which uses time.Duration. Pointer
// fields distinguish "absent" from a zero value so that a partial file
// only overrides what it names.
type JsonConfig struct {
	EndpointAddr          *string         `json:"endpoint_addr"`
	DatabasePath          *string         `json:"database_path"`
	KeyPath               *string         `json:"key_path"`
	SecretKey             *string         `json:"secret_key"`
	TokenValidityDuration *timex.Duration `json:"token_validity_duration"`
	RateLimitMaxRequests  *int            `json:"rate_limit_max_requests"`
	RateLimitWindow       *timex.Duration `json:"rate_limit_window"`
	PrivacyEnabled        *bool           `json:"privacy_enabled"`
	PrivacyDefaultEpsilon *float64        `json:"privacy_default_epsilon"`
	PrivacyTotalBudget    *float64        `json:"privacy_total_budget"`
	AuditRetention        *timex.Duration `json:"audit_retention"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The lookup order for the JSON file path is:
//
//	The -c or -config command-line flags.
//	If it is not set, no JSON file is loaded.
//
// If the file path is found, parseJson attempts to read and unmarshal it
// into a JsonConfig. The resulting values are copied into the target Config.
// If the file cannot be read or contains invalid JSON, the function panics.
//
// The caller is expected to merge these values with defaults and
// command-line flags as part of the full configuration process.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	if c.EndpointAddr != nil {
		config.EndpointAddr = *c.EndpointAddr
	}
	if c.DatabasePath != nil {
		config.DatabasePath = *c.DatabasePath
	}
	if c.KeyPath != nil {
		config.KeyPath = *c.KeyPath
	}
	if c.SecretKey != nil {
		config.SecretKey = *c.SecretKey
	}
	if c.TokenValidityDuration != nil {
		config.TokenValidityDuration = time.Duration(c.TokenValidityDuration.Duration)
	}
	if c.RateLimitMaxRequests != nil {
		config.RateLimitMaxRequests = *c.RateLimitMaxRequests
	}
	if c.RateLimitWindow != nil {
		config.RateLimitWindow = time.Duration(c.RateLimitWindow.Duration)
	}
	if c.PrivacyEnabled != nil {
		config.PrivacyEnabled = *c.PrivacyEnabled
	}
	if c.PrivacyDefaultEpsilon != nil {
		config.PrivacyDefaultEpsilon = *c.PrivacyDefaultEpsilon
	}
	if c.PrivacyTotalBudget != nil {
		config.PrivacyTotalBudget = *c.PrivacyTotalBudget
	}
	if c.AuditRetention != nil {
		config.AuditRetention = time.Duration(c.AuditRetention.Duration)
	}
}
