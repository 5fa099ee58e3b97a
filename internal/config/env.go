package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig       = "O365_SYNC_CONFIG"
	EnvTenantID     = "O365_SYNC_TENANT_ID"
	EnvClientID     = "O365_SYNC_CLIENT_ID"
	EnvClientSecret = "O365_SYNC_CLIENT_SECRET"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string // O365_SYNC_CONFIG: override config file path
	TenantID     string
	ClientID     string
	ClientSecret string
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		TenantID:     os.Getenv(EnvTenantID),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
	}
}

// apply copies the non-empty credential overrides into auth.
func (e EnvOverrides) apply(auth *AuthConfig) {
	if e.TenantID != "" {
		auth.TenantID = e.TenantID
	}

	if e.ClientID != "" {
		auth.ClientID = e.ClientID
	}

	if e.ClientSecret != "" {
		auth.ClientSecret = e.ClientSecret
	}
}
