package config

import (
	"path/filepath"
	"slices"

	"github.com/tonimelisma/o365-sync/internal/graph"
)

// Default values for configuration options. These are "layer 0" of the
// override chain and let `o365-sync sync` run with nothing but credentials.
const (
	defaultGrantType        = "client_credentials"
	defaultScope            = "https://graph.microsoft.com/.default"
	defaultTenantIDFile     = "/run/secrets/OFFICE_365_AUTH_TENANT_ID"
	defaultClientIDFile     = "/run/secrets/OFFICE_365_AUTH_CLIENT_ID"
	defaultClientSecretFile = "/run/secrets/OFFICE_365_AUTH_CLIENT_SECRET"
	defaultBaseURL          = "https://graph.microsoft.com/v1.0"
	defaultStoreDriver      = "sqlite"
	defaultStoreFile        = "checkpoints.db"
	defaultSinkType         = "jsonl"
	defaultNATSURL          = "nats://127.0.0.1:4222"
	defaultSubjectPrefix    = "o365"
	defaultStream           = "O365"
	defaultPublishTimeout   = "10s"
	defaultStdStream        = "-"
	defaultConcurrency      = 1
	defaultPollInterval     = "5m"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultConnectTimeout   = "10s"
	defaultDataTimeout      = "60s"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Auth:    defaultAuthConfig(),
		Graph:   defaultGraphConfig(),
		Store:   defaultStoreConfig(),
		Sink:    defaultSinkConfig(),
		Sync:    defaultSyncConfig(),
		Logging: defaultLoggingConfig(),
		Network: defaultNetworkConfig(),
	}
}

func defaultAuthConfig() AuthConfig {
	return AuthConfig{
		TenantIDFile:     defaultTenantIDFile,
		ClientIDFile:     defaultClientIDFile,
		ClientSecretFile: defaultClientSecretFile,
		GrantType:        defaultGrantType,
		Scope:            defaultScope,
	}
}

func defaultGraphConfig() GraphConfig {
	return GraphConfig{
		BaseURL:       defaultBaseURL,
		UserFields:    slices.Clone(graph.DefaultUserFields),
		FolderFields:  slices.Clone(graph.DefaultFolderFields),
		MessageFields: slices.Clone(graph.DefaultMessageFields),
		Attachments:   true,
	}
}

func defaultStoreConfig() StoreConfig {
	cfg := StoreConfig{Driver: defaultStoreDriver}

	if dir := DefaultDataDir(); dir != "" {
		cfg.Path = filepath.Join(dir, defaultStoreFile)
	}

	return cfg
}

func defaultSinkConfig() SinkConfig {
	return SinkConfig{
		Type:           defaultSinkType,
		NATSURL:        defaultNATSURL,
		SubjectPrefix:  defaultSubjectPrefix,
		Stream:         defaultStream,
		PublishTimeout: defaultPublishTimeout,
		Output:         defaultStdStream,
		FailureOutput:  defaultStdStream,
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		Concurrency:  defaultConcurrency,
		PollInterval: defaultPollInterval,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
	}
}
