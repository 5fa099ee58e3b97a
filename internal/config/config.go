// Package config implements TOML configuration loading, validation, and
// credential resolution for o365-sync. Values resolve through four layers:
// defaults -> config file -> environment -> CLI flags. Credentials have one
// more fallback after that: secret files mounted by the container runtime.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Auth    AuthConfig    `toml:"auth"`
	Graph   GraphConfig   `toml:"graph"`
	Store   StoreConfig   `toml:"store"`
	Sink    SinkConfig    `toml:"sink"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// AuthConfig holds the app registration used for the client-credentials
// exchange. Each of tenant, client id, and secret can come from the value
// itself, an environment variable, or a secret file.
type AuthConfig struct {
	TenantID         string `toml:"tenant_id"`
	ClientID         string `toml:"client_id"`
	ClientSecret     string `toml:"client_secret"`
	TenantIDFile     string `toml:"tenant_id_file"`
	ClientIDFile     string `toml:"client_id_file"`
	ClientSecretFile string `toml:"client_secret_file"`
	GrantType        string `toml:"grant_type"`
	Scope            string `toml:"scope"`
	TokenURL         string `toml:"token_url"` // empty = derived from tenant_id
}

// GraphConfig controls which Graph endpoint is read and which fields each
// resource returns.
type GraphConfig struct {
	BaseURL       string   `toml:"base_url"`
	PageSize      int      `toml:"page_size"` // 0 = server default
	UserFields    []string `toml:"user_fields"`
	FolderFields  []string `toml:"folder_fields"`
	MessageFields []string `toml:"message_fields"`
	Attachments   bool     `toml:"attachments"`
}

// StoreConfig selects the checkpoint store backend.
type StoreConfig struct {
	Driver string `toml:"driver"` // sqlite, postgres, or memory
	Path   string `toml:"path"`   // sqlite database file
	DSN    string `toml:"dsn"`    // postgres connection string
}

// SinkConfig selects where records and failures are delivered.
type SinkConfig struct {
	Type           string `toml:"type"` // nats or jsonl
	NATSURL        string `toml:"nats_url"`
	SubjectPrefix  string `toml:"subject_prefix"`
	Stream         string `toml:"stream"`
	PublishTimeout string `toml:"publish_timeout"`
	Output         string `toml:"output"`         // jsonl records; "-" = stdout
	FailureOutput  string `toml:"failure_output"` // jsonl failures; "-" = stderr
}

// SyncConfig controls pass scheduling and which checkpoint keys each scope
// type processes. Filters are regular expressions over whole keys and must
// mention their type's key prefix.
type SyncConfig struct {
	Concurrency    int    `toml:"concurrency"`
	PollInterval   string `toml:"poll_interval"`
	UsersFilter    string `toml:"users_filter"`
	FoldersFilter  string `toml:"folders_filter"`
	MessagesFilter string `toml:"messages_filter"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath  string // --config flag (empty = use default)
	Concurrency *int   // --concurrency flag
	LogLevel    string // derived from --verbose/--quiet
}
