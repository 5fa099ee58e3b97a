package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Validation range constants.
const (
	minConcurrency     = 1
	maxConcurrency     = 64
	maxPageSize        = 1000
	minPollInterval    = 30 * time.Second
	minPublishTimeout  = 1 * time.Second
	minConnectTimeout  = 1 * time.Second
	minDataTimeout     = 5 * time.Second
	requiredGraphField = "id"
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateGraph(&cfg.Graph)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateSink(&cfg.Sink)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	if a.GrantType == "" {
		errs = append(errs, errors.New("auth.grant_type: must not be empty"))
	}

	if a.Scope == "" {
		errs = append(errs, errors.New("auth.scope: must not be empty"))
	}

	if a.TokenURL != "" {
		errs = append(errs, validateURL("auth.token_url", a.TokenURL)...)
	}

	return errs
}

func validateGraph(g *GraphConfig) []error {
	var errs []error

	errs = append(errs, validateURL("graph.base_url", g.BaseURL)...)

	if g.PageSize < 0 || g.PageSize > maxPageSize {
		errs = append(errs, fmt.Errorf("graph.page_size: must be between 0 and %d, got %d", maxPageSize, g.PageSize))
	}

	errs = append(errs, validateFields("graph.user_fields", g.UserFields)...)
	errs = append(errs, validateFields("graph.folder_fields", g.FolderFields)...)
	errs = append(errs, validateFields("graph.message_fields", g.MessageFields)...)

	return errs
}

// validateFields requires "id" in every $select list; children are keyed by it.
func validateFields(field string, fields []string) []error {
	if !slices.Contains(fields, requiredGraphField) {
		return []error{fmt.Errorf("%s: must include %q", field, requiredGraphField)}
	}

	return nil
}

func validateURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	if u.Scheme != "https" && u.Scheme != "http" || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, value)}
	}

	return nil
}

func validateStore(s *StoreConfig) []error {
	switch s.Driver {
	case "sqlite":
		if s.Path == "" {
			return []error{errors.New("store.path: required for the sqlite driver")}
		}
	case "postgres":
		if s.DSN == "" {
			return []error{errors.New("store.dsn: required for the postgres driver")}
		}
	case "memory":
	default:
		return []error{fmt.Errorf("store.driver: must be one of sqlite, postgres, memory; got %q", s.Driver)}
	}

	return nil
}

func validateSink(s *SinkConfig) []error {
	var errs []error

	switch s.Type {
	case "nats":
		if s.NATSURL == "" {
			errs = append(errs, errors.New("sink.nats_url: required for the nats sink"))
		}

		if s.SubjectPrefix == "" || strings.ContainsAny(s.SubjectPrefix, " *>") {
			errs = append(errs, fmt.Errorf("sink.subject_prefix: must be a literal subject, got %q", s.SubjectPrefix))
		}

		if s.Stream == "" || strings.ContainsAny(s.Stream, " .*>") {
			errs = append(errs, fmt.Errorf("sink.stream: invalid stream name %q", s.Stream))
		}

		errs = append(errs, validateDurationMin("sink.publish_timeout", s.PublishTimeout, minPublishTimeout)...)
	case "jsonl":
		if s.Output == "" {
			errs = append(errs, errors.New("sink.output: must not be empty"))
		}

		if s.FailureOutput == "" {
			errs = append(errs, errors.New("sink.failure_output: must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("sink.type: must be one of nats, jsonl; got %q", s.Type))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.Concurrency < minConcurrency || s.Concurrency > maxConcurrency {
		errs = append(errs, fmt.Errorf("sync.concurrency: must be between %d and %d, got %d",
			minConcurrency, maxConcurrency, s.Concurrency))
	}

	errs = append(errs, validateDurationMin("sync.poll_interval", s.PollInterval, minPollInterval)...)

	if _, err := s.Filters(); err != nil {
		errs = append(errs, err)
	}

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("network.data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}
