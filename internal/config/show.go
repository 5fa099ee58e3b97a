package config

import (
	"fmt"
	"io"
	"strings"
)

const redacted = "<redacted>"

// RenderEffective writes the resolved configuration as an annotated summary
// to w, the output of "config show". Secret values are never printed; set
// secrets show as redacted.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.Path)

	renderAuthSection(ew, &r.Auth)
	renderGraphSection(ew, &r.Graph)
	renderStoreSection(ew, &r.Store)
	renderSinkSection(ew, &r.Sink)
	renderSyncSection(ew, &r.Sync)
	renderLoggingSection(ew, &r.Logging)
	renderNetworkSection(ew, &r.Network)

	return ew.err
}

// Redacted returns a copy of cfg with secret values replaced, for JSON
// output. cfg is not modified.
func Redacted(cfg *Config) *Config {
	out := *cfg
	out.Auth.ClientSecret = secret(cfg.Auth.ClientSecret)
	out.Store.DSN = secret(cfg.Store.DSN)

	return &out
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func secret(v string) string {
	if v == "" {
		return ""
	}

	return redacted
}

func renderAuthSection(ew *errWriter, a *AuthConfig) {
	ew.printf("[auth]\n")
	ew.printf("  tenant_id          = %q\n", a.TenantID)
	ew.printf("  client_id          = %q\n", a.ClientID)
	ew.printf("  client_secret      = %q\n", secret(a.ClientSecret))
	ew.printf("  tenant_id_file     = %q\n", a.TenantIDFile)
	ew.printf("  client_id_file     = %q\n", a.ClientIDFile)
	ew.printf("  client_secret_file = %q\n", a.ClientSecretFile)
	ew.printf("  grant_type         = %q\n", a.GrantType)
	ew.printf("  scope              = %q\n", a.Scope)

	if a.TokenURL != "" {
		ew.printf("  token_url          = %q\n", a.TokenURL)
	}

	ew.printf("\n")
}

func renderGraphSection(ew *errWriter, g *GraphConfig) {
	ew.printf("[graph]\n")
	ew.printf("  base_url       = %q\n", g.BaseURL)
	ew.printf("  page_size      = %d\n", g.PageSize)
	ew.printf("  user_fields    = [%s]\n", joinQuoted(g.UserFields))
	ew.printf("  folder_fields  = [%s]\n", joinQuoted(g.FolderFields))
	ew.printf("  message_fields = [%s]\n", joinQuoted(g.MessageFields))
	ew.printf("  attachments    = %t\n", g.Attachments)
	ew.printf("\n")
}

func renderStoreSection(ew *errWriter, s *StoreConfig) {
	ew.printf("[store]\n")
	ew.printf("  driver = %q\n", s.Driver)

	switch s.Driver {
	case "sqlite":
		ew.printf("  path   = %q\n", s.Path)
	case "postgres":
		// The DSN may embed a password.
		ew.printf("  dsn    = %q\n", secret(s.DSN))
	}

	ew.printf("\n")
}

func renderSinkSection(ew *errWriter, s *SinkConfig) {
	ew.printf("[sink]\n")
	ew.printf("  type = %q\n", s.Type)

	if s.Type == "nats" {
		ew.printf("  nats_url        = %q\n", s.NATSURL)
		ew.printf("  subject_prefix  = %q\n", s.SubjectPrefix)
		ew.printf("  stream          = %q\n", s.Stream)
		ew.printf("  publish_timeout = %q\n", s.PublishTimeout)
	} else {
		ew.printf("  output         = %q\n", s.Output)
		ew.printf("  failure_output = %q\n", s.FailureOutput)
	}

	ew.printf("\n")
}

func renderSyncSection(ew *errWriter, s *SyncConfig) {
	ew.printf("[sync]\n")
	ew.printf("  concurrency     = %d\n", s.Concurrency)
	ew.printf("  poll_interval   = %q\n", s.PollInterval)
	ew.printf("  users_filter    = %q\n", s.UsersFilter)
	ew.printf("  folders_filter  = %q\n", s.FoldersFilter)
	ew.printf("  messages_filter = %q\n", s.MessagesFilter)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", l.LogLevel)
	ew.printf("  log_format = %q\n", l.LogFormat)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", n.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", n.DataTimeout)

	if n.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", n.UserAgent)
	}
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
