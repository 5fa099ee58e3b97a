package config

import (
	"fmt"
	"time"

	"github.com/tonimelisma/o365-sync/internal/checkpoint"
)

// Filters builds one filter per scope type, in users, folders, messages
// order, so a single round of passes reaches newly seeded keys.
func (s SyncConfig) Filters() ([]checkpoint.Filter, error) {
	patterns := []struct {
		t       checkpoint.ScopeType
		field   string
		pattern string
	}{
		{checkpoint.TypeUsers, "users_filter", s.UsersFilter},
		{checkpoint.TypeFolders, "folders_filter", s.FoldersFilter},
		{checkpoint.TypeMessages, "messages_filter", s.MessagesFilter},
	}

	filters := make([]checkpoint.Filter, 0, len(patterns))

	for _, p := range patterns {
		f, err := checkpoint.NewFilter(p.t, p.pattern)
		if err != nil {
			return nil, fmt.Errorf("sync.%s: %w", p.field, err)
		}

		filters = append(filters, f)
	}

	return filters, nil
}

// Filter returns the filter for one scope type.
func (s SyncConfig) Filter(t checkpoint.ScopeType) (checkpoint.Filter, error) {
	filters, err := s.Filters()
	if err != nil {
		return checkpoint.Filter{}, err
	}

	for _, f := range filters {
		if f.Type == t {
			return f, nil
		}
	}

	return checkpoint.Filter{}, fmt.Errorf("config: no filter for scope type %s", t)
}

// Interval returns the parsed poll interval. Validate has already rejected
// malformed values, so parse errors yield zero.
func (s SyncConfig) Interval() time.Duration {
	d, _ := time.ParseDuration(s.PollInterval)

	return d
}

// Timeout returns the parsed NATS publish timeout.
func (s SinkConfig) Timeout() time.Duration {
	d, _ := time.ParseDuration(s.PublishTimeout)

	return d
}

// Timeouts returns the parsed connect and data timeouts.
func (n NetworkConfig) Timeouts() (connect, data time.Duration) {
	connect, _ = time.ParseDuration(n.ConnectTimeout)
	data, _ = time.ParseDuration(n.DataTimeout)

	return connect, data
}
