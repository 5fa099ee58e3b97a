package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys maps each section to the keys it accepts.
var knownKeys = map[string][]string{
	"auth": {
		"tenant_id", "client_id", "client_secret", "tenant_id_file", "client_id_file",
		"client_secret_file", "grant_type", "scope", "token_url",
	},
	"graph": {
		"base_url", "page_size", "user_fields", "folder_fields", "message_fields", "attachments",
	},
	"store": {"driver", "path", "dsn"},
	"sink": {
		"type", "nats_url", "subject_prefix", "stream", "publish_timeout", "output", "failure_output",
	},
	"sync": {
		"concurrency", "poll_interval", "users_filter", "folders_filter", "messages_filter",
	},
	"logging": {"log_level", "log_format"},
	"network": {"connect_timeout", "data_timeout", "user_agent"},
}

// knownSections is the sorted section list, sorted for deterministic
// suggestions when two candidates have the same edit distance.
var knownSections = slices.Sorted(maps.Keys(knownKeys))

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key. An unknown
// section is reported once, not once per key inside it.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		id := key[0]
		if _, ok := knownKeys[id]; ok && len(key) > 1 {
			id += "." + key[1]
		}

		if reported[id] {
			continue
		}

		reported[id] = true

		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key.
func unknownKeyError(key toml.Key) error {
	section := key[0]

	fields, ok := knownKeys[section]
	if !ok {
		if home := sectionOf(section); home != "" && len(key) == 1 {
			return fmt.Errorf("unknown config key %q: it belongs in the [%s] section", section, home)
		}

		if s := closestMatch(section, knownSections); s != "" {
			return fmt.Errorf("unknown config section %q: did you mean %q?", section, s)
		}

		return fmt.Errorf("unknown config section %q", section)
	}

	if len(key) == 1 {
		return fmt.Errorf("config section %q must be a table", section)
	}

	field := key[1]
	if s := closestMatch(field, fields); s != "" {
		return fmt.Errorf("unknown config key %q in [%s]: did you mean %q?", field, section, s)
	}

	return fmt.Errorf("unknown config key %q in [%s]", field, section)
}

// sectionOf returns the section that owns a key name, or "".
func sectionOf(name string) string {
	for _, section := range knownSections {
		if slices.Contains(knownKeys[section], name) {
			return section
		}
	}

	return ""
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
