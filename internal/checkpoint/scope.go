// Package checkpoint defines the sync scopes, their persisted key format,
// and the key-value stores that hold one continuation token per scope.
package checkpoint

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Key format. These strings are shared with existing stores and must not
// change.
const (
	UsersKey       = "O365_users_delta"
	FoldersPrefix  = "O365_folders"
	MessagesPrefix = "O365_messages"
	Delimiter      = "|"
)

// ErrMalformedKey is returned for a key that cannot be parsed into a Scope.
var ErrMalformedKey = errors.New("checkpoint: malformed key")

// ErrInvalidIdentifier is returned when an identifier is empty or contains
// the key delimiter.
var ErrInvalidIdentifier = errors.New("checkpoint: invalid identifier")

// ScopeType is the level of the hierarchy a scope targets.
type ScopeType int

const (
	TypeUsers ScopeType = iota
	TypeFolders
	TypeMessages
)

func (t ScopeType) String() string {
	switch t {
	case TypeUsers:
		return "users"
	case TypeFolders:
		return "folders"
	case TypeMessages:
		return "messages"
	default:
		return fmt.Sprintf("ScopeType(%d)", int(t))
	}
}

// ParseScopeType converts a CLI/config name into a ScopeType.
func ParseScopeType(s string) (ScopeType, error) {
	switch s {
	case "users":
		return TypeUsers, nil
	case "folders":
		return TypeFolders, nil
	case "messages":
		return TypeMessages, nil
	default:
		return 0, fmt.Errorf("checkpoint: unknown scope type %q (want users, folders, or messages)", s)
	}
}

// prefix is the literal leading text of every key of this type.
func (t ScopeType) prefix() string {
	switch t {
	case TypeFolders:
		return FoldersPrefix + Delimiter
	case TypeMessages:
		return MessagesPrefix + Delimiter
	default:
		return UsersKey
	}
}

// Scope identifies which part of the tenant a sync targets.
type Scope struct {
	Type     ScopeType
	UserID   string // folders and messages
	FolderID string // messages only
}

// AllUsers returns the singleton directory-wide scope.
func AllUsers() Scope {
	return Scope{Type: TypeUsers}
}

// UserFolders returns the mail-folder scope of one user.
func UserFolders(userID string) (Scope, error) {
	if err := validateID(userID); err != nil {
		return Scope{}, err
	}

	return Scope{Type: TypeFolders, UserID: userID}, nil
}

// UserFolderMessages returns the message scope of one folder.
func UserFolderMessages(userID, folderID string) (Scope, error) {
	if err := validateID(userID); err != nil {
		return Scope{}, err
	}

	if err := validateID(folderID); err != nil {
		return Scope{}, err
	}

	return Scope{Type: TypeMessages, UserID: userID, FolderID: folderID}, nil
}

// Key serializes the scope into its checkpoint key.
func (s Scope) Key() string {
	switch s.Type {
	case TypeFolders:
		return FoldersPrefix + Delimiter + s.UserID
	case TypeMessages:
		return MessagesPrefix + Delimiter + s.UserID + Delimiter + s.FolderID
	default:
		return UsersKey
	}
}

func (s Scope) String() string {
	return s.Key()
}

// ParseKey is the inverse of Scope.Key.
func ParseKey(key string) (Scope, error) {
	if key == UsersKey {
		return AllUsers(), nil
	}

	parts := strings.Split(key, Delimiter)

	switch {
	case parts[0] == FoldersPrefix && len(parts) == 2:
		s, err := UserFolders(parts[1])
		if err != nil {
			return Scope{}, fmt.Errorf("%w %q: %w", ErrMalformedKey, key, err)
		}

		return s, nil
	case parts[0] == MessagesPrefix && len(parts) == 3:
		s, err := UserFolderMessages(parts[1], parts[2])
		if err != nil {
			return Scope{}, fmt.Errorf("%w %q: %w", ErrMalformedKey, key, err)
		}

		return s, nil
	default:
		return Scope{}, fmt.Errorf("%w %q", ErrMalformedKey, key)
	}
}

// KeysForUser returns the keys in keys that belong to userID: its folders
// key and every messages key under it. Malformed keys never match.
func KeysForUser(keys []string, userID string) []string {
	var out []string

	for _, k := range keys {
		s, err := ParseKey(k)
		if err != nil || s.Type == TypeUsers || s.UserID != userID {
			continue
		}

		out = append(out, k)
	}

	return out
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}

	if strings.Contains(id, Delimiter) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidIdentifier, id, Delimiter)
	}

	return nil
}

// Filter selects the checkpoint keys of one scope type, optionally narrowed
// by a regular expression that must match the whole key.
type Filter struct {
	Type    ScopeType
	pattern *regexp.Regexp
}

// NewFilter builds a filter for t. A non-empty pattern must mention the
// type's key prefix (e.g. `O365_folders\|.*`) so it cannot select keys of
// another type.
func NewFilter(t ScopeType, pattern string) (Filter, error) {
	f := Filter{Type: t}

	if pattern == "" {
		return f, nil
	}

	name := strings.TrimSuffix(t.prefix(), Delimiter)
	if !strings.Contains(pattern, name) {
		return Filter{}, fmt.Errorf("checkpoint: %s filter %q must contain %q", t, pattern, name)
	}

	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return Filter{}, fmt.Errorf("checkpoint: compiling %s filter: %w", t, err)
	}

	f.pattern = re

	return f, nil
}

// Match reports whether key belongs to the filter's type and pattern.
// Keys of the right type that fail to parse still match; the caller
// reports them as per-key failures.
func (f Filter) Match(key string) bool {
	if f.Type == TypeUsers {
		if key != UsersKey {
			return false
		}
	} else if !strings.HasPrefix(key, f.Type.prefix()) {
		return false
	}

	if f.pattern != nil {
		return f.pattern.MatchString(key)
	}

	return true
}

// Select returns the keys accepted by f, in input order.
func (f Filter) Select(keys []string) []string {
	var out []string

	for _, k := range keys {
		if f.Match(k) {
			out = append(out, k)
		}
	}

	return out
}
