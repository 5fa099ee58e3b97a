// Package sink delivers synced items and per-key failures downstream.
package sink

import (
	"context"
	"encoding/json"
	"time"
)

// Kind is the resource family of an emitted record.
type Kind string

const (
	KindUser       Kind = "user"
	KindFolder     Kind = "folder"
	KindMessage    Kind = "message"
	KindAttachment Kind = "attachment"
)

// Attribute names attached to records alongside the raw payload.
const (
	AttrUserID    = "office365_user_id"
	AttrFolderID  = "office365_folder_id"
	AttrMessageID = "office365_message_id"
	AttrCacheKey  = "office365_cache_key"
	AttrRemoved   = "office365_removed"

	// AttrContentOmitted marks an attachment published without its
	// contentBytes because the full entry exceeded the transport limit.
	AttrContentOmitted = "office365_content_omitted"

	AttrError      = "Office365.Error"
	AttrStackTrace = "Office365.StackTrace"
)

// Record is one discovered or changed item. Payload is the entry exactly as
// Graph returned it.
type Record struct {
	Kind       Kind              `json:"kind"`
	ID         string            `json:"id"`
	ScopeKey   string            `json:"scope_key"`
	RunID      string            `json:"run_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Payload    json.RawMessage   `json:"payload"`
}

// Failure reports a scope key whose pass failed.
type Failure struct {
	ScopeKey string    `json:"scope_key"`
	Error    string    `json:"error"`
	Trace    string    `json:"trace"`
	RunID    string    `json:"run_id,omitempty"`
	At       time.Time `json:"at"`
}

// Attributes returns the failure as record attributes.
func (f Failure) Attributes() map[string]string {
	return map[string]string{
		AttrCacheKey:   f.ScopeKey,
		AttrError:      f.Error,
		AttrStackTrace: f.Trace,
	}
}

// Sink receives records and failures. Implementations must be safe for
// concurrent use.
type Sink interface {
	Emit(ctx context.Context, rec Record) error
	Fail(ctx context.Context, f Failure) error
	Close() error
}
