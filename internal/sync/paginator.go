// Package sync runs hierarchical delta passes: users seed per-user folder
// scopes, folders seed per-folder message scopes, and every scope keeps its
// own continuation token in a checkpoint store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/o365-sync/internal/checkpoint"
	"github.com/tonimelisma/o365-sync/internal/graph"
	"github.com/tonimelisma/o365-sync/internal/sink"
)

// DeltaFetcher fetches one delta page. Implemented by *graph.Client.
type DeltaFetcher interface {
	Delta(ctx context.Context, res graph.Resource, link string) (*graph.DeltaPage, error)
}

// AttachmentLister lists a message's attachments. Implemented by *graph.Client.
type AttachmentLister interface {
	ListAttachments(ctx context.Context, userID, messageID string) ([]graph.Item, error)
}

// Fields holds the $select lists and page size hint per resource family.
// Nil lists fall back to the graph defaults.
type Fields struct {
	Users    []string
	Folders  []string
	Messages []string
	PageSize int
}

// ScopedItem is a page entry together with the scope it was fetched under.
type ScopedItem struct {
	graph.Item
	Scope checkpoint.Scope
}

// Kind maps the scope level to the record kind.
func (si ScopedItem) Kind() sink.Kind {
	switch si.Scope.Type {
	case checkpoint.TypeFolders:
		return sink.KindFolder
	case checkpoint.TypeMessages:
		return sink.KindMessage
	default:
		return sink.KindUser
	}
}

// ChildScope returns the scope this item seeds: a user seeds its folders, a
// folder seeds its messages. Messages and removed items seed nothing.
func (si ScopedItem) ChildScope() (checkpoint.Scope, bool, error) {
	if si.Removed {
		return checkpoint.Scope{}, false, nil
	}

	switch si.Scope.Type {
	case checkpoint.TypeUsers:
		s, err := checkpoint.UserFolders(si.ID)
		return s, err == nil, err
	case checkpoint.TypeFolders:
		s, err := checkpoint.UserFolderMessages(si.Scope.UserID, si.ID)
		return s, err == nil, err
	default:
		return checkpoint.Scope{}, false, nil
	}
}

// Attributes returns the scope-derived metadata attached to the record.
func (si ScopedItem) Attributes() map[string]string {
	attrs := make(map[string]string, 4)

	switch si.Scope.Type {
	case checkpoint.TypeUsers:
		attrs[sink.AttrUserID] = si.ID
	case checkpoint.TypeFolders:
		attrs[sink.AttrUserID] = si.Scope.UserID
		attrs[sink.AttrFolderID] = si.ID
	case checkpoint.TypeMessages:
		attrs[sink.AttrUserID] = si.Scope.UserID
		attrs[sink.AttrFolderID] = si.Scope.FolderID
		attrs[sink.AttrMessageID] = si.ID
	}

	if child, ok, _ := si.ChildScope(); ok {
		attrs[sink.AttrCacheKey] = child.Key()
	}

	if si.Removed {
		attrs[sink.AttrRemoved] = "true"
	}

	return attrs
}

// Paginator drives delta pagination for one scope at a time.
type Paginator struct {
	fetcher DeltaFetcher
	fields  Fields
	logger  *slog.Logger
}

func NewPaginator(fetcher DeltaFetcher, fields Fields, logger *slog.Logger) *Paginator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Paginator{fetcher: fetcher, fields: fields, logger: logger}
}

// Resource maps a scope to its delta collection.
func (p *Paginator) Resource(scope checkpoint.Scope) graph.Resource {
	switch scope.Type {
	case checkpoint.TypeFolders:
		return graph.Resource{
			Path:     graph.FoldersDeltaPath(scope.UserID),
			Select:   orDefault(p.fields.Folders, graph.DefaultFolderFields),
			PageSize: p.fields.PageSize,
		}
	case checkpoint.TypeMessages:
		return graph.Resource{
			Path:     graph.MessagesDeltaPath(scope.UserID, scope.FolderID),
			Select:   orDefault(p.fields.Messages, graph.DefaultMessageFields),
			PageSize: p.fields.PageSize,
		}
	default:
		return graph.Resource{
			Path:     graph.UsersDeltaPath(),
			Select:   orDefault(p.fields.Users, graph.DefaultUserFields),
			PageSize: p.fields.PageSize,
		}
	}
}

// Fetch pages through the scope's delta collection starting at resumeToken
// (empty for a baseline sync), calling yield for every entry in server
// order. It returns the terminal delta link once the collection is
// exhausted. An error from yield stops pagination and is returned as is.
//
// If the resume token has expired (410 Gone) the scope is re-fetched once
// from baseline.
func (p *Paginator) Fetch(ctx context.Context, scope checkpoint.Scope, resumeToken string,
	yield func(ScopedItem) error,
) (string, error) {
	res := p.Resource(scope)
	link := resumeToken
	restarted := false

	for pages := 1; ; pages++ {
		page, err := p.fetcher.Delta(ctx, res, link)
		if err != nil {
			if errors.Is(err, graph.ErrGone) && resumeToken != "" && !restarted {
				p.logger.Warn("delta token expired, restarting from baseline",
					slog.String("scope", scope.Key()),
				)

				restarted = true
				link = ""

				continue
			}

			return "", fmt.Errorf("sync: fetching page %d of %s: %w", pages, scope.Key(), err)
		}

		for i := range page.Items {
			if err := yield(ScopedItem{Item: page.Items[i], Scope: scope}); err != nil {
				return "", err
			}
		}

		if page.NextLink != "" {
			if page.NextLink == link {
				return "", fmt.Errorf("sync: page %d of %s repeats its own nextLink: %w",
					pages, scope.Key(), graph.ErrMalformedPage)
			}

			link = page.NextLink

			continue
		}

		if page.DeltaLink == "" {
			return "", fmt.Errorf("sync: page %d of %s: %w", pages, scope.Key(), graph.ErrMalformedPage)
		}

		p.logger.Debug("delta collection exhausted",
			slog.String("scope", scope.Key()),
			slog.Int("pages", pages),
		)

		return page.DeltaLink, nil
	}
}

func orDefault(fields, def []string) []string {
	if len(fields) == 0 {
		return def
	}

	return fields
}
