package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// deltaResponse mirrors the Graph API delta/list response envelope.
// Values stay raw so payloads reach the sink byte-for-byte.
type deltaResponse struct {
	Value     []json.RawMessage `json:"value"`
	NextLink  string            `json:"@odata.nextLink"`  //nolint:tagliatelle // OData annotation key
	DeltaLink string            `json:"@odata.deltaLink"` //nolint:tagliatelle // OData annotation key
}

// itemHeader is the subset of an entry needed for routing.
type itemHeader struct {
	ID             string          `json:"id"`
	Removed        json.RawMessage `json:"@removed"` //nolint:tagliatelle // OData annotation key
	HasAttachments bool            `json:"hasAttachments"`
}

// UsersDeltaPath is the baseline delta path for directory users.
func UsersDeltaPath() string {
	return "/users/delta"
}

// FoldersDeltaPath is the baseline delta path for a user's mail folders.
func FoldersDeltaPath(userID string) string {
	return fmt.Sprintf("/users/%s/mailFolders/delta", url.PathEscape(userID))
}

// MessagesDeltaPath is the baseline delta path for the messages in one folder.
func MessagesDeltaPath(userID, folderID string) string {
	return fmt.Sprintf("/users/%s/mailFolders/%s/messages/delta",
		url.PathEscape(userID), url.PathEscape(folderID))
}

// Delta fetches one page of a delta collection. Pass an empty link for the
// first page of a baseline sync; otherwise pass the nextLink or deltaLink
// from a previous page. A 410 response means the delta state expired and
// is returned as ErrGone.
func (c *Client) Delta(ctx context.Context, res Resource, link string) (*DeltaPage, error) {
	target := link
	if target == "" {
		target = baselinePath(res)
	}

	c.logger.Debug("fetching delta page",
		slog.String("resource", res.Path),
		slog.Bool("initial_sync", link == ""),
	)

	resp, err := c.Do(ctx, http.MethodGet, target, pageSizeHeader(res.PageSize))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dr deltaResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("graph: decoding delta response: %w", err)
	}

	page := &DeltaPage{
		Items:     c.toItems(dr.Value),
		NextLink:  dr.NextLink,
		DeltaLink: dr.DeltaLink,
	}

	c.logger.Debug("fetched delta page",
		slog.String("resource", res.Path),
		slog.Int("count", len(page.Items)),
		slog.Bool("has_next_link", dr.NextLink != ""),
		slog.Bool("has_delta_link", dr.DeltaLink != ""),
	)

	return page, nil
}

// ListAttachments returns every attachment of a message, following
// nextLink pagination. Attachments have no delta endpoint.
func (c *Client) ListAttachments(ctx context.Context, userID, messageID string) ([]Item, error) {
	target := fmt.Sprintf("/users/%s/messages/%s/attachments",
		url.PathEscape(userID), url.PathEscape(messageID))

	var items []Item

	for page := 1; target != ""; page++ {
		resp, err := c.Do(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}

		var dr deltaResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&dr)
		resp.Body.Close()

		if decodeErr != nil {
			return nil, fmt.Errorf("graph: decoding attachments response: %w", decodeErr)
		}

		items = append(items, c.toItems(dr.Value)...)
		target = dr.NextLink

		c.logger.Debug("fetched attachments page",
			slog.String("message_id", messageID),
			slog.Int("page", page),
			slog.Int("count", len(dr.Value)),
		)
	}

	return items, nil
}

// toItems extracts routing fields from raw entries. Entries without an id
// cannot be routed or keyed and are dropped with a warning.
func (c *Client) toItems(values []json.RawMessage) []Item {
	items := make([]Item, 0, len(values))

	for _, raw := range values {
		var h itemHeader
		if err := json.Unmarshal(raw, &h); err != nil || h.ID == "" {
			c.logger.Warn("skipping entry without id", slog.Int("bytes", len(raw)))
			continue
		}

		items = append(items, Item{
			ID:             h.ID,
			Removed:        len(h.Removed) > 0 && string(h.Removed) != "null",
			HasAttachments: h.HasAttachments,
			Raw:            raw,
		})
	}

	return items
}

func baselinePath(res Resource) string {
	if len(res.Select) == 0 {
		return res.Path
	}

	return res.Path + "?$select=" + url.QueryEscape(strings.Join(res.Select, ","))
}

// pageSizeHeader builds the odata.maxpagesize preference. The server treats
// it as a hint and may return more or fewer entries.
func pageSizeHeader(size int) http.Header {
	if size <= 0 {
		return nil
	}

	return http.Header{"Prefer": {"odata.maxpagesize=" + strconv.Itoa(size)}}
}
