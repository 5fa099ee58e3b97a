package graph

import (
	"encoding/json"
	"log/slog"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFields_IncludeID(t *testing.T) {
	for name, fields := range map[string][]string{
		"users":    DefaultUserFields,
		"folders":  DefaultFolderFields,
		"messages": DefaultMessageFields,
	} {
		assert.True(t, slices.Contains(fields, "id"), name)
	}

	// Attachment fan-out reads this flag from every message.
	assert.True(t, slices.Contains(DefaultMessageFields, "hasAttachments"))
}

func TestBaselinePath(t *testing.T) {
	assert.Equal(t, "/users/delta", baselinePath(Resource{Path: "/users/delta"}))
	assert.Equal(t, "/users/delta?$select=id%2CdisplayName",
		baselinePath(Resource{Path: "/users/delta", Select: []string{"id", "displayName"}}))
}

func TestToItems_SkipsEntriesWithoutID(t *testing.T) {
	c := &Client{logger: slog.Default()}

	items := c.toItems([]json.RawMessage{
		json.RawMessage(`{"id":"m1","hasAttachments":true}`),
		json.RawMessage(`{"subject":"no id"}`),
		json.RawMessage(`not json`),
		json.RawMessage(`{"id":"m2","@removed":null}`),
		json.RawMessage(`{"id":"m3","@removed":{"reason":"deleted"}}`),
	})

	require.Len(t, items, 3)
	assert.Equal(t, "m1", items[0].ID)
	assert.True(t, items[0].HasAttachments)
	assert.False(t, items[1].Removed, "a null @removed is not a tombstone")
	assert.True(t, items[2].Removed)
	assert.JSONEq(t, `{"id":"m3","@removed":{"reason":"deleted"}}`, string(items[2].Raw))
}
