package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/o365-sync/internal/checkpoint"
)

// seedStore writes entries into the sqlite store named by a CLI config.
func seedStore(t *testing.T, dir string, entries map[string]string) {
	t.Helper()

	ctx := context.Background()

	store, err := checkpoint.OpenSQLite(ctx, filepath.Join(dir, "checkpoints.db"), discardLogger())
	require.NoError(t, err)

	defer func() { require.NoError(t, store.Close()) }()

	for k, v := range entries {
		require.NoError(t, store.Put(ctx, k, v))
	}
}

func sampleEntries() map[string]string {
	return map[string]string{
		checkpoint.UsersKey:    "https://graph/users/delta?$deltatoken=a",
		"O365_folders|u1":      "https://graph/users/u1/mailFolders/delta?$deltatoken=b",
		"O365_folders|u2":      "",
		"O365_messages|u1|f1":  "https://graph/users/u1/mailFolders/f1/messages/delta?$deltatoken=c",
		"O365_messages|u2|f9":  "",
		"O365_messages|u12|f1": "",
	}
}

func TestCheckpointsList_Table(t *testing.T) {
	cfgPath, dir := writeCLIConfig(t, "")
	seedStore(t, dir, sampleEntries())

	res := runCLI(t, "--config", cfgPath, "checkpoints", "list")
	require.NoError(t, res.err)

	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, []string{"KEY", "STATE"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"O365_folders|u1", stateDelta}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"O365_folders|u2", stateBaseline}, strings.Fields(lines[2]))
	assert.NotContains(t, res.stdout, "deltatoken", "list must not print tokens")
}

func TestCheckpointsList_TypeFilter(t *testing.T) {
	cfgPath, dir := writeCLIConfig(t, "")
	seedStore(t, dir, sampleEntries())

	res := runCLI(t, "--config", cfgPath, "--json", "checkpoints", "list", "--type", "messages")
	require.NoError(t, res.err)

	var entries []checkpoint.Entry
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &entries))

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}

	assert.Equal(t, []string{"O365_messages|u12|f1", "O365_messages|u1|f1", "O365_messages|u2|f9"}, keys)
}

func TestCheckpointsList_EmptyJSON(t *testing.T) {
	cfgPath, _ := writeCLIConfig(t, "")

	res := runCLI(t, "--config", cfgPath, "--json", "checkpoints", "list")
	require.NoError(t, res.err)
	assert.Equal(t, "[]\n", res.stdout)
}

func TestCheckpointsList_BadType(t *testing.T) {
	cfgPath, _ := writeCLIConfig(t, "")

	res := runCLI(t, "--config", cfgPath, "checkpoints", "list", "--type", "contacts")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "--type")
}

func TestCheckpointsGet(t *testing.T) {
	cfgPath, dir := writeCLIConfig(t, "")
	seedStore(t, dir, sampleEntries())

	res := runCLI(t, "--config", cfgPath, "checkpoints", "get", "O365_folders|u1")
	require.NoError(t, res.err)
	assert.Equal(t, "https://graph/users/u1/mailFolders/delta?$deltatoken=b\n", res.stdout)

	res = runCLI(t, "--config", cfgPath, "checkpoints", "get", "O365_folders|nobody")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "no checkpoint")
}

func TestCheckpointsReset(t *testing.T) {
	cfgPath, dir := writeCLIConfig(t, "")
	seedStore(t, dir, sampleEntries())

	res := runCLI(t, "--config", cfgPath, "checkpoints", "reset", checkpoint.UsersKey)
	require.NoError(t, res.err)

	res = runCLI(t, "--config", cfgPath, "--json", "checkpoints", "get", checkpoint.UsersKey)
	require.NoError(t, res.err)

	var entry checkpoint.Entry
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &entry))
	assert.Equal(t, checkpoint.UsersKey, entry.Key)
	assert.Empty(t, entry.Token)
}

func TestCheckpointsReset_RejectsMalformedKey(t *testing.T) {
	cfgPath, _ := writeCLIConfig(t, "")

	res := runCLI(t, "--config", cfgPath, "checkpoints", "reset", "O365_contacts|u1")
	require.Error(t, res.err)
}

func TestCheckpointsPurge_User(t *testing.T) {
	cfgPath, dir := writeCLIConfig(t, "")
	seedStore(t, dir, sampleEntries())

	res := runCLI(t, "--config", cfgPath, "--json", "checkpoints", "purge", "--user", "u1", "--dry-run")
	require.NoError(t, res.err)

	var targets []string
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &targets))
	assert.Equal(t, []string{"O365_folders|u1", "O365_messages|u1|f1"}, targets)

	// Dry run leaves the store alone.
	res = runCLI(t, "--config", cfgPath, "--json", "checkpoints", "list")
	require.NoError(t, res.err)

	var entries []checkpoint.Entry
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &entries))
	assert.Len(t, entries, 6)

	res = runCLI(t, "--config", cfgPath, "checkpoints", "purge", "--user", "u1")
	require.NoError(t, res.err)

	res = runCLI(t, "--config", cfgPath, "--json", "checkpoints", "list")
	require.NoError(t, res.err)
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &entries))

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}

	assert.Equal(t, []string{"O365_folders|u2", "O365_messages|u12|f1", "O365_messages|u2|f9", checkpoint.UsersKey}, keys)
}

func TestCheckpointsPurge_Key(t *testing.T) {
	cfgPath, dir := writeCLIConfig(t, "")
	seedStore(t, dir, sampleEntries())

	res := runCLI(t, "--config", cfgPath, "--json", "checkpoints", "purge", "--key", "O365_messages|u2|f9")
	require.NoError(t, res.err)
	assert.JSONEq(t, `["O365_messages|u2|f9"]`, res.stdout)

	// Purging a missing key is a no-op.
	res = runCLI(t, "--config", cfgPath, "--json", "checkpoints", "purge", "--key", "O365_messages|u2|f9")
	require.NoError(t, res.err)
	assert.JSONEq(t, `[]`, res.stdout)
}

func TestCheckpointsPurge_NeedsUserOrKey(t *testing.T) {
	cfgPath, _ := writeCLIConfig(t, "")

	res := runCLI(t, "--config", cfgPath, "checkpoints", "purge")
	require.Error(t, res.err)

	res = runCLI(t, "--config", cfgPath, "checkpoints", "purge", "--user", "u1", "--key", "O365_folders|u1")
	require.Error(t, res.err)
}

func TestListEntries_FallbackWithoutLister(t *testing.T) {
	store := keysOnlyStore{checkpoint.NewMemoryStore(map[string]string{
		"O365_folders|u2": "b",
		"O365_folders|u1": "",
	})}

	entries, err := listEntries(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, []checkpoint.Entry{
		{Key: "O365_folders|u1", Token: ""},
		{Key: "O365_folders|u2", Token: "b"},
	}, entries)
}

// keysOnlyStore hides every method beyond checkpoint.Store.
type keysOnlyStore struct{ s *checkpoint.MemoryStore }

func (k keysOnlyStore) ListKeys(ctx context.Context) ([]string, error) {
	return k.s.ListKeys(ctx)
}

func (k keysOnlyStore) Get(ctx context.Context, key string) (string, error) {
	return k.s.Get(ctx, key)
}

func (k keysOnlyStore) Put(ctx context.Context, key, token string) error {
	return k.s.Put(ctx, key, token)
}
