package sync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/o365-sync/internal/checkpoint"
	"github.com/tonimelisma/o365-sync/internal/graph"
	"github.com/tonimelisma/o365-sync/internal/sink"
)

// fakeTenant serves both the token endpoint and the users delta endpoint.
// Tokens minted before acceptFrom are rejected with 401, simulating an
// expired credential.
type fakeTenant struct {
	*httptest.Server
	minted     atomic.Int32
	acceptFrom int32
}

func newFakeTenant(t *testing.T, acceptFrom int32) *fakeTenant {
	t.Helper()

	ft := &fakeTenant{acceptFrom: acceptFrom}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		n := ft.minted.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"token_type":"Bearer","access_token":"tok-%d","expires_in":3600}`, n)
	})
	mux.HandleFunc("/users/delta", func(w http.ResponseWriter, r *http.Request) {
		var n int32
		if _, err := fmt.Sscanf(r.Header.Get("Authorization"), "Bearer tok-%d", &n); err != nil || n < ft.acceptFrom {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"InvalidAuthenticationToken"}}`))

			return
		}

		fmt.Fprintf(w, `{"value":[{"id":"u1","displayName":"Ada"},{"id":"u2","displayName":"Grace"}],`+
			`"@odata.deltaLink":"%s/users/delta?$deltatoken=tokU1"}`, ft.URL)
	})

	ft.Server = httptest.NewServer(mux)
	t.Cleanup(ft.Close)

	return ft
}

func newLiveOrchestrator(t *testing.T, ft *fakeTenant, store checkpoint.Store, out sink.Sink) (*Orchestrator, *graph.TokenProvider) {
	t.Helper()

	tokens := graph.NewTokenProvider(graph.Credentials{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     ft.URL + "/token",
	}, ft.Client(), quietLogger())

	client := graph.NewClient(ft.URL, ft.Client(), tokens, quietLogger(), "")

	return NewOrchestrator(OrchestratorConfig{
		Fetcher: client,
		Store:   store,
		Sink:    out,
		Tokens:  tokens,
		Logger:  quietLogger(),
	}), tokens
}

func TestIntegration_ExpiredTokenRefreshedOnce(t *testing.T) {
	ft := newFakeTenant(t, 2)
	store := checkpoint.NewMemoryStore(map[string]string{"O365_users_delta": ""})
	out := sink.NewMemorySink()

	orch, tokens := newLiveOrchestrator(t, ft, store, out)

	report, err := orch.RunPass(context.Background(), filterOf(t, checkpoint.TypeUsers))
	require.NoError(t, err)

	assert.Zero(t, report.Failed())
	assert.Len(t, out.Records(), 2)
	assert.Equal(t, int32(2), ft.minted.Load())

	// The provider holds the fresh credential, not the invalidated one.
	tok, err := tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-2", tok)
	assert.Equal(t, int32(2), ft.minted.Load())

	assert.Equal(t, map[string]string{
		"O365_users_delta": ft.URL + "/users/delta?$deltatoken=tokU1",
		"O365_folders|u1":  "",
		"O365_folders|u2":  "",
	}, store.Snapshot())
}

func TestIntegration_PersistentAuthFailure(t *testing.T) {
	ft := newFakeTenant(t, 1000)
	store := checkpoint.NewMemoryStore(map[string]string{"O365_users_delta": ""})
	out := sink.NewMemorySink()

	orch, _ := newLiveOrchestrator(t, ft, store, out)

	report, err := orch.RunPass(context.Background(), filterOf(t, checkpoint.TypeUsers))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed())
	assert.True(t, IsAuthFailure(report.Keys[0]))
	assert.Equal(t, int32(2), ft.minted.Load())
	assert.Empty(t, store.Snapshot()["O365_users_delta"])
	require.Len(t, out.Failures(), 1)
}
