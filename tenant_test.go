package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// fakeTenant serves a token endpoint and a tiny mailbox: one user with one
// folder holding one message. Every delta link it hands out returns an
// empty page, so a second round emits nothing.
type fakeTenant struct {
	*httptest.Server
	tokens   atomic.Int32
	failUser bool // when set, the folders delta of u1 returns 500s
}

func newFakeTenant(t *testing.T) *fakeTenant {
	t.Helper()

	ft := &fakeTenant{}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		n := ft.tokens.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"token_type":"Bearer","access_token":"tok-%d","expires_in":3600}`, n)
	})
	mux.HandleFunc("/users/delta", func(w http.ResponseWriter, r *http.Request) {
		ft.page(w, r, `{"id":"u1","displayName":"Ada"}`)
	})
	mux.HandleFunc("/users/u1/mailFolders/delta", func(w http.ResponseWriter, r *http.Request) {
		if ft.failUser {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"ErrorInvalidUser"}}`))

			return
		}

		ft.page(w, r, `{"id":"f1","displayName":"Inbox"}`)
	})
	mux.HandleFunc("/users/u1/mailFolders/f1/messages/delta", func(w http.ResponseWriter, r *http.Request) {
		ft.page(w, r, `{"id":"m1","subject":"hello","hasAttachments":false}`)
	})

	ft.Server = httptest.NewServer(mux)
	t.Cleanup(ft.Close)

	return ft
}

// page answers a baseline request with entry, and a delta request (one
// carrying $deltatoken) with an empty page.
func (ft *fakeTenant) page(w http.ResponseWriter, r *http.Request, entry string) {
	if r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	link := ft.URL + r.URL.Path + "?$deltatoken=next"

	if r.URL.Query().Get("$deltatoken") != "" {
		fmt.Fprintf(w, `{"value":[],"@odata.deltaLink":%q}`, link)
		return
	}

	fmt.Fprintf(w, `{"value":[%s],"@odata.deltaLink":%q}`, entry, link)
}

// authTOML points [auth] and [graph] at the fake tenant.
func (ft *fakeTenant) authTOML() string {
	return fmt.Sprintf(`
[auth]
tenant_id = "tenant"
client_id = "client"
client_secret = "secret"
token_url = %q

[graph]
base_url = %q
attachments = false
`, ft.URL+"/token", ft.URL)
}
