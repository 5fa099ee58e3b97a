package graph

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"
)

// Defaults for the client-credentials exchange.
const (
	DefaultGrantType = "client_credentials"
	DefaultScope     = "https://graph.microsoft.com/.default"
)

// Credentials are the source parameters used to mint a bearer token.
// TokenURL overrides the Azure AD v2.0 endpoint derived from TenantID.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	GrantType    string
	Scope        string
	TokenURL     string
}

func (c Credentials) tokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}

	return microsoft.AzureADEndpoint(c.TenantID).TokenURL
}

// TokenProvider holds a single cached credential and mints a new one on
// demand. The mutex is held across the exchange, so at most one exchange is
// in flight and callers that queue behind it receive the token it produced.
//
// There is no expiry tracking: a cached token stays until Invalidate.
type TokenProvider struct {
	mu         sync.Mutex
	creds      Credentials
	token      string // "<token_type> <access_token>", empty when invalidated
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTokenProvider creates a provider for the given credentials. A nil
// httpClient uses http.DefaultClient for the exchange.
func NewTokenProvider(creds Credentials, httpClient *http.Client, logger *slog.Logger) *TokenProvider {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &TokenProvider{
		creds:      creds,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Token returns the cached Authorization header value, performing the token
// exchange first if the cache is empty. A failed exchange leaves the cache
// empty so the next call tries again.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" {
		return p.token, nil
	}

	tok, err := p.exchange(ctx)
	if err != nil {
		p.logger.Warn("token acquisition failed",
			slog.String("tenant_id", p.creds.TenantID),
			slog.String("error", err.Error()),
		)

		return "", err
	}

	p.token = tok

	p.logger.Info("token acquired", slog.String("tenant_id", p.creds.TenantID))

	return tok, nil
}

// Invalidate discards the cached token. Safe to call when already empty.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token == "" {
		return
	}

	p.token = ""

	p.logger.Info("cached token invalidated", slog.String("tenant_id", p.creds.TenantID))
}

// SetCredentials replaces the source parameters and drops the cached token
// so the next request mints one with the new secret.
func (p *TokenProvider) SetCredentials(creds Credentials) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.creds = creds
	p.token = ""

	p.logger.Info("token credentials replaced", slog.String("tenant_id", creds.TenantID))
}

// exchange performs the form-encoded client-credentials POST.
// Caller holds p.mu.
func (p *TokenProvider) exchange(ctx context.Context) (string, error) {
	grant := p.creds.GrantType
	if grant == "" {
		grant = DefaultGrantType
	}

	scope := p.creds.Scope
	if scope == "" {
		scope = DefaultScope
	}

	cfg := clientcredentials.Config{
		ClientID:       p.creds.ClientID,
		ClientSecret:   p.creds.ClientSecret,
		TokenURL:       p.creds.tokenURL(),
		Scopes:         strings.Fields(scope),
		EndpointParams: url.Values{"grant_type": {grant}},
		AuthStyle:      oauth2.AuthStyleInParams,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	t, err := cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenAcquisition, err)
	}

	if t.TokenType == "" || t.AccessToken == "" {
		return "", fmt.Errorf("%w: response lacks token_type or access_token", ErrTokenAcquisition)
	}

	return t.TokenType + " " + t.AccessToken, nil
}
