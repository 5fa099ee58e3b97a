package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/o365-sync/internal/config"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Check tenant credentials",
	}

	cmd.AddCommand(newAuthCheckCmd())

	return cmd
}

// authCheckOutput is the JSON schema for `auth check --json`. The token
// itself is never printed.
type authCheckOutput struct {
	TenantID  string `json:"tenant_id"`
	ClientID  string `json:"client_id"`
	TokenType string `json:"token_type"`
	OK        bool   `json:"ok"`
}

func newAuthCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Acquire an access token to verify the credentials",
		Long: `Resolve credentials (environment, config file, then secret files) and
perform one client-credentials exchange. The token is discarded.`,
		Args: cobra.NoArgs,
		RunE: runAuthCheck,
	}
}

func runAuthCheck(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	tokens, err := newTokenProvider(cc.Cfg.Config, newHTTPClient(cc.Cfg.Network), cc.Logger)
	if err != nil {
		return err
	}

	tok, err := tokens.Token(cmd.Context())
	if err != nil {
		return fmt.Errorf("acquiring token: %w", err)
	}

	creds, err := config.Credentials(cc.Cfg.Auth)
	if err != nil {
		return err
	}

	out := authCheckOutput{
		TenantID:  creds.TenantID,
		ClientID:  creds.ClientID,
		TokenType: tokenType(tok),
		OK:        true,
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Credentials OK for tenant %s (client %s).\n", out.TenantID, out.ClientID)

	return nil
}

// tokenType returns the scheme of an Authorization header value.
func tokenType(header string) string {
	scheme, _, ok := strings.Cut(header, " ")
	if !ok {
		return ""
	}

	return scheme
}
