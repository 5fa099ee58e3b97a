package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/o365-sync/internal/checkpoint"
)

const (
	stateBaseline = "baseline"
	stateDelta    = "delta"
)

func newCheckpointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoints",
		Aliases: []string{"cp"},
		Short:   "Inspect and manage stored checkpoints",
		Long: `Inspect and manage the checkpoint store. Every key holds the delta link
of one scope; an empty token means the next pass starts from a baseline.`,
	}

	cmd.AddCommand(newCheckpointsListCmd())
	cmd.AddCommand(newCheckpointsGetCmd())
	cmd.AddCommand(newCheckpointsResetCmd())
	cmd.AddCommand(newCheckpointsPurgeCmd())

	return cmd
}

// withStore opens the configured checkpoint store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, cc *CLIContext, store checkpoint.Store) error) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	store, closeStore, err := openStore(ctx, cc.Cfg.Store, cc.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			cc.Logger.Warn("closing checkpoint store", slog.String("error", cerr.Error()))
		}
	}()

	return fn(ctx, cc, store)
}

// listEntries returns every entry sorted by key, through checkpoint.Lister
// when the store has it.
func listEntries(ctx context.Context, store checkpoint.Store) ([]checkpoint.Entry, error) {
	if l, ok := store.(checkpoint.Lister); ok {
		return l.List(ctx)
	}

	keys, err := store.ListKeys(ctx)
	if err != nil {
		return nil, err
	}

	slices.Sort(keys)

	entries := make([]checkpoint.Entry, 0, len(keys))

	for _, k := range keys {
		tok, err := store.Get(ctx, k)
		if err != nil {
			return nil, err
		}

		entries = append(entries, checkpoint.Entry{Key: k, Token: tok})
	}

	return entries, nil
}

func tokenState(token string) string {
	if token == "" {
		return stateBaseline
	}

	return stateDelta
}

func newCheckpointsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpoint keys",
		Args:  cobra.NoArgs,
		RunE:  runCheckpointsList,
	}

	cmd.Flags().String("type", "", "only list keys of this scope type: users, folders, or messages")

	return cmd
}

func runCheckpointsList(cmd *cobra.Command, _ []string) error {
	typeName, err := cmd.Flags().GetString("type")
	if err != nil {
		return err
	}

	var filter *checkpoint.Filter

	if typeName != "" {
		t, err := checkpoint.ParseScopeType(typeName)
		if err != nil {
			return fmt.Errorf("--type: %w", err)
		}

		f, err := checkpoint.NewFilter(t, "")
		if err != nil {
			return err
		}

		filter = &f
	}

	return withStore(cmd, func(ctx context.Context, cc *CLIContext, store checkpoint.Store) error {
		entries, err := listEntries(ctx, store)
		if err != nil {
			return err
		}

		if filter != nil {
			entries = slices.DeleteFunc(entries, func(e checkpoint.Entry) bool {
				return !filter.Match(e.Key)
			})
		}

		w := cmd.OutOrStdout()

		if cc.Flags.JSON {
			if entries == nil {
				entries = []checkpoint.Entry{}
			}

			return printJSON(w, entries)
		}

		if len(entries) == 0 {
			cc.Statusf("No checkpoints.\n")
			return nil
		}

		rows := make([][]string, len(entries))
		for i, e := range entries {
			rows[i] = []string{e.Key, tokenState(e.Token)}
		}

		printTable(w, []string{"KEY", "STATE"}, rows)

		return nil
	})
}

func newCheckpointsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the delta link stored for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			return withStore(cmd, func(ctx context.Context, cc *CLIContext, store checkpoint.Store) error {
				keys, err := store.ListKeys(ctx)
				if err != nil {
					return err
				}

				if !slices.Contains(keys, key) {
					return fmt.Errorf("no checkpoint for key %q", key)
				}

				tok, err := store.Get(ctx, key)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()

				if cc.Flags.JSON {
					return printJSON(w, checkpoint.Entry{Key: key, Token: tok})
				}

				if tok == "" {
					cc.Statusf("%s has no token; the next pass starts from a baseline.\n", key)
					return nil
				}

				_, err = fmt.Fprintln(w, tok)

				return err
			})
		},
	}
}

func newCheckpointsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset KEY",
		Short: "Clear a key's token so its next pass is a baseline",
		Long: `Clear the token of a checkpoint key. The key stays in the store and its
next pass re-fetches the whole scope from a baseline.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			if _, err := checkpoint.ParseKey(key); err != nil {
				return err
			}

			return withStore(cmd, func(ctx context.Context, cc *CLIContext, store checkpoint.Store) error {
				if err := store.Put(ctx, key, ""); err != nil {
					return err
				}

				cc.Logger.Info("checkpoint reset", slog.String("key", key))
				cc.Statusf("Reset %s.\n", key)

				return nil
			})
		},
	}
}

func newCheckpointsPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete checkpoint keys",
		Long: `Delete one checkpoint key (--key) or every folders and messages key of a
user (--user). Sync never deletes keys; use this to drop scopes of users or
folders that no longer exist.`,
		Args: cobra.NoArgs,
		RunE: runCheckpointsPurge,
	}

	cmd.Flags().String("user", "", "delete every key belonging to this user ID")
	cmd.Flags().String("key", "", "delete a single key")
	cmd.Flags().Bool("dry-run", false, "print the keys that would be deleted")
	cmd.MarkFlagsMutuallyExclusive("user", "key")
	cmd.MarkFlagsOneRequired("user", "key")

	return cmd
}

func runCheckpointsPurge(cmd *cobra.Command, _ []string) error {
	userID, err := cmd.Flags().GetString("user")
	if err != nil {
		return err
	}

	key, err := cmd.Flags().GetString("key")
	if err != nil {
		return err
	}

	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}

	return withStore(cmd, func(ctx context.Context, cc *CLIContext, store checkpoint.Store) error {
		deleter, ok := store.(checkpoint.Deleter)
		if !ok {
			return errors.New("the configured checkpoint store cannot delete keys")
		}

		all, err := store.ListKeys(ctx)
		if err != nil {
			return err
		}

		targets := []string{}

		if userID != "" {
			targets = append(targets, checkpoint.KeysForUser(all, userID)...)
		} else if slices.Contains(all, key) {
			targets = append(targets, key)
		}

		slices.Sort(targets)

		w := cmd.OutOrStdout()

		if dryRun {
			if cc.Flags.JSON {
				return printJSON(w, targets)
			}

			for _, k := range targets {
				fmt.Fprintln(w, k)
			}

			return nil
		}

		for _, k := range targets {
			if err := deleter.Delete(ctx, k); err != nil {
				return fmt.Errorf("deleting %s: %w", k, err)
			}

			cc.Logger.Info("checkpoint deleted", slog.String("key", k))
		}

		if cc.Flags.JSON {
			return printJSON(w, targets)
		}

		cc.Statusf("Deleted %d checkpoint(s).\n", len(targets))

		return nil
	})
}
