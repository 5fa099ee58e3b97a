package main

import (
	"syscall"

	"github.com/spf13/cobra"
)

func newReloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask a running watch to re-read its config",
		Long: `Send SIGHUP to the watch process recorded in the PID file. The watch
re-reads the config file and credentials; a config that fails to load or
validate is logged by the watch and the running settings are kept.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			pidPath, err := cmd.Flags().GetString("pid-file")
			if err != nil {
				return err
			}

			pid, err := signalWatch(pidPath, syscall.SIGHUP)
			if err != nil {
				return err
			}

			cc.Statusf("Reload signal sent to watch (PID %d).\n", pid)

			return nil
		},
	}

	cmd.Flags().String("pid-file", defaultPIDFile(), "PID file written by watch")

	return cmd
}
