package main

import (
	"fmt"

	"TruckGate/allowlist"
	"TruckGate/logger"

	"github.com/spf13/cobra"
)

var allowCmd = &cobra.Command{
	Use:   "allow",
	Short: "Manage the allow-list of plates",
}

var allowListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the allowed plates, one per line",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openAllowList(cfg.Allow, logger.Log())
		if err != nil {
			return err
		}
		defer closeStore()
		plates, err := store.Plates(cmd.Context())
		if err != nil {
			return err
		}
		for _, p := range plates {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

var allowSetCmd = &cobra.Command{
	Use:   "set [plate]...",
	Short: "Replace the allow-list; no plates clears it",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openAllowList(cfg.Allow, logger.Log())
		if err != nil {
			return err
		}
		defer closeStore()
		if err := store.Replace(cmd.Context(), args); err != nil {
			return err
		}
		n := len(allowlist.Clean(args))
		logger.S().Infof("allow-list replaced, %d plates", n)
		fmt.Fprintf(cmd.OutOrStdout(), "%d plates allowed\n", n)
		return nil
	},
}

func init() {
	allowCmd.AddCommand(allowListCmd)
	allowCmd.AddCommand(allowSetCmd)
}
