package main

import (
	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "trainer",
		Short: "Chess endgame trainer backed by a perfect-play tablebase oracle",
		Args:  cobra.NoArgs,

		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().String("config", "trainer.yaml", "path to config file (optional)")
	root.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(serveCmd())
	root.AddCommand(probeCmd())

	return root
}
