package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/freeeve/endgametrainer/internal/config"
	"github.com/freeeve/endgametrainer/internal/eval"
	"github.com/freeeve/endgametrainer/internal/fen"
	"github.com/freeeve/endgametrainer/internal/tablebase"
)

// trainer probe "4k3/8/4K3/8/8/8/8/R7 w - - 0 1"
func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <fen>",
		Short: "Query the oracle for one position and print the evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Setup(cfgPath)
			if err != nil {
				return err
			}

			fenStr := args[0]
			side, err := fen.SideToMove(fenStr)
			if err != nil {
				return err
			}

			client, err := tablebase.NewClient(tablebase.ClientConfig{
				BaseURL: cfg.OracleURL,
				Timeout: cfg.OracleTimeout,
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			res, err := client.Query(ctx, fenStr)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(eval.Format(res, side))
		},
	}
}
