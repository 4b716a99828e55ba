package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var runLimit int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one fetch and match cycle for due providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Runner.Run(ctx, cfg.Pipeline.ClampLimit(runLimit))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max providers to process (default from config, capped at 15)")
	rootCmd.AddCommand(runCmd)
}
