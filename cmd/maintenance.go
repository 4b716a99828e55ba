package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepOlderThan time.Duration

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Explicitly scoped data maintenance",
}

var maintenanceSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark unprocessed events older than a cutoff as processed without matching them",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if sweepOlderThan <= 0 {
			return eris.New("--older-than must be positive")
		}
		if err := cfg.Validate("maintenance"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cutoff := time.Now().UTC().Add(-sweepOlderThan)
		n, err := st.SweepStaleEvents(ctx, cutoff)
		if err != nil {
			return err
		}
		zap.L().Info("stale events swept", zap.Int64("events", n), zap.Time("cutoff", cutoff))
		return nil
	},
}

func init() {
	maintenanceSweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", 0, "age beyond which unprocessed events are swept (e.g. 72h)")
	maintenanceCmd.AddCommand(maintenanceSweepCmd)
	rootCmd.AddCommand(maintenanceCmd)
}
