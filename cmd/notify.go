package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/plant-for-the-planet/firealert/internal/notify"
)

var (
	notifyLimit    int
	notifySkipEmit bool
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Emit notifications for new alerts and deliver pending ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "notify")
		if err != nil {
			return err
		}
		defer env.Close()

		if !notifySkipEmit {
			if _, err := notify.NewEmitter(env.Store, env.Metrics, cfg.Notify.BatchSize).Emit(ctx); err != nil {
				return err
			}
		}

		d := notify.NewDispatcher(env.Store, env.Sites, initNotifier(env, cfg.Notify), notify.DispatcherOptions{
			Concurrency: cfg.Notify.Concurrency,
			Clock:       env.Clock,
			Metrics:     env.Metrics,
		})
		res, err := d.Dispatch(ctx, notifyLimit)
		zap.L().Info("notify complete",
			zap.Int64("attempted", res.Attempted),
			zap.Int64("delivered", res.Delivered),
			zap.Int64("pending", res.Pending),
		)
		return err
	},
}

func init() {
	notifyCmd.Flags().IntVar(&notifyLimit, "limit", 500, "max pending notifications to deliver")
	notifyCmd.Flags().BoolVar(&notifySkipEmit, "skip-emit", false, "only deliver already created notifications")
	rootCmd.AddCommand(notifyCmd)
}
