package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/togglr-project/togglr-sub001/executor"
	"github.com/togglr-project/togglr-sub001/metrics"
	"github.com/togglr-project/togglr-sub001/scheduler"
	"github.com/togglr-project/togglr-sub001/timeline"
)

func runCmd(env *environment) *cobra.Command {
	return LeafCommand{
		Use:   "run",
		Short: "Apply scheduled transitions until interrupted",
		Args:  cobra.NoArgs,
		DurFlags: []DurationFlag{
			{Name: "shutdown-timeout", Usage: "how long to wait for in-flight transitions", Default: 30 * time.Second},
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

			s, err := env.open()
			if err != nil {
				return err
			}
			defer s.Close()

			sched := scheduler.NewScheduler(s.config.SchedulerConfig(), s.store,
				scheduler.WithLogger(s.log),
				scheduler.WithMetrics(metrics.NewInMemoryMetrics()),
				scheduler.WithEvaluator(timeline.NewEvaluator(s.config.EvaluatorConfig())),
			)
			sched.Applier().OnTransition(func(_ context.Context, r *executor.Report) {
				s.log.Info("Feature switched",
					zap.String("feature_id", r.FeatureID),
					zap.Bool("enabled", r.Enabled),
					zap.Time("scheduled_at", r.ScheduledAt))
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := sched.Start(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Scheduling %s feature(s) on %s\n",
				Primary(fmt.Sprint(len(sched.Scheduled()))), Silent(s.config.Scheduler.NodeID))

			<-ctx.Done()
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), Info("Shutting down"))
			return sched.Shutdown(timeout)
		},
	}.Build()
}
