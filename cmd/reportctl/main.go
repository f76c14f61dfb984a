package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/sitereport-api/internal/bootstrap"
	"github.com/noah-isme/sitereport-api/internal/service"
	"github.com/noah-isme/sitereport-api/pkg/config"
	"github.com/noah-isme/sitereport-api/pkg/database"
	"github.com/noah-isme/sitereport-api/pkg/jobs"
	"github.com/noah-isme/sitereport-api/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "reportctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reportctl",
		Short: "Site report administration CLI",
		Long: `reportctl runs maintenance tasks against the report database: schema
migration, retrying failed reports, requeueing pending work and sweeping stale jobs.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newMigrateCmd(),
		newRetryCmd(),
		newRecoverCmd(),
		newSweepCmd(),
		newTokenCmd(),
	)
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the report tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *bootstrap.Runtime) error {
				if err := database.EnsureSchema(ctx, rt.DB); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <report-id>...",
		Short: "Reset failed reports to queued and resubmit them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *bootstrap.Runtime) error {
				queue, closeQueue := redisDispatcher(rt)
				defer closeQueue()
				for _, id := range args {
					ok, err := rt.Reports.Reset(ctx, id, time.Now().UTC())
					if err != nil {
						return fmt.Errorf("reset %s: %w", id, err)
					}
					if !ok {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: not in failed state, skipped\n", id)
						continue
					}
					if queue != nil {
						if err := queue.Enqueue(jobs.Job{ID: id, Type: jobs.TypeGenerateReport}); err != nil {
							return fmt.Errorf("enqueue %s: %w", id, err)
						}
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: queued\n", id)
				}
				return nil
			})
		},
	}
}

func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Resubmit every queued report to the redis queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *bootstrap.Runtime) error {
				queue, closeQueue := redisDispatcher(rt)
				defer closeQueue()
				if queue == nil {
					return fmt.Errorf("recover needs REPORTS_QUEUE_DRIVER=%s; the memory queue recovers on API start", config.QueueDriverRedis)
				}
				recovered, err := rt.ReportService(queue).RecoverPending(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d report(s)\n", recovered)
				return nil
			})
		},
	}
}

func newSweepCmd() *cobra.Command {
	var artifacts bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail reports stuck in processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *bootstrap.Runtime) error {
				swept, err := rt.Job.SweepStale(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "failed %d stale report(s)\n", swept)
				if artifacts && rt.Sweeper != nil {
					removed, err := rt.Sweeper.CleanupOlderThan(rt.Config.Reports.ArtifactTTL)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired artifact(s)\n", len(removed))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&artifacts, "artifacts", false, "Also remove local artifacts older than REPORTS_ARTIFACT_TTL")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Env == config.EnvProduction {
				return fmt.Errorf("token issuing is disabled in production")
			}
			token, err := service.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer).IssueToken(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func withRuntime(ctx context.Context, fn func(context.Context, *bootstrap.Runtime) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg, "reportctl")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	rt, err := bootstrap.New(ctx, cfg, logr.WithOptions(zap.IncreaseLevel(zap.WarnLevel)))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

// redisDispatcher returns nil when the memory driver is configured; rows reset to
// queued are then picked up by the API on its next start.
func redisDispatcher(rt *bootstrap.Runtime) (jobs.Dispatcher, func()) {
	if rt.Config.Reports.QueueDriver != config.QueueDriverRedis {
		return nil, func() {}
	}
	queue, closeQueue, err := rt.Dispatcher(context.Background())
	if err != nil {
		return nil, func() {}
	}
	return queue, closeQueue
}
