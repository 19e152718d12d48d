package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"NewsHub/internal/app"
	"NewsHub/internal/config"
	"NewsHub/internal/logging"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "newshub",
		Short:         "Collects, analyzes and publishes crypto and politics news",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (default $NEWSHUB_CONFIG)")

	root.AddCommand(
		serveCommand(),
		collectCommand(),
		analyzeCommand(),
		postCommand(),
		moderateCommand(),
		decisionCommand("approve", "Approve a flagged item and publish it"),
		decisionCommand("reject", "Reject an item"),
		seedCommand(),
	)
	return root
}

// withApp loads the config, builds the application and closes it after fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.Application) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	return fn(cmd.Context(), a)
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run every stage on its schedule until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				return a.Run(ctx)
			})
		},
	}
}

func collectCommand() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect news from all active sources once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				if _, err := a.SeedSources(ctx); err != nil {
					return err
				}
				report, err := a.Collector.CollectAll(ctx, category)
				if err != nil {
					return err
				}
				cmd.Printf("collected %d items, failed sources: %v\n", report.TotalCollected, report.Failed)
				for name, n := range report.PerSource {
					cmd.Printf("  %-24s %d\n", name, n)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "collect only this category (crypto or politics)")
	return cmd
}

func analyzeCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze pending items once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				report, err := a.Analyzer.AnalyzePending(ctx, limit)
				if err != nil {
					return err
				}
				cmd.Printf("analyzed %d of %d, rejected %d, failed %d\n", report.Analyzed, report.Total, report.Rejected, report.Failed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of items to analyze (default from config)")
	return cmd
}

func postCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Escalate flagged items and publish analyzed ones once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				moderation, err := a.Poster.HandleModerationRequests(ctx)
				if err != nil {
					return err
				}
				report, err := a.Poster.PostAnalyzed(ctx, limit)
				if err != nil {
					return err
				}
				cmd.Printf("moderation prompts %d, posted %d of %d, failed %d\n",
					moderation.Notified, report.Posted, report.Total, report.Failed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of items to post (default from config)")
	return cmd
}

func moderateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "moderate",
		Short: "Apply pending operator decisions once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				report, err := a.Inbox.Poll(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("decisions %d: approved %d, rejected %d, ignored %d, failed %d\n",
					report.Received, report.Approved, report.Rejected, report.Ignored, report.Failed)
				return nil
			})
		},
	}
}

func decisionCommand(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <item-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				apply := a.Poster.Reject
				if action == "approve" {
					apply = a.Poster.Approve
				}
				ok, err := apply(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("item %s is not awaiting a decision", args[0])
				}
				cmd.Printf("%s: %s\n", action, args[0])
				return nil
			})
		},
	}
}

func seedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Store the configured sources that are missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				created, err := a.SeedSources(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("created %d sources\n", created)
				return nil
			})
		},
	}
}
