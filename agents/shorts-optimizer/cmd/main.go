package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	shortsoptimizer "shorts-optimizer/agents/shorts-optimizer"
	"shorts-optimizer/agents/shorts-optimizer/youtube"
	"shorts-optimizer/shared/config"
	"shorts-optimizer/shared/monitoring"

	"github.com/spf13/cobra"
)

const examples = `  shorts-optimizer optimize --last 10
  shorts-optimizer optimize --videoId <id>
  shorts-optimizer optimize --last 1 --mock`

// errUsage means usage was already printed and the process exits 1 with no
// further message.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCommand(ctx, stdout, stderr)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "%s %v\n", monitoring.NoticePrefix, err)
		}
		return 1
	}
	return 0
}

func newRootCommand(ctx context.Context, stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "shorts-optimizer <command>",
		Short:        "Shorts CTR Optimizer",
		Example:      examples,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Anything other than a known subcommand is a usage error.
			_ = cmd.Usage()
			if len(args) > 0 {
				return fmt.Errorf("unknown command %q", args[0])
			}
			return errUsage
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SilenceErrors = true
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newOptimizeCommand(ctx))
	return root
}

func newOptimizeCommand(ctx context.Context) *cobra.Command {
	var (
		criteria youtube.Criteria
		mock     bool
	)

	cmd := &cobra.Command{
		Use:          "optimize",
		Short:        "Diagnose recent Shorts and write a CTR variant plan for each",
		Example:      examples,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := criteria.Validate(); err != nil {
				_ = cmd.Usage()
				return err
			}
			return optimize(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), criteria, mock)
		},
	}

	cmd.Flags().IntVar(&criteria.Last, "last", 3, "Optimize the last N shorts")
	cmd.Flags().StringVar(&criteria.VideoID, "videoId", "", "Optimize a specific video (takes precedence over --last)")
	cmd.Flags().BoolVar(&criteria.ChannelMine, "channelMine", false, "Explicitly use the authenticated channel")
	cmd.Flags().BoolVar(&mock, "mock", false, "Use fixture mode with no network calls")
	return cmd
}

func optimize(ctx context.Context, stdout, stderr io.Writer, criteria youtube.Criteria, mock bool) error {
	cfg, err := config.Load(config.Options{ForceMock: mock})
	if err != nil {
		return err
	}

	o := shortsoptimizer.NewOptimizer(cfg)
	o.Reporter = monitoring.NewReporter(stdout, stderr)
	if err := o.Initialize(ctx); err != nil {
		return err
	}

	rows, err := o.Run(ctx, criteria)
	if err != nil {
		return err
	}

	shortsoptimizer.PrintSummary(stdout, rows)
	return nil
}
