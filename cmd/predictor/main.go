// Command predictor runs batch trip duration inference, either once for a
// single input file or continuously over the input directory.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"taxiflow/config"
	"taxiflow/logger"
	"taxiflow/pipeline"
)

type app struct {
	cfg     *config.Config
	logSink io.Closer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	var configPath string

	root := &cobra.Command{
		Use:           "predictor",
		Short:         "Batch trip duration prediction",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if err := os.Setenv(config.EnvPrefix+"_CONFIG", configPath); err != nil {
					return err
				}
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			sink, err := logger.Init("predictor", cfg.Log.Level, cfg.Log.Format, cfg.Log.Dir)
			if err != nil {
				return err
			}
			a.cfg, a.logSink = cfg, sink
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logSink != nil {
				return a.logSink.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (overrides "+config.EnvPrefix+"_CONFIG)")

	root.AddCommand(newRunCommand(a), newWatchCommand(a))
	return root
}

func newRunCommand(a *app) *cobra.Command {
	var (
		input      string
		batchID    string
		format     string
		sequential bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Predict one input file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runner, closeDeps, err := buildRunner(ctx, a.cfg)
			if err != nil {
				log.Error().Err(err).Msg("predictor setup failed")
				return err
			}
			defer closeDeps()

			res, err := runner.RunFile(ctx, input, pipeline.RunOptions{
				BatchID:    batchID,
				Format:     format,
				Sequential: sequential,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.OutputPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "input file (.parquet or .csv)")
	cmd.Flags().StringVar(&batchID, "batch-id", "", "batch id (default: input file name)")
	cmd.Flags().StringVar(&format, "format", "", "output format: parquet, csv or json")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "score the whole file in one chunk")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Process the input directory on a schedule and on new files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd.Context(), a.cfg)
		},
	}
}
