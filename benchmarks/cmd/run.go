package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/zeu5/rl-ppo/benchmarks/common"
	"github.com/zeu5/rl-ppo/core"
	"github.com/zeu5/rl-ppo/logging"
)

type prepareFunc func(*common.Flags) (*core.ParallelComparison, error)

func comparisonCommand(use, short string, prepare prepareFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmp, err := prepare(flags)
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt) // channel for interrupts from os
			defer signal.Stop(sigCh)

			doneCh := make(chan struct{}) // channel for done signal from application

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-sigCh:
					logging.New("cmd").Warn("interrupted, stopping")
				case <-doneCh:
				}
				cancel()
			}()

			logging.New("cmd").Info("starting",
				slog.String("command", cmd.CommandPath()),
				slog.Int("experiments", len(cmp.Experiments)),
				slog.String("config", flags.Fingerprint()[:12]),
			)
			cmp.Run(ctx, flags.NumRuns, flags.RunConfig(), flags.Parallelism)
			close(doneCh)
			return nil
		},
	}
}
