package cmd

import (
	"github.com/spf13/cobra"
	"github.com/zeu5/rl-ppo/benchmarks/cartpole"
)

func CartPoleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cartpole",
		Short: "Run cartpole benchmarks",
	}

	cmd.AddCommand(
		comparisonCommand("train", "Train one agent configured by the flags", cartpole.PrepareTraining),
		comparisonCommand("compare", "Compare clipping, divergence penalty and both against a uniform baseline", cartpole.PrepareComparison),
	)

	return cmd
}
