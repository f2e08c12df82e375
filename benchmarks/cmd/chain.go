package cmd

import (
	"github.com/spf13/cobra"
	"github.com/zeu5/rl-ppo/benchmarks/chain"
)

func ChainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Run chain benchmarks",
	}

	cmd.AddCommand(
		comparisonCommand("train", "Train one agent configured by the flags", chain.PrepareTraining),
		comparisonCommand("compare", "Compare clipping, divergence penalty and both against a uniform baseline", chain.PrepareComparison),
	)

	return cmd
}
