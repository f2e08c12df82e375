package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/zeu5/rl-ppo/logging"
)

func RootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rl-ppo",
		Short:         "Train and compare PPO agents on batched environments",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			changed := func(string) bool { return true }
			if configPath != "" {
				if err := flags.Load(configPath); err != nil {
					return err
				}
				// flags given on the command line still win over the file
				changed = cmd.Flags().Changed
			}
			UpdateFlags(changed)
			if err := logging.Init(flags.LogLevel, flags.LogFormat, os.Stderr); err != nil {
				return err
			}
			if err := flags.Validate(); err != nil {
				return err
			}
			return flags.Record()
		},
	}
	AddFlags(cmd)

	cmd.AddCommand(
		CartPoleCommand(),
		ChainCommand(),
	)

	return cmd
}
