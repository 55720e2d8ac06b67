package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "warden",
		Short:         "Administer warden daemons over their control sockets",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.configPath, "json", "", "Path to the daemon JSON config file")
	rootCmd.PersistentFlags().StringVar(&ctx.name, "name", "", "Daemon name, resolved in the config directory")
	rootCmd.PersistentFlags().IntVar(&ctx.port, "port", 0, "Control port of a running daemon")
	rootCmd.PersistentFlags().BoolVar(&ctx.dummy, "dummy", false, "Print what would be done without contacting any daemon")
	rootCmd.PersistentFlags().BoolVar(&ctx.verbose, "verbose", false, "Log every protocol exchange")

	rootCmd.AddCommand(newStartCommand(ctx))
	rootCmd.AddCommand(newStopCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newHupCommand(ctx))
	rootCmd.AddCommand(newCommandCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newSampleConfigCommand())

	return rootCmd
}
