package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var (
		rootFlag      string
		configFlag    string
		logLevelFlag  string
		logFormatFlag string
		workersFlag   int
	)

	ctx := newCommandContext(&rootFlag, &configFlag, &logLevelFlag, &logFormatFlag, &workersFlag)

	rootCmd := &cobra.Command{
		Use:           "taxon-cropper",
		Short:         "Build a taxonomy-structured crop dataset from wildlife observations",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", ".", "Project root that relative paths resolve against")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (default <root>/taxon-cropper.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Log format: console or json")
	rootCmd.PersistentFlags().IntVarP(&workersFlag, "workers", "w", 0, "Parallel workers per stage")

	for _, cmd := range newStageCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newTaxaCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
