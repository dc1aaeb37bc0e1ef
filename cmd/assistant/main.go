package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "assistant",
	Short:         "Contextual personal assistant: turn free-form notes into organized cards",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(ingestCmd, submitCmd, cardsCmd, envelopesCmd, contextCmd, thinkingCmd,
		suggestionsCmd, configCmd, dbCmd, serveCmd, stopCmd, statusCmd, mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
