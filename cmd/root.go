package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "personaclone",
	Short: "Clone your personal messaging style from chat exports",
	Long: `personaclone builds a conversational clone of a single user from their
chat export files. It extracts and cleans the user's messages, profiles
their writing style, trains a persona model with versioned artifacts,
and serves the clone through a terminal demo, a messaging bot webhook
and a local web interface.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".personaclone.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
