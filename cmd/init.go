package cmd

import (
	"github.com/spf13/cobra"

	"github.com/avolkov/personaclone/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize personaclone configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to pick the target user and provider and generates a .personaclone.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard()
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
