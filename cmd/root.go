package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var (
	configPath = "./config/bundler.yaml"
	rootCmd    = &cobra.Command{
		Use:   "bundler-cli",
		Short: "ERC-4337 UserOperation pipeline CLI",
		Long: `CLI for building, signing and submitting ERC-4337 user operations
through a bundler endpoint.

Such as "bundler-cli send --to 0x... --value 0.01" or "bundler-cli address"
`,
	}
)

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config/bundler.yaml", "Path to config file")
}
