/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after applying the config file, SERIALTERM_*
environment variables and flags. The output is valid as a config file:

  serialterm config --baud 9600 > ~/.serialterm.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig("", os.Stderr)
		if err != nil {
			return err
		}
		return c.Dump(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
