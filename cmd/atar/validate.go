package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (task %s, %d tool(s))\n", cmd.Flag("config").Value, cfg.Task.Name, cfg.Task.NumTools)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
