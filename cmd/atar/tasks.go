package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zeusync/atar/internal/core/task"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the available tasks",
	Run: func(cmd *cobra.Command, _ []string) {
		for _, name := range task.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)
}
