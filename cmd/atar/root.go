package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "atar",
	Short: "atar runs augmented reality surgical training tasks",
	Long: `atar simulates training tasks for teleoperated surgical tools and overlays them on
stereo camera video. Tool poses, camera images and control commands arrive over a
websocket; task state, guidance parameters and scenes are streamed back.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "atar.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().String("task", "", "Task to run, overrides task.name")
	rootCmd.PersistentFlags().String("log-level", "", "Log level, overrides log.level")
}
