package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zeusync/atar/internal/config"
	"github.com/zeusync/atar/internal/core/observability/log"
	"github.com/zeusync/atar/internal/injector"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured task",
	Long:  `Loads the configuration, builds the task and runs the control and render loops until interrupted or stopped by a control command.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		app, cleanup, err := injector.InitializeApp(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app.Logger.Info("Starting",
			log.String("task", cfg.Task.Name),
			log.Int("tools", cfg.Task.NumTools),
			log.Bool("server", cfg.Server.Enabled),
		)
		if err := app.Run(ctx); err != nil {
			app.Logger.Error("Run failed", log.Error(err))
			return err
		}
		app.Logger.Info("Stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// loadConfig reads the file named by --config, applies the flag overrides and validates
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if name, _ := cmd.Flags().GetString("task"); name != "" {
		cfg.Task.Name = name
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
