package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/runtime"
)

var version = "0.1.0-dev"

var rootCmd = &cobra.Command{
	Use:   "loqa-asr",
	Short: "Offline tools for the Loqa speech recognizer",
	Long: `loqa-asr runs the recognizer, trainer and pronouncer from the
command line with the same configuration as the loqa-asrd daemon.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (defaults plus LOQA_* overrides when empty)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(pronounceCmd)
	rootCmd.AddCommand(sendCmd)
}

// loadConfig reads --config and builds a console logger for the command.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	telemetry := cfg.Telemetry
	telemetry.LogFormat = "console"
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		telemetry.LogLevel = "debug"
	}
	return cfg, runtime.NewLogger(telemetry, os.Stderr), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error("command failed", "error", err)
		stop()
		os.Exit(1)
	}
}
