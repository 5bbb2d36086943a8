package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nhle/mailticket/internal/model"
)

var (
	configPath string
	logger     *slog.Logger
)

func main() {
	_ = godotenv.Load()
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "mailticket",
		Short:         "Polls a support mailbox and turns messages into tickets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config",
		model.DefaultConfigPath(), "path to the configuration file")

	root.AddCommand(
		newRunCmd(),
		newOnceCmd(),
		newResetStateCmd(),
		newCredentialsCmd(),
	)

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
