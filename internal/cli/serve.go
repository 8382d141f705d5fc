package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vietddude/athena/internal/control"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assistant with its health and calendar endpoints",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize Athena", "error", err)
		os.Exit(1)
	}

	slog.Info("Athena started", "config", cfgPath, "port", cfg.Server.Port)

	if err := app.Run(ctx); err != nil {
		slog.Error("Athena stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Athena stopped gracefully")
}
