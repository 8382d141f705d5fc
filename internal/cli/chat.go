package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/athena/internal/assistant/parser"
	"github.com/vietddude/athena/internal/control"
)

var (
	chatContact string
	chatName    string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant from the terminal",
	Run:   runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatContact, "contact", "terminal", "contact id used for history")
	chatCmd.Flags().StringVar(&chatName, "name", os.Getenv("USER"), "name the assistant addresses you by")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize Athena", "error", err)
		os.Exit(1)
	}
	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start Athena", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.Stop(shutdownCtx)
	}()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, "Chatting with Athena. Type /help for commands, Ctrl-D to quit.")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		_, _ = fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		msg, err := parser.Parse(chatContact, chatName, line)
		if err != nil {
			_, _ = fmt.Fprintf(out, "athena: Sorry, I couldn't read that (%v).\n\n", err)
			continue
		}

		reply, err := app.Agent().Handle(ctx, msg)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("Failed to handle message", "error", err)
			_, _ = fmt.Fprintln(out, "athena: Sorry, something went wrong on my side. Please try again later.")
			_, _ = fmt.Fprintln(out)
			continue
		}

		speaker := "athena"
		if reply.Fallback {
			speaker = "athena (offline)"
		}
		_, _ = fmt.Fprintf(out, "%s: %s\n\n", speaker, reply.Text)
	}
}
