package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/athena/internal/health"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health of a running Athena instance",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "server address (default: http://localhost:<server.port>)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	addr := statusAddr
	if addr == "" {
		cfg := loadConfig()
		addr = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	} else {
		setupLogging("", "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/health/detailed", nil)
	if err != nil {
		slog.Error("Invalid address", "addr", addr, "error", err)
		os.Exit(1)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Error("Failed to reach Athena", "addr", addr, "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var report health.HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		slog.Error("Failed to decode health report", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintf(w, "SYSTEM\t%s\t\n", report.SystemStatus)

	names := make([]string, 0, len(report.Components))
	for name := range report.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := report.Components[name]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", name, c.Status, c.Error)
	}

	if g := report.Governor; g != nil {
		_, _ = fmt.Fprintf(w, "llm breaker\t%s\tfailures=%d\n", g.Breaker.State, g.Breaker.ConsecutiveFailures)
		_, _ = fmt.Fprintf(w, "llm queue\t%d\tprovider=%s\n", g.QueueDepth, g.Provider)
		if !g.LastDispatch.IsZero() {
			_, _ = fmt.Fprintf(w, "last dispatch\t%s\t\n", g.LastDispatch.Format(time.RFC3339))
		}
	}
	if c := report.Calendar; c != nil {
		_, _ = fmt.Fprintf(w, "calendar breaker\t%s\tfailures=%d\n", c.State, c.ConsecutiveFailures)
	}
	_ = w.Flush()

	if report.SystemStatus == health.StatusCritical {
		os.Exit(1)
	}
}
