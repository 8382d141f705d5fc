package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/athena/internal/control"
	"github.com/vietddude/athena/internal/core/config"
	"github.com/vietddude/athena/internal/core/domain"
	"github.com/vietddude/athena/internal/scheduling"
)

var (
	slotsDuration int
	slotsCount    int
	slotsDays     int
	slotsCalendar string
	slotsJSON     bool
)

var slotsCmd = &cobra.Command{
	Use:   "slots [manager_id]",
	Short: "List free meeting slots for a manager",
	Args:  cobra.MaximumNArgs(1),
	Run:   runSlots,
}

func init() {
	slotsCmd.Flags().IntVar(&slotsDuration, "duration", 0, "meeting length in minutes (default: preference)")
	slotsCmd.Flags().IntVar(&slotsCount, "count", 0, "number of slots (default: scheduling.max_suggestions)")
	slotsCmd.Flags().IntVar(&slotsDays, "days", 0, "days to search (default: scheduling.search_days)")
	slotsCmd.Flags().StringVar(&slotsCalendar, "calendar", "", "calendar id (default: scheduling.calendar_id)")
	slotsCmd.Flags().BoolVar(&slotsJSON, "json", false, "print ISO-8601 JSON")
	rootCmd.AddCommand(slotsCmd)
}

func runSlots(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	app, cfg := openApp(ctx)
	defer func() {
		_ = app.Stop(ctx)
	}()

	managerID := cfg.Scheduling.ManagerID
	if len(args) == 1 {
		managerID = args[0]
	}
	calendarID := orDefault(slotsCalendar, cfg.Scheduling.CalendarID)
	days := orDefaultInt(slotsDays, cfg.Scheduling.SearchDays)
	count := orDefaultInt(slotsCount, cfg.Scheduling.MaxSuggestions)

	prefs, err := loadPreferences(ctx, app, cfg, managerID)
	if err != nil {
		slog.Error("Failed to load preferences", "manager", managerID, "error", err)
		os.Exit(1)
	}
	loc, err := prefs.Location()
	if err != nil {
		slog.Error("Invalid preference time zone", "error", err)
		os.Exit(1)
	}

	window := scheduling.NextDays(time.Now(), days)
	busy, err := app.Calendar().BusyIntervals(ctx, calendarID, window.Start, window.End)
	if err != nil {
		slog.Error("Failed to read calendar", "calendar", calendarID, "error", err)
		os.Exit(1)
	}

	slots, err := scheduling.FindSlots(busy, prefs, slotsDuration, count, window)
	if err != nil {
		slog.Error("Failed to find slots", "error", err)
		os.Exit(1)
	}

	if slotsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(scheduling.FormatISO(slots, loc))
		return
	}

	if len(slots) == 0 {
		fmt.Printf("No free slots in the next %d days.\n", days)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tSLOT")
	for i, s := range slots {
		_, _ = fmt.Fprintf(w, "%d\t%s\n", i+1, scheduling.FormatHuman(s, loc))
	}
	_ = w.Flush()
}

// loadPreferences returns stored preferences or the configured defaults.
func loadPreferences(
	ctx context.Context,
	app *control.App,
	cfg *config.AppConfig,
	managerID string,
) (domain.SchedulingPreferences, error) {
	p, err := scheduling.Lookup(ctx, app.Preferences(), managerID)
	if errors.Is(err, scheduling.ErrPreferencesNotFound) {
		return cfg.DefaultPreferences(managerID)
	}
	return p, err
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
