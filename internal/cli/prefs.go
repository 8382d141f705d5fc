package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/athena/internal/control"
	"github.com/vietddude/athena/internal/core/config"
	"github.com/vietddude/athena/internal/core/domain"
	"github.com/vietddude/athena/internal/scheduling"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change a manager's scheduling preferences",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get [manager_id]",
	Short: "Show preferences",
	Args:  cobra.MaximumNArgs(1),
	Run:   runPrefsGet,
}

var prefsSetCmd = &cobra.Command{
	Use:   "set [manager_id]",
	Short: "Update preferences; unset flags keep their current value",
	Args:  cobra.MaximumNArgs(1),
	Run:   runPrefsSet,
}

var prefsResetCmd = &cobra.Command{
	Use:   "reset [manager_id]",
	Short: "Delete stored preferences so the configured defaults apply",
	Args:  cobra.MaximumNArgs(1),
	Run:   runPrefsReset,
}

var (
	prefStart        int
	prefEnd          int
	prefBufferBefore int
	prefBufferAfter  int
	prefDuration     int
	prefDays         []string
	prefTimeZone     string
)

func init() {
	f := prefsSetCmd.Flags()
	f.IntVar(&prefStart, "start", 0, "work start hour (0-23)")
	f.IntVar(&prefEnd, "end", 0, "work end hour (1-24)")
	f.IntVar(&prefBufferBefore, "buffer-before", 0, "minutes kept free before meetings")
	f.IntVar(&prefBufferAfter, "buffer-after", 0, "minutes kept free after meetings")
	f.IntVar(&prefDuration, "duration", 0, "default meeting length in minutes")
	f.StringSliceVar(&prefDays, "days", nil, "working days, e.g. mon,tue,wed")
	f.StringVar(&prefTimeZone, "tz", "", "IANA time zone, e.g. Europe/Berlin")

	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd, prefsResetCmd)
	rootCmd.AddCommand(prefsCmd)
}

// openApp loads config and builds the app without starting background work.
func openApp(ctx context.Context) (*control.App, *config.AppConfig) {
	cfg := loadConfig()
	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize Athena", "error", err)
		os.Exit(1)
	}
	return app, cfg
}

func managerArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return ""
}

func runPrefsGet(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	app, cfg := openApp(ctx)
	defer func() {
		_ = app.Stop(ctx)
	}()

	managerID := orDefault(managerArg(args), cfg.Scheduling.ManagerID)
	prefs, err := scheduling.Lookup(ctx, app.Preferences(), managerID)
	if errors.Is(err, scheduling.ErrPreferencesNotFound) {
		fmt.Println("No stored preferences; showing configured defaults.")
		prefs, err = cfg.DefaultPreferences(managerID)
	}
	if err != nil {
		slog.Error("Failed to load preferences", "manager", managerID, "error", err)
		os.Exit(1)
	}
	printPreferences(&prefs)
}

func runPrefsSet(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	app, cfg := openApp(ctx)
	defer func() {
		_ = app.Stop(ctx)
	}()

	managerID := orDefault(managerArg(args), cfg.Scheduling.ManagerID)
	prefs, err := loadPreferences(ctx, app, cfg, managerID)
	if err != nil {
		slog.Error("Failed to load preferences", "manager", managerID, "error", err)
		os.Exit(1)
	}

	f := cmd.Flags()
	if f.Changed("start") {
		prefs.WorkStartHour = prefStart
	}
	if f.Changed("end") {
		prefs.WorkEndHour = prefEnd
	}
	if f.Changed("buffer-before") {
		prefs.BufferBefore = prefBufferBefore
	}
	if f.Changed("buffer-after") {
		prefs.BufferAfter = prefBufferAfter
	}
	if f.Changed("duration") {
		prefs.DefaultDuration = prefDuration
	}
	if f.Changed("tz") {
		prefs.TimeZone = prefTimeZone
	}
	if f.Changed("days") {
		days, err := scheduling.ParseWeekdays(prefDays)
		if err != nil {
			slog.Error("Invalid working days", "error", err)
			os.Exit(1)
		}
		prefs.WorkingDays = days
	}

	if err := scheduling.Validate(prefs); err != nil {
		slog.Error("Invalid preferences", "error", err)
		os.Exit(1)
	}
	if err := app.Preferences().Save(ctx, &prefs); err != nil {
		slog.Error("Failed to save preferences", "error", err)
		os.Exit(1)
	}

	slog.Info("Preferences saved", "manager", managerID)
	printPreferences(&prefs)
}

func runPrefsReset(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	app, cfg := openApp(ctx)
	defer func() {
		_ = app.Stop(ctx)
	}()

	managerID := orDefault(managerArg(args), cfg.Scheduling.ManagerID)
	if err := app.Preferences().Delete(ctx, managerID); err != nil {
		slog.Error("Failed to delete preferences", "manager", managerID, "error", err)
		os.Exit(1)
	}
	slog.Info("Preferences deleted", "manager", managerID)
}

func printPreferences(p *domain.SchedulingPreferences) {
	days := make([]string, 0, len(p.WorkingDays))
	for _, d := range p.WorkingDays {
		days = append(days, d.String()[:3])
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintf(w, "MANAGER\t%s\n", p.ManagerID)
	_, _ = fmt.Fprintf(w, "HOURS\t%02d:00-%02d:00\n", p.WorkStartHour, p.WorkEndHour)
	_, _ = fmt.Fprintf(w, "DAYS\t%s\n", strings.Join(days, ","))
	_, _ = fmt.Fprintf(w, "BUFFER\t%d min before, %d min after\n", p.BufferBefore, p.BufferAfter)
	_, _ = fmt.Fprintf(w, "DURATION\t%d min\n", p.DefaultDuration)
	_, _ = fmt.Fprintf(w, "TIMEZONE\t%s\n", p.TimeZone)
	_ = w.Flush()
}
