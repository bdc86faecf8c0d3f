package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/calendar"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/model"
)

var (
	listDay       string
	listYesterday bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the shifts of one day",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listDay, "day", "", "Day to show (YYYY-MM-DD, default today)")
	listCmd.Flags().BoolVar(&listYesterday, "yesterday", false, "Show yesterday's shifts")
}

func runList(cmd *cobra.Command, args []string) error {
	return withTracker(cmd, func(ctx context.Context, t tracker) error {
		key := listDay
		if listYesterday {
			key = calendar.DayKey(time.Now().In(t.Location()).AddDate(0, 0, -1))
		}

		var (
			rec model.DayRecord
			err error
		)
		if key == "" {
			rec, err = t.Today(ctx)
		} else {
			rec, err = t.Day(ctx, key)
		}
		if err != nil {
			return err
		}
		printShifts(cmd.OutOrStdout(), rec, t.Location())
		return nil
	})
}

// printShifts prints one line per shift followed by the day total.
func printShifts(w io.Writer, rec model.DayRecord, loc *time.Location) {
	fmt.Fprintln(w, rec.Date)
	if len(rec.Shifts) == 0 {
		fmt.Fprintln(w, "  No shifts.")
		return
	}
	for _, s := range rec.Shifts {
		in := time.UnixMilli(s.InMillis).In(loc)
		if s.Open() {
			fmt.Fprintf(w, "  %s–ongoing\n", in.Format("15:04"))
			continue
		}
		out := time.UnixMilli(*s.OutMillis).In(loc)
		elapsed := (*s.OutMillis - s.InMillis) / 1000
		fmt.Fprintf(w, "  %s–%s  (%s)\n", in.Format("15:04"), out.Format("15:04"), calendar.FormatDuration(elapsed))
	}
	fmt.Fprintf(w, "  Total: %s\n", calendar.FormatHours(rec.TotalShiftTime))
}
