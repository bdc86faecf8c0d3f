package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/calendar"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running shift and today's total",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withTracker(cmd, func(ctx context.Context, t tracker) error {
		rec, err := t.Today(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		loc := t.Location()

		if i := rec.OpenShift(); i >= 0 {
			printRunning(out, time.UnixMilli(rec.Shifts[i].InMillis).In(loc), "")
		} else {
			// A shift started before midnight is still running until it is
			// clocked out and split.
			yesterday, err := t.Day(ctx, calendar.DayKey(time.Now().In(loc).AddDate(0, 0, -1)))
			if err != nil {
				return err
			}
			if i := yesterday.OpenShift(); i >= 0 {
				printRunning(out, time.UnixMilli(yesterday.Shifts[i].InMillis).In(loc), "yesterday ")
			} else {
				fmt.Fprintln(out, "Not clocked in.")
			}
		}
		fmt.Fprintf(out, "Today: %s logged.\n", calendar.FormatHours(rec.TotalShiftTime))
		return nil
	})
}

func printRunning(w io.Writer, since time.Time, day string) {
	elapsed := int64(time.Since(since).Seconds())
	fmt.Fprintln(w, "Clocked in:")
	fmt.Fprintf(w, "  Since: %s%s\n", day, since.Format("15:04"))
	fmt.Fprintf(w, "  Elapsed: %s\n", calendar.FormatDurationHHMMSS(elapsed))
}
