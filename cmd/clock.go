package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/calendar"
)

var inCmd = &cobra.Command{
	Use:     "in",
	Aliases: []string{"clock-in"},
	Short:   "Clock in",
	Args:    cobra.NoArgs,
	RunE:    runIn,
}

var outCmd = &cobra.Command{
	Use:     "out",
	Aliases: []string{"clock-out"},
	Short:   "Clock out of the running shift",
	Args:    cobra.NoArgs,
	RunE:    runOut,
}

func runIn(cmd *cobra.Command, args []string) error {
	return withTracker(cmd, func(ctx context.Context, t tracker) error {
		punch, err := t.ClockIn(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Clocked in at %s\n", punch.At(t.Location()).Format("15:04:05"))
		return nil
	})
}

func runOut(cmd *cobra.Command, args []string) error {
	return withTracker(cmd, func(ctx context.Context, t tracker) error {
		punch, err := t.ClockOut(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if punch.SplitDay != "" {
			fmt.Fprintf(out, "Shift split at midnight: %s total %s\n",
				punch.SplitDay, calendar.FormatHours(punch.SplitTotal))
		}
		fmt.Fprintf(out, "Clocked out at %s, today: %s\n",
			punch.At(t.Location()).Format("15:04:05"), calendar.FormatHours(punch.TotalShiftTime))
		return nil
	})
}
