package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"backend-skitrip/internal/client"
	"backend-skitrip/internal/members"
	"backend-skitrip/internal/tracking"
	"backend-skitrip/internal/trip"

	"github.com/spf13/cobra"
)

// runFor blocks until ctx ends or d elapses; d <= 0 waits for ctx only.
func runFor(ctx context.Context, d time.Duration) {
	if d <= 0 {
		<-ctx.Done()
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func watchCmd(open opener) *cobra.Command {
	var dur time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the group: positions, activity and SOS alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, open, func(e *env, eng *client.Engine) error {
				if eng.Sync.ActiveTripID() == "" {
					return trip.ErrNoActiveTrip
				}
				out := cmd.OutOrStdout()
				eng.SOS.OnRaise(func(v members.View) {
					fmt.Fprintf(out, "!!! SOS from %s %s\n", v.Name, coords(v))
				})
				eng.SOS.OnClear(func() { fmt.Fprintln(out, "SOS cleared") })
				defer eng.WatchMembers(func(views []members.View) { printMembers(out, views) })()

				stopEvents := eng.Sync.Watch(func(ev trip.Event) {
					switch ev.Kind {
					case trip.EventEvicted:
						fmt.Fprintf(out, "Trip %s was deleted\n", ev.TripID)
					case trip.EventConfig:
						if ev.State.Config != nil {
							fmt.Fprintf(out, "Trip config: %s\n", ev.State.Config.ResortName)
						}
					}
				})
				defer stopEvents()

				runFor(cmd.Context(), dur)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&dur, "for", 0, "Stop after this long (default: until interrupted)")
	return cmd
}

func printMembers(out io.Writer, views []members.View) {
	sorted := append([]members.View(nil), views...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	fmt.Fprintf(out, "-- %d member(s) --\n", len(sorted))
	for _, v := range sorted {
		fmt.Fprintf(out, "  %-20s %-12s %s\n", v.Name, v.Status.LocationLabel, coords(v))
	}
}

func coords(v members.View) string {
	if v.Coordinates == nil {
		return "(no location)"
	}
	return fmt.Sprintf("(%.5f, %.5f)", v.Coordinates.Lat, v.Coordinates.Lng)
}

func sosCmd(open opener) *cobra.Command {
	var clearIt bool
	cmd := &cobra.Command{
		Use:   "sos",
		Short: "Send an SOS to the group, or clear it with --clear",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, open, func(_ *env, eng *client.Engine) error {
				if eng.Sync.ActiveTripID() == "" {
					return trip.ErrNoActiveTrip
				}
				if clearIt {
					eng.ClearSOS(cmd.Context())
					fmt.Fprintln(cmd.OutOrStdout(), "SOS cleared")
					return nil
				}
				eng.RaiseSOS(cmd.Context())
				fmt.Fprintln(cmd.OutOrStdout(), "SOS signal sent")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearIt, "clear", false, "Clear a previously sent SOS")
	return cmd
}

func rideCmd(open opener) *cobra.Command {
	var dur time.Duration
	cmd := &cobra.Command{
		Use:   "ride",
		Short: "Record a ride until interrupted, then save it to history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, open, func(_ *env, eng *client.Engine) error {
				if eng.Sync.ActiveTripID() == "" {
					return trip.ErrNoActiveTrip
				}
				out := cmd.OutOrStdout()
				if err := eng.StartRide(); err != nil {
					return err
				}
				fmt.Fprintf(out, "Recording (every %s)...\n", eng.Publisher.Interval())
				runFor(cmd.Context(), dur)

				// the command context may already be cancelled by the interrupt
				rec, err := eng.StopRide(context.WithoutCancel(cmd.Context()))
				if errors.Is(err, tracking.ErrRideTooShort) {
					fmt.Fprintln(out, "Ride too short to save")
					return nil
				}
				if rec.ID != "" {
					printRide(out, rec)
				}
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&dur, "for", 0, "Stop after this long (default: until interrupted)")
	return cmd
}

func printRide(out io.Writer, rec tracking.RideRecord) {
	s := tracking.Summarize(rec)
	fmt.Fprintf(out, "%s  %6.2f km  %s  %5.1f km/h  %d points\n",
		rec.StartTime.Local().Format("2006-01-02 15:04"), s.DistanceKm,
		(time.Duration(s.DurationSec) * time.Second).String(), s.AverageSpeedKmh, s.PointCount)
}
