package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"backend-skitrip/internal/client"
	"backend-skitrip/internal/trip"

	"github.com/spf13/cobra"
)

func loadConfigFlag(file, preset string) (trip.Config, error) {
	switch {
	case file != "" && preset != "":
		return trip.Config{}, errors.New("use either --config or --preset")
	case file != "":
		return trip.LoadConfigFile(file)
	case preset != "":
		cfg, ok := trip.Preset(preset)
		if !ok {
			return trip.Config{}, fmt.Errorf("unknown preset %q (have %s)", preset, strings.Join(trip.PresetIDs(), ", "))
		}
		return cfg, nil
	}
	return trip.Config{}, errors.New("--config or --preset is required")
}

func createCmd(open opener) *cobra.Command {
	var file, preset string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a trip and become its admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfigFlag(file, preset)
			if err != nil {
				return err
			}
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			eng, err := e.Engine(cmd.Context())
			if err != nil {
				return err
			}

			id, err := eng.CreateTrip(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created trip %s at %s\n", id, cfg.ResortName)
			fmt.Fprintf(out, "Share: %s\n", trip.ShareLink(e.cfg.ShareOrigin, id))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "config", "", "Trip config file (.json or .yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "Start from a built-in resort preset")
	return cmd
}

func joinCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "join <share-link|trip-id>",
		Short: "Join a trip from a share link or id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			eng, err := e.Engine(cmd.Context())
			if err != nil {
				return err
			}

			if _, err := eng.JoinTrip(cmd.Context(), args[0]); err != nil {
				return err
			}
			st, err := e.awaitTrip(cmd.Context(), eng)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Joined trip %s at %s\n", st.TripID, st.Config.ResortName)
			return nil
		},
	}
}

func leaveCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Leave the active trip on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, open, func(_ *env, eng *client.Engine) error {
				id := eng.Sync.ActiveTripID()
				if id == "" {
					return trip.ErrNoActiveTrip
				}
				if err := eng.LeaveTrip(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Left trip %s\n", id)
				return nil
			})
		},
	}
}

func deleteCmd(open opener) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the active trip for every member (admin only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("deleting ends the trip for everyone; pass --yes to confirm")
			}
			return withEngine(cmd, open, func(_ *env, eng *client.Engine) error {
				id := eng.Sync.ActiveTripID()
				if err := eng.DeleteTrip(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted trip %s\n", id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

func updateCmd(open opener) *cobra.Command {
	var file, preset string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace the active trip's config (admin only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfigFlag(file, preset)
			if err != nil {
				return err
			}
			return withEngine(cmd, open, func(_ *env, eng *client.Engine) error {
				if err := eng.UpdateTripConfig(cmd.Context(), cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated trip %s\n", eng.Sync.ActiveTripID())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "config", "", "Trip config file (.json or .yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "Use a built-in resort preset")
	return cmd
}

func shareCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "share",
		Short: "Print the share link of the active trip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, open, func(e *env, eng *client.Engine) error {
				id := eng.Sync.ActiveTripID()
				if id == "" {
					return trip.ErrNoActiveTrip
				}
				fmt.Fprintln(cmd.OutOrStdout(), trip.ShareLink(e.cfg.ShareOrigin, id))
				return nil
			})
		},
	}
}

func statusCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active trip, its lifts and the live resort status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, open, func(e *env, eng *client.Engine) error {
				if eng.Sync.ActiveTripID() == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "No active trip")
					return nil
				}
				st, err := e.awaitTrip(cmd.Context(), eng)
				if err != nil {
					return err
				}
				printTrip(cmd.OutOrStdout(), eng, st)
				return nil
			})
		},
	}
}

func printTrip(out io.Writer, eng *client.Engine, st trip.State) {
	cfg := st.Config
	role := "member"
	if st.IsAdmin {
		role = "admin"
	}
	fmt.Fprintf(out, "Trip %s at %s (%s)\n", st.TripID, cfg.ResortName, role)
	if st.Cached {
		fmt.Fprintln(out, "  (offline copy)")
	}
	if cfg.Hotel != nil && cfg.Hotel.Name != "" {
		fmt.Fprintf(out, "  Hotel:     %s\n", cfg.Hotel.Name)
	}
	if cfg.Emergency != nil && cfg.Emergency.ResortRescue != "" {
		fmt.Fprintf(out, "  Emergency: %s\n", cfg.Emergency.ResortRescue)
	}
	open, total := eng.Resort.LiftCounts(*cfg)
	fmt.Fprintf(out, "  Lifts:     %d/%d open\n", open, total)
	if rs, ok := eng.Resort.Status(); ok {
		if rs.Weather != "" {
			fmt.Fprintf(out, "  Weather:   %s %.0f°C\n", rs.Weather, rs.Temp)
		}
		if rs.Warning != "" {
			fmt.Fprintf(out, "  Warning:   %s\n", rs.Warning)
		}
	}
	for _, l := range cfg.Lifts {
		status, _ := eng.LiftStatus(l.ID)
		fmt.Fprintf(out, "    %-24s %-10s %s\n", l.Name, l.Type, status)
	}
}
