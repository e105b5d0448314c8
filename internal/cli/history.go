package cli

import (
	"errors"
	"fmt"

	"backend-skitrip/internal/tracking"

	"github.com/spf13/cobra"
)

func historyCmd(open opener) *cobra.Command {
	var clearIt, yes bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded rides, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			rec := tracking.NewRecorder(e.kv, e.logger)
			defer rec.Close()
			out := cmd.OutOrStdout()

			if clearIt {
				if !yes {
					return errors.New("this deletes every recorded ride; pass --yes to confirm")
				}
				if err := rec.ClearHistory(cmd.Context(), true); err != nil {
					return err
				}
				fmt.Fprintln(out, "Ride history cleared")
				return nil
			}

			rides, err := rec.History(cmd.Context())
			if err != nil {
				return err
			}
			if len(rides) == 0 {
				fmt.Fprintln(out, "No rides recorded.")
				return nil
			}
			for _, r := range rides {
				printRide(out, r)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearIt, "clear", false, "Delete all recorded rides")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm --clear")
	return cmd
}
