package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// resetTimeout bounds a reset; TRUNCATE on a busy table can wait on locks.
const resetTimeout = 30 * time.Second

func newResetCmd(sf *storeFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every stored call",
		Long: `Delete every row from call_records. The schema is left in place.
This cannot be undone, so --yes is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete all calls without --yes")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), resetTimeout)
			defer cancel()

			st, err := sf.open(ctx, false)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.Reset(ctx)
			if err != nil {
				return err
			}
			sf.logger.Info("call store reset", "driver", sf.driver, "deleted", n)
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d calls (%s)\n", n, sf.driver)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting all calls")
	return cmd
}
