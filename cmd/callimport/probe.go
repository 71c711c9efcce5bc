package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProbeCmd(sf *storeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check that the call store is reachable",
		Long: `Ping the call store and report how many calls it holds. Exits non-zero
when the store cannot be reached or the schema is missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := sf.open(ctx, false)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Ping(ctx); err != nil {
				return fmt.Errorf("ping %s store: %w", sf.driver, err)
			}
			n, err := st.CountCalls(ctx)
			if err != nil {
				return fmt.Errorf("count calls: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s store reachable, %d calls stored\n", sf.driver, n)
			return nil
		},
	}
}
