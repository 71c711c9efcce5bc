package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(sf *storeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the call_records schema",
		Long: `Create the call_records table and its indexes if they do not exist.
Safe to run repeatedly.

Examples:
  callimport migrate --dsn postgres://localhost/calls
  callimport migrate --sink sqlite --sqlite-path calls.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := sf.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", sf.driver)
			return nil
		},
	}
}
