package main

import (
	"fmt"

	"github.com/Kundhave/Sakhi/internal/store"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if list, _ := cmd.Flags().GetBool("list"); list {
				names, err := store.MigrationNames()
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			cfg, logger, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			dbpool, err := openPool(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer dbpool.Close()

			applied, err := store.ApplyMigrations(cmd.Context(), dbpool, logger)
			if err != nil {
				return fmt.Errorf("failed to apply migrations: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return nil
		},
	}

	cmd.Flags().Bool("list", false, "Print the embedded migrations without touching the database")
	return cmd
}
