package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"bountyescrow/services/escrowd"
)

func newExportAuditCmd() *cobra.Command {
	var (
		out    string
		after  uint64
		verify bool
	)
	cmd := &cobra.Command{
		Use:   "export-audit",
		Short: "Write the audit trail to a parquet file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := escrowd.LoadConfig(configPath)
			if err != nil {
				return err
			}
			db, err := escrowd.OpenAuditDB(cfg.Audit.DSN)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			store, err := escrowd.NewAuditStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				return err
			}
			if verify {
				checked, err := store.Verify(cmd.Context())
				if err != nil {
					return fmt.Errorf("verify after %d rows: %w", checked, err)
				}
			}
			rows, err := store.ExportParquet(cmd.Context(), out, after)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d audit rows to %s\n", rows, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "audit.parquet", "destination parquet file")
	cmd.Flags().Uint64Var(&after, "after", 0, "only export rows with a greater sequence number")
	cmd.Flags().BoolVar(&verify, "verify", true, "check the hash chain before exporting")
	return cmd
}
