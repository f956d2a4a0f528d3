package main

import (
	"github.com/spf13/cobra"

	"github.com/xtxerr/metricstore/internal/server"
	"github.com/xtxerr/metricstore/internal/storage"
	"github.com/xtxerr/metricstore/internal/storage/query"
)

func newQueryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query exported days with DuckDB",
		Long: "Query reads the parquet exports of a bucket. Days that were never\n" +
			"exported are not visible here; use read for the live store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(cmd.OutOrStdout())

			return withStore(cmd, func(s *storage.Store) error {
				if stmt, _ := cmd.Flags().GetString("sql"); stmt != "" {
					rows, err := s.Query().ExecuteSQL(cmd.Context(), stmt)
					if err != nil {
						return err
					}
					for _, row := range rows {
						if err := p.print(row); err != nil {
							return err
						}
					}
					return nil
				}

				name, err := requireFlag(cmd, "bucket")
				if err != nil {
					return err
				}
				from, to, err := timeRange(cmd, s, name)
				if err != nil {
					return err
				}
				limit, _ := cmd.Flags().GetInt("limit")
				q := query.RangeQuery{Bucket: name, Start: from, End: to, Limit: limit}

				if byMinute, _ := cmd.Flags().GetBool("by-minute"); byMinute {
					counts, err := s.Query().CountByMinute(cmd.Context(), q)
					if err != nil {
						return err
					}
					for _, c := range counts {
						if err := p.print(c); err != nil {
							return err
						}
					}
					return nil
				}

				metrics, err := s.Query().Range(cmd.Context(), q)
				if err != nil {
					return err
				}
				for _, m := range metrics {
					if err := p.print(server.RecordResponse{Timestamp: m.Timestamp, Payload: m.Payload}); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringP("bucket", "b", "", "bucket name")
	cmd.Flags().String("from", "", "range start (RFC3339, YYYY-MM-DD or Unix ms)")
	cmd.Flags().String("to", "", "range end, exclusive")
	cmd.Flags().Int("limit", 0, "maximum rows (default: query.max_rows)")
	cmd.Flags().Bool("by-minute", false, "print record counts per minute")
	cmd.Flags().String("sql", "", "run a raw SQL statement instead")
	return cmd
}
