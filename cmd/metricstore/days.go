package main

import (
	"github.com/spf13/cobra"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/server"
	"github.com/xtxerr/metricstore/internal/storage"
	"github.com/xtxerr/metricstore/internal/storage/bucket"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

// dayInfo is one line of the days listing.
type dayInfo struct {
	Bucket string `json:"bucket"`
	Day    string `json:"day"`
	State  string `json:"state"`
	Files  int    `json:"files"`
	Bytes  int64  `json:"bytes"`
}

func newDaysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "days",
		Short: "List the days of a bucket with their on-disk state",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireFlag(cmd, "bucket")
			if err != nil {
				return err
			}
			return withStore(cmd, func(s *storage.Store) error {
				days, err := s.Days(name)
				if err != nil {
					return err
				}
				p := newPrinter(cmd.OutOrStdout())
				for _, pf := range days {
					info := dayInfo{Bucket: name, Day: pf.Day().Format(types.DayLayout)}
					err := s.WithBucket(name, func(b *bucket.Writable) error {
						state, err := b.DayState(pf)
						if err != nil {
							return err
						}
						info.State = state.String()
						info.Files, info.Bytes, err = b.DayUsage(pf)
						return err
					})
					if err != nil {
						return err
					}
					if err := p.print(info); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringP("bucket", "b", "", "bucket name")
	return cmd
}

func newCompressCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compress",
		Short: "Compress one day, or every day before a cutoff",
		Long: "Compress merges the per-minute files of a day into a single archive.\n" +
			"With --before and no --bucket every bucket is compacted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("bucket")
			day, _ := cmd.Flags().GetString("day")
			before, _ := cmd.Flags().GetString("before")

			if (day == "") == (before == "") {
				return errors.NewValidation("flags", "exactly one of --day and --before is required")
			}

			return withStore(cmd, func(s *storage.Store) error {
				if day != "" {
					if name == "" {
						return errors.NewMissingField("--bucket")
					}
					t, err := parseDay(s, name, "day", day)
					if err != nil {
						return err
					}
					return s.Compress(name, t)
				}

				names := []string{name}
				if name == "" {
					names = s.BucketNames()
				}
				var errs []error
				for _, n := range names {
					cutoff, err := parseDay(s, n, "before", before)
					if err == nil {
						err = s.CompressBefore(n, cutoff)
					}
					if err != nil {
						log.Warn("compress failed", "bucket", n, "error", err)
						errs = append(errs, err)
					}
				}
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().StringP("bucket", "b", "", "bucket name")
	cmd.Flags().String("day", "", "day to compress (YYYY-MM-DD)")
	cmd.Flags().String("before", "", "compress every day before this day (YYYY-MM-DD)")
	return cmd
}

func newExpandCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Expand a day archive back into per-minute files",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireFlag(cmd, "bucket")
			if err != nil {
				return err
			}
			v, _ := cmd.Flags().GetString("day")
			return withStore(cmd, func(s *storage.Store) error {
				day, err := parseDay(s, name, "day", v)
				if err != nil {
					return err
				}
				return s.Expand(name, day)
			})
		},
	}
	cmd.Flags().StringP("bucket", "b", "", "bucket name")
	cmd.Flags().String("day", "", "day to expand (YYYY-MM-DD)")
	return cmd
}

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a day to a parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireFlag(cmd, "bucket")
			if err != nil {
				return err
			}
			v, _ := cmd.Flags().GetString("day")
			out, _ := cmd.Flags().GetString("out")
			return withStore(cmd, func(s *storage.Store) error {
				day, err := parseDay(s, name, "day", v)
				if err != nil {
					return err
				}

				var resp server.ExportResponse
				if out != "" {
					resp.Path = out
					resp.Rows, err = s.ExportTo(cmd.Context(), name, day, out)
				} else {
					resp.Path, resp.Rows, err = s.Export(cmd.Context(), name, day)
				}
				if err != nil {
					return err
				}
				return newPrinter(cmd.OutOrStdout()).print(resp)
			})
		},
	}
	cmd.Flags().StringP("bucket", "b", "", "bucket name")
	cmd.Flags().String("day", "", "day to export (YYYY-MM-DD)")
	cmd.Flags().StringP("out", "o", "", "output file (default: export directory)")
	return cmd
}
