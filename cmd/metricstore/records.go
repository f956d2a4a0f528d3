package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/server"
	"github.com/xtxerr/metricstore/internal/storage"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

func newWriteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write NDJSON records from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireFlag(cmd, "bucket")
			if err != nil {
				return err
			}
			return withStore(cmd, func(s *storage.Store) error {
				n, err := writeRecords(s, name, cmd.InOrStdin())
				if perr := newPrinter(cmd.OutOrStdout()).print(server.WriteResponse{Written: n}); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().StringP("bucket", "b", "", "bucket name")
	return cmd
}

// writeRecords writes one record per input line and stops at the first
// failure.
func writeRecords(s *storage.Store, name string, r io.Reader) (int, error) {
	br := bufio.NewReader(r)
	written := 0
	for line := 1; ; line++ {
		b, err := br.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return written, fmt.Errorf("read input: %w", err)
		}
		if b = bytes.TrimSpace(b); len(b) > 0 {
			rec, uerr := types.DecodeRecord(b)
			if uerr != nil {
				return written, errors.NewInvalidRecord(fmt.Sprintf("line %d: %v", line, uerr))
			}
			if _, werr := s.Write(name, rec); werr != nil {
				return written, fmt.Errorf("line %d: %w", line, werr)
			}
			written++
		}
		if err == io.EOF {
			return written, nil
		}
	}
}

func newReadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print the records of a time range",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireFlag(cmd, "bucket")
			if err != nil {
				return err
			}
			return withStore(cmd, func(s *storage.Store) error {
				from, to, err := timeRange(cmd, s, name)
				if err != nil {
					return err
				}
				p := newPrinter(cmd.OutOrStdout())
				return s.Read(name, from, to, func(m types.StoredMetric) error {
					return p.print(server.RecordResponse{Timestamp: m.Timestamp, Payload: m.Payload})
				})
			})
		},
	}
	cmd.Flags().StringP("bucket", "b", "", "bucket name")
	cmd.Flags().String("from", "", "range start (RFC3339, YYYY-MM-DD or Unix ms)")
	cmd.Flags().String("to", "", "range end, exclusive")
	return cmd
}

func newDigestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Print the content digest of a day",
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
				sum, err := s.Digest(name, day)
				if err != nil {
					return err
				}
				return newPrinter(cmd.OutOrStdout()).print(server.DigestResponse{
					Day:    v,
					Digest: strconv.FormatUint(sum, 16),
				})
			})
		},
	}
	cmd.Flags().StringP("bucket", "b", "", "bucket name")
	cmd.Flags().String("day", "", "day (YYYY-MM-DD)")
	return cmd
}

// parseDay parses a YYYY-MM-DD day in the bucket's location.
func parseDay(s *storage.Store, name, field, v string) (day time.Time, err error) {
	b, err := s.Bucket(name)
	if err != nil {
		return day, err
	}
	return types.ParseDay(field, v, b.Data().Loc())
}

// timeRange parses --from and --to in the bucket's location.
func timeRange(cmd *cobra.Command, s *storage.Store, name string) (from, to time.Time, err error) {
	b, err := s.Bucket(name)
	if err != nil {
		return from, to, err
	}
	loc := b.Data().Loc()

	v, _ := cmd.Flags().GetString("from")
	if from, err = types.ParseTime("from", v, loc); err != nil {
		return from, to, err
	}
	v, _ = cmd.Flags().GetString("to")
	if to, err = types.ParseTime("to", v, loc); err != nil {
		return from, to, err
	}
	if !from.Before(to) {
		return from, to, errors.NewValidation("range", "from must be before to")
	}
	return from, to, nil
}
