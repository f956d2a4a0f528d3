package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xtxerr/metricstore/internal/storage"
	"github.com/xtxerr/metricstore/internal/storage/retention"
)

// cleanupInfo is the printable form of a retention result.
type cleanupInfo struct {
	Bucket       string   `json:"bucket"`
	DaysDeleted  []string `json:"days_deleted"`
	FilesDeleted int      `json:"files_deleted"`
	BytesFreed   int64    `json:"bytes_freed"`
	DaysKept     int      `json:"days_kept"`
	Errors       []string `json:"errors,omitempty"`
}

func toCleanupInfo(r retention.CleanupResult) cleanupInfo {
	info := cleanupInfo{
		Bucket:       r.Bucket,
		DaysDeleted:  r.DaysDeleted,
		FilesDeleted: r.FilesDeleted,
		BytesFreed:   r.BytesFreed,
		DaysKept:     r.DaysKept,
	}
	for _, err := range r.Errors {
		info.Errors = append(info.Errors, err.Error())
	}
	return info
}

func newRetentionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Delete days older than retention.max_age",
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			return withStore(cmd, func(s *storage.Store) error {
				var results []retention.CleanupResult
				if dryRun {
					results = s.DryRunRetention(cmd.Context())
				} else {
					results = s.RunRetention(cmd.Context())
				}

				p := newPrinter(cmd.OutOrStdout())
				var failed error
				for _, r := range results {
					if err := p.print(toCleanupInfo(r)); err != nil {
						return err
					}
					if err := r.Err(); err != nil && failed == nil {
						failed = fmt.Errorf("bucket %s: %w", r.Bucket, err)
					}
				}
				return failed
			})
		},
	}
	cmd.Flags().Bool("dry-run", false, "only report what would be deleted")
	return cmd
}

func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print bucket statistics and disk usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s *storage.Store) error {
				if usage, _ := cmd.Flags().GetBool("usage"); usage {
					_, err := fmt.Fprint(cmd.OutOrStdout(), s.FormatDiskUsage())
					return err
				}
				return newPrinter(cmd.OutOrStdout()).print(s.Stats())
			})
		},
	}
	cmd.Flags().Bool("usage", false, "print a disk usage table instead")
	return cmd
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print resource requirements",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			req := cfg.CalculateRequirements()
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK (%d buckets)\n\n%s", len(cfg.Buckets), req.FormatRequirements())
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	return cmd
}
