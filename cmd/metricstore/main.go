// metricstore is the filesystem metric store daemon and command-line tool.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	defaults "github.com/xtxerr/metricstore/config"
	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/logging"
	"github.com/xtxerr/metricstore/internal/storage"
	"github.com/xtxerr/metricstore/internal/storage/config"
)

// Version is set at build time via ldflags
var Version = "dev"

var log = logging.Component("cli")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "metricstore",
		Short:        "Filesystem time-series metric store",
		Long:         "metricstore keeps metric records in per-minute files, compacts finished days into archives and serves them over HTTP.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogging(cmd)
		},
	}

	root.PersistentFlags().String("config", "", "config file path (or "+defaults.EnvConfigPath+" env)")
	root.PersistentFlags().String("data-dir", "", "data directory (overrides config)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "log format: text, json")

	root.AddCommand(
		newServeCommand(),
		newWriteCommand(),
		newReadCommand(),
		newDigestCommand(),
		newDaysCommand(),
		newCompressCommand(),
		newExpandCommand(),
		newExportCommand(),
		newQueryCommand(),
		newRetentionCommand(),
		newStatsCommand(),
		newConfigCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "metricstore", Version)
			},
		},
	)
	return root
}

// =============================================================================
// Configuration
// =============================================================================

// loadConfig reads the config file named by --config or the environment.
// Without either, the defaults are used.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv(defaults.EnvConfigPath)
	}

	var cfg *config.Config
	if path == "" {
		cfg = config.DefaultConfig()
	} else {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnv()
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	return cfg, nil
}

// initLogging sends logs to stderr so that stdout carries only results.
func initLogging(cmd *cobra.Command) error {
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")

	if level == "" || format == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if level == "" {
			level = cfg.Logging.Level
		}
		if format == "" {
			format = cfg.Logging.Format
		}
	}

	parsed, err := logging.ParseLevel(level)
	if err != nil {
		return err
	}
	logging.InitWriter(cmd.ErrOrStderr(), parsed, format == "json")
	return nil
}

// openStore loads the configuration and opens every bucket.
func openStore(cmd *cobra.Command) (*storage.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return storage.New(cfg)
}

// withStore opens the store, runs fn and closes the store.
func withStore(cmd *cobra.Command, fn func(s *storage.Store) error) (err error) {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(s)
}

// =============================================================================
// Output
// =============================================================================

// printer writes JSON values, indented on a terminal and one per line
// otherwise.
type printer struct {
	w      io.Writer
	indent bool
}

func newPrinter(w io.Writer) *printer {
	f, ok := w.(*os.File)
	return &printer{w: w, indent: ok && term.IsTerminal(int(f.Fd()))}
}

func (p *printer) print(v any) error {
	var b []byte
	var err error
	if p.indent {
		b, err = json.MarshalIndent(v, "", "  ")
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	b = append(b, '\n')
	_, err = p.w.Write(b)
	return err
}

// requireFlag returns the value of a string flag or a missing field error.
func requireFlag(cmd *cobra.Command, name string) (string, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return "", errors.NewMissingField("--" + name)
	}
	return v, nil
}
