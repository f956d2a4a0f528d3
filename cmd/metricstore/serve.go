package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/metrics"
	"github.com/xtxerr/metricstore/internal/server"
	"github.com/xtxerr/metricstore/internal/storage"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API with background compaction and retention",
		Aliases: []string{"run"},
		RunE:    runServe,
	}
	cmd.Flags().String("listen", "", "listen address (overrides config)")
	cmd.Flags().Bool("no-tls", false, "disable TLS")
	cmd.Flags().String("tls-cert", "", "TLS certificate file")
	cmd.Flags().String("tls-key", "", "TLS key file")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// CLI overrides
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Server.Listen = v
	}
	if v, _ := cmd.Flags().GetString("tls-cert"); v != "" {
		cfg.Server.TLSCertFile = v
	}
	if v, _ := cmd.Flags().GetString("tls-key"); v != "" {
		cfg.Server.TLSKeyFile = v
	}
	if noTLS, _ := cmd.Flags().GetBool("no-tls"); noTLS {
		cfg.Server.TLSCertFile = ""
		cfg.Server.TLSKeyFile = ""
	}

	log.Info("metricstore starting", "version", Version, "data_dir", cfg.DataDir, "buckets", len(cfg.Buckets))

	store, err := storage.New(cfg)
	if err != nil {
		return err
	}
	if err := store.Start(); err != nil {
		store.Close()
		return err
	}

	srv, err := server.New(server.ConfigFrom(store, metrics.New(store), cfg.Server))
	if err != nil {
		store.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- srv.Run() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		log.Info("received signal, shutting down")
		runErr = srv.Shutdown(context.Background())
		if err := <-done; err != nil {
			runErr = errors.Join(runErr, err)
		}
	}

	return errors.Join(runErr, store.Close())
}
