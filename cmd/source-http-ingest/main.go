// Package main implements the source-http-ingest connector. It speaks the capture protocol
// on stdin/stdout and accepts webhooks over HTTP once the session is opened.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dsjohal14/httpingest/internal/capture"
	apihttp "github.com/dsjohal14/httpingest/internal/http"
	"github.com/dsjohal14/httpingest/internal/ledger"
	"github.com/dsjohal14/httpingest/internal/libs/config"
	"github.com/dsjohal14/httpingest/internal/libs/obs"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Version is set at build time
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "source-http-ingest",
		Short:         "Capture webhooks into collections",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	root.Flags().String("port", "", "webhook listener port (overrides SOURCE_HTTP_INGEST_PORT)")
	root.Flags().String("log-level", "", "log level (overrides LOG_LEVEL)")
	root.Flags().Duration("ack-timeout", 0, "acknowledge timeout (overrides ACK_TIMEOUT)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the connector version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(Version)
		},
	})
	return root
}

// resolveConfig loads env config, applies explicitly set flags, then validates once
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		if cfg.Port, err = flags.GetString("port"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("log-level") {
		if cfg.LogLevel, err = flags.GetString("log-level"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("ack-timeout") {
		if cfg.AckTimeout, err = flags.GetDuration("ack-timeout"); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	obs.InitLogger(cfg.LogLevel)
	logger := obs.Logger("connector")
	metrics := obs.NewMetrics()

	var store ledger.Store
	if cfg.DatabaseURL != "" {
		pg, err := openLedger(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
		logger.Info().Msg("recording webhook receipts in Postgres")
	}

	session := capture.New(capture.Config{
		ListenAddr:      cfg.ListenAddr(),
		AckTimeout:      cfg.AckTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Metrics:         metrics,
		Ledger:          store,
		Logger:          logger,
	}, os.Stdin, os.Stdout)

	logger.Info().
		Str("version", Version).
		Str("addr", cfg.ListenAddr()).
		Dur("ack_timeout", cfg.AckTimeout).
		Msg("awaiting open")

	sessionDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(sessionDone)
		return session.Run(gctx)
	})

	if addr := cfg.MetricsAddr(); addr != "" {
		admin := &http.Server{
			Addr:              addr,
			Handler:           apihttp.NewAdminRouter(apihttp.NewAdminHandler(session), metrics),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("addr", addr).Msg("starting admin server")
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-sessionDone:
			case <-gctx.Done():
			}
			sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return admin.Shutdown(sctx)
		})
	}

	return g.Wait()
}

func openLedger(ctx context.Context, connString string) (*ledger.PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	store, err := ledger.Open(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open receipt ledger: %w", err)
	}
	return store, nil
}
