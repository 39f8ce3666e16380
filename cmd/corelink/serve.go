package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kiosklab/corelink/pkg/desk"
	"github.com/kiosklab/corelink/pkg/deskapi"
	"github.com/kiosklab/corelink/pkg/insight"
	"github.com/kiosklab/corelink/pkg/queue"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the desk API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
	cmd.Flags().String("addr", "", "listen address, overrides http.addr")
	viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr := viper.GetString("addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}

	up, err := newUpstreams(cfg)
	if err != nil {
		return err
	}
	defer up.Close()

	var store queue.Store
	if cfg.Database.DSN != "" {
		db, err := queue.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		pg := queue.NewPostgresStore(db)
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
		}
		store = pg
	} else {
		slog.Warn("no database configured, the queue is kept in memory")
		store = queue.NewMemoryStore()
	}

	var opts []desk.Option
	if up.loans != nil {
		opts = append(opts, desk.WithLoans(up.loans))
	}
	if cfg.Insights != nil {
		opts = append(opts, desk.WithInsights(insight.NewChatGenerator(*cfg.Insights)))
	}
	svc := desk.New(cfg.Desk(), store, up.dna, opts...)
	defer svc.Wait()

	var apiOpts []deskapi.Option
	if up.archive != nil {
		apiOpts = append(apiOpts, deskapi.WithArchive(up.archive))
	}
	e := deskapi.NewServer(deskapi.NewAPI(svc, apiOpts...))

	errCh := make(chan error, 1)
	go func() {
		slog.Info("desk api listening", "addr", cfg.HTTP.Addr, "version", Version)
		errCh <- e.Start(cfg.HTTP.Addr)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
