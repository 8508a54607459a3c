package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"foodlab/internal/adapters/httpapi"
	"foodlab/internal/watch"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web workbench, the dashboard and the import inbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), serve)
	},
}

func serve(ctx context.Context, a *app) error {
	a.aggregation.Start(ctx, a.bus)
	a.exporter.Load(ctx)

	srv, err := httpapi.New(httpapi.Services{
		Bus:         a.bus,
		Modules:     a.modules,
		Import:      a.importer,
		Aggregation: a.aggregation,
		Exporter:    a.exporter,
		Audit:       a.audit,
		Backup:      a.backup,
		Metrics:     a.prom.Handler(),
	}, httpapi.WithLogger(a.log.Named("http")))
	if err != nil {
		return err
	}
	defer srv.Close()
	var inbox *watch.Inbox
	if dir := a.cfg.Import.InboxDir; dir != "" {
		if inbox, err = watch.New(dir, a.importer, watch.WithLogger(a.log.Named("inbox"))); err != nil {
			return err
		}
	}
	hs := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("listening", zap.String("addr", hs.Addr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return hs.Shutdown(sctx)
	})
	if inbox != nil {
		g.Go(func() error { return inbox.Run(gctx) })
	}
	return g.Wait()
}
