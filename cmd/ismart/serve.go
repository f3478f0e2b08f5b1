package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ismart-scholar/workbench/internal/api"
	"github.com/ismart-scholar/workbench/internal/events"
	"github.com/ismart-scholar/workbench/internal/storage"
	"github.com/ismart-scholar/workbench/internal/web"
)

const (
	stagingCleanupInterval = time.Hour
	stagingMaxAge          = 24 * time.Hour
)

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local companion API (upload queue, results, live events)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				a.cfg.Server.Port = port
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	staging, err := storage.NewStagingStore(a.cfg.Storage.StagingDir)
	if err != nil {
		return err
	}
	resolver, err := a.resolver()
	if err != nil {
		return err
	}
	queue, err := a.newUploadManager(a.session)
	if err != nil {
		return err
	}
	defer queue.Close()

	deps := &api.Dependencies{
		Queue:      queue,
		Session:    a.session,
		Staging:    staging,
		Resolver:   resolver,
		Bus:        a.bus,
		Logger:     a.logger,
		Version:    Version,
		BackendURL: a.client.BaseURL(),
	}
	if ds, ok := a.duckStore(); ok {
		deps.History = ds
	}

	g, gctx := errgroup.WithContext(ctx)

	e := api.NewServer(a.cfg.Server, deps)
	if web.HasEmbeddedFiles() {
		if err := web.RegisterStaticRoutes(e); err != nil {
			return err
		}
	}
	s := &http.Server{
		Addr:              a.cfg.GetServerAddr(),
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		// event streams end when the server shuts down
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	if a.cfg.Events.RedisAddress != "" {
		bridge, err := events.NewRedisBridge(gctx, a.cfg.Events.RedisAddress, a.cfg.Events.RedisPassword,
			a.cfg.Events.RedisChannel, a.bus, a.logger)
		if err != nil {
			return fmt.Errorf("connecting event bridge: %w", err)
		}
		defer bridge.Close()
		stopForward := bridge.Forward(gctx)
		defer stopForward()
		g.Go(func() error {
			if err := bridge.Listen(gctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.WithError(err).Warn("event bridge stopped")
			}
			return nil
		})
	}

	g.Go(func() error {
		sweep := func() {
			if n := staging.Cleanup(stagingMaxAge); n > 0 {
				a.logger.WithField("removed", n).Info("cleaned up orphaned staged files")
			}
		}
		sweep()

		ticker := time.NewTicker(stagingCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				sweep()
			}
		}
	})

	g.Go(func() error {
		a.logger.WithFields(logrus.Fields{
			"addr":    s.Addr,
			"backend": a.client.BaseURL(),
			"storage": a.cfg.Storage.Driver,
			"version": Version,
		}).Info("local API listening")
		fmt.Fprintf(a.out, "Listening on http://%s\n", s.Addr)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		queue.CancelAll()
		if err := s.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("failed to shutdown http server")
		}
		return nil
	})

	return g.Wait()
}
