package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"kpi-dashboard/pkg/api"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(a *app) error {
				if addr == "" {
					addr = a.cfg.HTTPAddr
				}
				return serve(cmd.Context(), a, addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: HTTP_ADDR)")
	return cmd
}

func serve(parent context.Context, a *app, addr string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	entry := logrus.NewEntry(a.log)
	access := a.log.WriterLevel(logrus.InfoLevel)
	defer access.Close()

	router, err := api.NewRouter(api.Deps{
		Engine:    a.engine,
		Loader:    a.loader,
		Store:     a.store,
		Metrics:   a.metrics.Handler(),
		AccessLog: access,
		Log:       entry,
	})
	if err != nil {
		return err
	}

	if a.bus != nil {
		sub := a.bus.Subscriber(a.engine.Invalidate)
		defer sub.Close()
		go func() {
			if err := sub.Run(ctx); err != nil {
				entry.WithError(err).Error("data-loaded subscriber stopped")
			}
		}()
	}

	srv := api.NewServer(addr, router, entry)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdown)
}
