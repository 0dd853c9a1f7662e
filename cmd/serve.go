package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pledge/internal/api"
	"github.com/sells-group/pledge/internal/monitoring"
	"github.com/sells-group/pledge/internal/sweep"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the accountability HTTP API",
	Long:  "Serves the commitment API. The lazy-evaluation sweep and the alert checker run alongside when their intervals are configured.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      api.NewRouter(env.Service, env.Stats, cfg.Server),
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		}

		return runServer(ctx, srv, env)
	},
}

// runServer serves until ctx is cancelled, with the background loops sharing
// the server's lifetime.
func runServer(ctx context.Context, srv *http.Server, env *appEnv) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Sweep.IntervalSecs > 0 {
		sw := sweep.New(env.Store, env.Service, cfg.Sweep)
		g.Go(func() error {
			sw.Loop(gctx, time.Duration(cfg.Sweep.IntervalSecs)*time.Second)
			return nil
		})
	}

	if cfg.Monitoring.CheckIntervalSecs > 0 {
		checker := monitoring.NewChecker(env.Stats, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
	}

	return g.Wait()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
