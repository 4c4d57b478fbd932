package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/policyledger/policyledger/internal/api"
	"github.com/policyledger/policyledger/internal/metrics"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ledger over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.cfg.Log.Development {
			gin.SetMode(gin.ReleaseMode)
		}

		addr := a.cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		metrics.SetRecords(len(a.session.Records()) - 1)

		srv := &http.Server{
			Addr:    addr,
			Handler: api.NewRouter(a.session, a.logger),
		}

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("HTTP server listening",
				zap.String("addr", addr),
				zap.String("file", a.session.Path()),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case err, ok := <-errCh:
			if ok {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case sig := <-sigCh:
			a.logger.Info("shutting down", zap.String("signal", sig.String()))
		}

		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownDuration())
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		if a.session.Dirty() {
			a.logger.Warn("ledger has unsaved changes", zap.String("file", a.session.Path()))
		}
		return nil
	},
}
