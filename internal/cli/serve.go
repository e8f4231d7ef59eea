package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joelkehle/casegen/internal/export"
	"github.com/joelkehle/casegen/internal/httpapi"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			opts := httpapi.Options{
				PDF:          export.NewChromiumPDF("测试用例"),
				Logger:       a.logger,
				Reflow:       a.cfg.ReflowMode(),
				MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
			}
			// Without a key the server still parses and stores offline.
			if svc, err := a.service(); err != nil {
				a.logger.Warn("generation disabled", zap.Error(err))
			} else {
				opts.Generator = svc
			}
			st, err := a.openStore(a.cfg.Store.Path)
			if err != nil {
				a.logger.Warn("requirement store disabled", zap.String("path", a.cfg.Store.Path), zap.Error(err))
			} else {
				defer st.Close()
				opts.Store = st
			}

			handler, err := httpapi.NewServer(opts)
			if err != nil {
				return err
			}
			return listen(cmd.Context(), a.logger, &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}

// listen serves until ctx is cancelled, then shuts the server down.
func listen(ctx context.Context, logger *zap.Logger, srv *http.Server) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("casegen listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
