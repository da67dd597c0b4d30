package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatlink/internal/devserver"
)

func newDevserverCmd(a *app) *cobra.Command {
	var port int
	var toolkits []string
	var authBase string
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a scripted chat backend for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("port") {
				port = a.cfg.DevserverPort
			}

			srv := devserver.NewServer(devserver.Options{
				Toolkits:       toolkits,
				AuthBaseURL:    authBase,
				PingInterval:   a.cfg.PingInterval,
				WriteTimeout:   a.cfg.WriteTimeout,
				MaxMessageSize: a.cfg.MaxMessageSize,
			}, a.logger)

			addr := fmt.Sprintf(":%d", port)
			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case err := <-errCh:
				return fmt.Errorf("dev backend failed: %w", err)
			case <-quit:
			case <-cmd.Context().Done():
			}

			a.logger.Info("shutting down dev backend")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				a.logger.Error("dev backend forced to shutdown", zap.Error(err))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 8000, "listen port (defaults to DEVSERVER_PORT)")
	cmd.Flags().StringSliceVar(&toolkits, "toolkit", []string{"gmail"}, "toolkits that require authorization")
	cmd.Flags().StringVar(&authBase, "auth-base-url", "", "base URL for authorization links (defaults to the request host)")
	return cmd
}
