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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cdmkit/internal/app"
)

func main() {
	var home, config, level string
	root := &cobra.Command{
		Use:          "cdmserver",
		Short:        "Serve local devices as a remote CDM",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := app.NewLogger(cmd.ErrOrStderr(), level, true)
			if err != nil {
				return err
			}
			return run(cmd.Context(), home, config, log)
		},
	}
	root.Flags().StringVar(&home, "home", app.DefaultHome(), "state dir for paused sessions")
	root.Flags().StringVarP(&config, "config", "c", app.ServerConfigFile, "server config file")
	root.Flags().StringVar(&level, "log-level", "info", "log level")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, home, config string, log *logrus.Logger) error {
	cfg, err := app.LoadServerConfig(config)
	if err != nil {
		return err
	}
	if len(cfg.Users) == 0 {
		log.Warn("no users configured; every request will be rejected")
	}
	srv, closeStates, err := app.NewServer(cfg, home, log)
	if err != nil {
		return err
	}
	defer closeStates()

	hs := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", hs.Addr).Info("cdmserver listening")
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = hs.Shutdown(shutdown)
	srv.Shutdown(shutdown)
	return err
}
