package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/questforge/encounterd/internal/logging"
)

const shutdownTimeout = 30 * time.Second

type runnable interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// serve runs srv until SIGINT or SIGTERM and then drains it.
// The log file opened by --print-logs is closed on return.
func serve(name string, port int, srv runnable) error {
	defer logging.Close()

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("service", name).Int("port", port).Msg("listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logging.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("shutdown")
		return err
	}
	logging.Info().Str("service", name).Msg("stopped")
	return nil
}
