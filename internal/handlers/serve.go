package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/versatilecz/evac/internal/broker"
	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/state"
)

// Serve runs the HTTP server on addr until Stop is signalled or ctx is
// done. Reload restarts the listener. A listen failure is returned.
func Serve(ctx context.Context, addr string, handler http.Handler, control *broker.Broker[state.Control]) error {
	ctl := control.Subscribe()
	defer ctl.Close()
	log := logging.Component("http")

	for {
		server := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.WithField("addr", addr).Info("HTTP server starting")
			errCh <- server.ListenAndServe()
		}()

		reload := false
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case c, ok := <-ctl.C():
			reload = ok && c == state.Reload
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP server shutdown error")
		}
		cancel()
		<-errCh

		if !reload {
			log.Info("HTTP server stopped")
			return nil
		}
		log.Info("Reloading HTTP server")
	}
}
