package console

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// DefaultAddr is the loopback address the console binds when none is
// configured.
const DefaultAddr = "127.0.0.1:8080"

// Serve mounts the protected views and runs the console HTTP server until
// ctx ends.
func (a *App) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	views := a.MountViews(ctx)
	defer views.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Router(views, RouterOptions{AllowedOrigins: a.cfg.AllowedOrigins}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", addr).Msg("starting crmdash console")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("shutdown server")
		return err
	}
	return nil
}
