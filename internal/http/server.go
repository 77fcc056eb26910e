// README: API server; owns the http.Server and shuts it down with the context.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"coursier/internal/http/handlers"
	"coursier/internal/infra"
	"coursier/internal/logger"
	"coursier/internal/modules/driver"
	"coursier/internal/modules/order"
	"coursier/internal/modules/payment"
	"coursier/internal/modules/rating"
	"coursier/internal/modules/settlement"
	"coursier/internal/modules/user"
)

const shutdownTimeout = 10 * time.Second

type ServerDeps struct {
	Orders      *order.Service
	Drivers     *driver.Service
	Payments    *payment.Service
	Settlements *settlement.Service
	Users       *user.Service
	Ratings     *rating.Service
	Verifier    infra.TokenVerifier
	// Issuer is nil when tokens come from an external provider.
	Issuer handlers.TokenIssuer
	Log    logger.ILogger
}

type Server struct {
	srv *http.Server
	log logger.ILogger
}

func NewServer(addr string, deps ServerDeps) *Server {
	log := deps.Log
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(deps),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logger.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.log.Info("http server shutting down")
	return s.srv.Shutdown(shutdownCtx)
}
