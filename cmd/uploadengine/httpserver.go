package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// httpServer wraps http.Server so main can start it alongside the engine
// and shut it down when ctx is cancelled, without the engine package
// knowing anything about HTTP.
type httpServer struct {
	addr    string
	handler http.Handler
	logger  *zap.SugaredLogger
}

func (s *httpServer) runUntil(ctx context.Context) {
	srv := &http.Server{Addr: s.addr, Handler: s.handler}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorw("http server shutdown error", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Errorw("http server stopped unexpectedly", "error", err)
	}
}
