package admin

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Server is a net/http server around the admin router.
type Server struct {
	srv    *http.Server
	logger Logger
}

func NewServer(addr string, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(opts),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: opts.Logger,
	}
}

// Run blocks until the server stops. A graceful Shutdown is not an error.
func (s *Server) Run() error {
	s.logger.Info("admin server listening", map[string]interface{}{"addr": s.srv.Addr})
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
