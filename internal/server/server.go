package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/loongquant/loong/internal/app"
	"github.com/loongquant/loong/internal/common"
)

// Write timeout is generous because combined-view and batch endpoints can
// fan out to several providers on a cold cache.
const (
	readTimeout  = 30 * time.Second
	writeTimeout = 300 * time.Second
	idleTimeout  = 60 * time.Second
)

// Server serves the REST API over the application container.
type Server struct {
	app          *app.App
	httpServer   *http.Server
	logger       *common.Logger
	shutdownChan chan struct{}
}

// NewServer builds the route table, wraps it in the middleware chain and
// binds it to the configured address.
func NewServer(a *app.App) *Server {
	s := &Server{app: a, logger: a.Logger}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	addr := net.JoinHostPort(a.Config.Server.Host, strconv.Itoa(a.Config.Server.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      applyMiddleware(mux, a.Logger, a.Config),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// SetShutdownChannel wires the channel the shutdown endpoint signals.
func (s *Server) SetShutdownChannel(ch chan struct{}) {
	s.shutdownChan = ch
}

// Handler exposes the fully wrapped handler for httptest use.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens and serves until Shutdown; it blocks the caller.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("REST API listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
