// Package server is the network-facing listener: it accepts requests on the
// node's bind address, parses them into the shared wire format, and hands
// them to the dispatch router and the cluster managers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sumgrid/internal/cluster"
	"sumgrid/internal/observability"
)

var ErrBindFailed = errors.New("server: bind failed")

// State is the server lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateListening
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const defaultGracePeriod = 10 * time.Second

// Server owns the HTTP listener for one node. Each connection is served on
// its own goroutine by net/http, so in-flight requests never block accept.
type Server struct {
	identity cluster.Identity
	router   *gin.Engine
	logger   zerolog.Logger

	gracePeriod time.Duration
	state       atomic.Int32
}

// New builds the server with the standard middleware chain: recovery,
// request logging, request metrics, permissive CORS.
func New(identity cluster.Identity, deps Deps, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.Requests(logger, observability.NodeLabel(identity.ID)))
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies(nil)

	s := &Server{
		identity:    identity,
		router:      r,
		logger:      logger,
		gracePeriod: defaultGracePeriod,
	}
	s.state.Store(int32(StateStarting))
	s.registerRoutes(deps)
	return s
}

// State reports the current lifecycle phase.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run binds the listener and serves until ctx is cancelled, then drains
// in-flight requests within the grace period. The bind happens explicitly
// before serving so an occupied port fails fast with ErrBindFailed.
func (s *Server) Run(ctx context.Context) error {
	addr := s.identity.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("%w: %s: %v", ErrBindFailed, addr, err)
	}

	httpSrv := &http.Server{Handler: s.router}
	s.state.Store(int32(StateListening))
	s.logger.Info().Str("addr", addr).Msg("server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.state.Store(int32(StateStopped))
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.state.Store(int32(StateShuttingDown))
	s.logger.Info().Dur("grace", s.gracePeriod).Msg("draining in-flight requests")

	drainCtx, cancel := context.WithTimeout(context.Background(), s.gracePeriod)
	defer cancel()
	err = httpSrv.Shutdown(drainCtx)
	s.state.Store(int32(StateStopped))
	s.logger.Info().Msg("server stopped")
	return err
}
