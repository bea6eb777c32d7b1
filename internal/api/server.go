// Package api serves the launchpad HTTP surface and the event websocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/0xredeth/launchpad/internal/index"
	"github.com/0xredeth/launchpad/internal/launch"
	"github.com/0xredeth/launchpad/internal/manage"
	"github.com/0xredeth/launchpad/internal/pubsub"
	"github.com/0xredeth/launchpad/internal/settlement"
	"github.com/0xredeth/launchpad/pkg/presale"
)

// Launcher creates and reindexes presales.
type Launcher interface {
	Create(ctx context.Context, req launch.Request) (*presale.Presale, error)
	Reindex(ctx context.Context, req launch.Request, dep launch.Deployment) (*presale.Presale, error)
}

// Operator runs operator transitions and actions.
type Operator interface {
	Actions(ctx context.Context, address string) (*manage.View, error)
	RequestTransition(ctx context.Context, address string, target presale.ManageStatus) (*manage.View, error)
	Apply(ctx context.Context, address string, kind presale.ActionKind) (*manage.View, error)
}

// Settler evaluates and executes contributor actions.
type Settler interface {
	Evaluate(ctx context.Context, presaleAddr, contributor string, reveal bool) (*settlement.Evaluation, error)
	Execute(ctx context.Context, presaleAddr, contributor string, kind presale.ActionKind, bid *settlement.BidInput) (*settlement.Evaluation, error)
}

// Deps are the collaborators of a Server.
type Deps struct {
	Index    index.Index
	Launcher Launcher
	Operator Operator
	Settler  Settler
	Events   *pubsub.Broadcaster
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Server holds the HTTP handlers.
type Server struct {
	index    index.Index
	launcher Launcher
	operator Operator
	settler  Settler
	events   *pubsub.Broadcaster
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a Server.
func New(d Deps) *Server {
	s := &Server{
		index:    d.Index,
		launcher: d.Launcher,
		operator: d.Operator,
		settler:  d.Settler,
		events:   d.Events,
		logger:   d.Logger.With().Str("component", "api").Logger(),
		now:      d.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws", s.stream)

	api := router.Group("/api")
	registerPresaleRoutes(api, s)
	registerTokenRoutes(api, s)
	api.GET("/stats", s.stats)

	return router
}

func registerPresaleRoutes(router *gin.RouterGroup, s *Server) {
	presales := router.Group("/presales")
	{
		presales.POST("", s.createPresale)
		presales.POST("/reindex", s.reindexPresale)
		presales.GET("", s.listPresales)
		presales.GET("/:address", s.getPresale)
		presales.PATCH("/:address/status", s.transitionPresale)
		presales.GET("/:address/manage-actions", s.manageActions)
		presales.POST("/:address/manage-actions/:action", s.applyManageAction)
		presales.GET("/:address/settlement/:contributor", s.evaluateSettlement)
		presales.POST("/:address/settlement/:contributor/:action", s.executeSettlement)
	}
}

func registerTokenRoutes(router *gin.RouterGroup, s *Server) {
	tokens := router.Group("/tokens")
	{
		tokens.POST("", s.registerToken)
		tokens.GET("", s.listTokens)
		tokens.GET("/:address", s.getToken)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request served")
	}
}

// Serve runs the HTTP server on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}
