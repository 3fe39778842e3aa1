package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/tallyctl/internal/observability"
	"github.com/danmuck/tallyctl/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// Source is the live session view the server reports on.
type Source interface {
	Status() session.Status
	Count(nodeID string) (uint64, bool)
}

// Server exposes read-only session state over HTTP.
type Server struct {
	Addr    string
	Started time.Time

	source Source
	router *gin.Engine
}

func New(addr string, source Source, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestObserver(log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:    addr,
		Started: time.Now(),
		source:  source,
		router:  r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		st := s.source.Status()
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"session": st.ID,
			"state":   st.State,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/counters", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.source.Status())
	})

	s.router.GET("/counters/:node", func(c *gin.Context) {
		node := c.Param("node")
		count, ok := s.source.Count(node)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "node not found", "node": node})
			return
		}
		c.JSON(http.StatusOK, gin.H{"node": node, "count": count})
	})
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Msgf("status.Server.Serve listening addr=%q", ln.Addr().String())

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
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Msgf("status.Server.Serve shutdown err=%v", err)
		return err
	}
	log.Info().Msg("status.Server.Serve stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
