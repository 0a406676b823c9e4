// Package adminapi implements the pool's optional operational side-car:
// a tiny gin HTTP server exposing /healthz, /metrics (Prometheus), and
// /pool/snapshot. Grounded on internal/api/server.go's Server shape
// (router + httpServer fields, setupRoutes, Start/Shutdown), trimmed to
// the three routes this library actually needs — the teacher's
// auth/logging/metrics middleware chain and v1/v2 API surface belong to
// that application's config-reload and backfill-control surface, not a
// connection pool's.
package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kafitramarna/fibersql/datasource"
)

// Server exposes health, metrics, and a pool snapshot over HTTP.
type Server struct {
	router     *gin.Engine
	ds         *datasource.DataSource
	httpServer *http.Server
	addr       string
}

// New builds a Server bound to the given DataSource. Routes are
// registered eagerly; nothing listens until Start is called.
func New(ds *datasource.DataSource, host string, port int) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router: router,
		ds:     ds,
		addr:   fmt.Sprintf("%s:%d", host, port),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.ds.Metrics().Registry, promhttp.HandlerOpts{})))
	s.router.GET("/pool/snapshot", s.handleSnapshot)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	snap := s.ds.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"total":           snap.Total,
		"idle":            snap.Idle,
		"in_use":          snap.InUse,
		"waiting":         snap.Waiting,
		"creating":        snap.Creating,
		"closed":          snap.Closed,
		"total_created":   snap.TotalCreated,
		"total_destroyed": snap.TotalDestroyed,
		"entries":         snap.Entries,
	})
}

// Start runs the HTTP server until it errors or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
