// Package httpapi exposes the inspection modules, dashboard, export and backup
// services over HTTP and streams change events over a websocket.
package httpapi

import (
	"errors"
	"expvar"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"foodlab/internal/adapters/export"
	"foodlab/internal/adapters/modules"
	"foodlab/internal/backup"
	"foodlab/internal/core"
)

// Services are the collaborators served by the API. Import, Exporter, Audit,
// Backup and Metrics are optional; their routes answer 501 when nil.
type Services struct {
	Bus         *core.Bus
	Modules     []*modules.Module
	Import      *modules.ImportModule
	Aggregation *core.AggregationService
	Exporter    *export.Exporter
	Audit       *export.AuditLog
	Backup      *backup.Service
	Metrics     http.Handler
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the clock used to default day and month filters.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// Server is the gin engine plus its websocket hub.
type Server struct {
	svc     Services
	log     *zap.Logger
	now     func() time.Time
	engine  *gin.Engine
	hub     *Hub
	modules map[core.Category]*modules.Module
}

// New builds the router.
func New(svc Services, opts ...Option) (*Server, error) {
	if svc.Bus == nil {
		return nil, errors.New("httpapi: bus required")
	}
	if svc.Aggregation == nil {
		return nil, errors.New("httpapi: aggregation service required")
	}
	s := &Server{svc: svc, log: zap.NewNop(), now: time.Now, modules: make(map[core.Category]*modules.Module)}
	for _, opt := range opts {
		opt(s)
	}
	for _, m := range svc.Modules {
		s.modules[m.Descriptor().Category] = m
	}
	if svc.Import != nil {
		s.modules[svc.Import.Descriptor().Category] = svc.Import.Module
	}
	s.hub = NewHub(svc.Bus, s.log.Named("ws"))
	s.engine = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Close disconnects websocket clients.
func (s *Server) Close() { s.hub.Close() }

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	r.Use(cors.New(config))
	r.SetHTMLTemplate(parsePages())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/", s.dashboardPage)
	r.GET("/categories/:category", s.categoryPage)
	r.GET("/ws/events", func(c *gin.Context) { s.hub.Serve(c.Writer, c.Request) })
	if s.svc.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.svc.Metrics))
		r.GET("/debug/vars", gin.WrapH(expvar.Handler()))
	}

	api := r.Group("/api")
	api.GET("/categories", s.listCategories)
	api.GET("/categories/:category/records", s.listRecords)
	api.POST("/categories/:category/records", s.submitRecords)
	api.DELETE("/categories/:category/records/:id", s.deleteRecord)
	api.POST("/categories/:category/click", s.click)
	api.POST("/categories/:category/import", s.importFile)
	api.GET("/dashboard", s.dashboard)
	api.PUT("/dashboard/filter", s.setFilter)
	api.POST("/exports", s.exportReport)
	api.GET("/exports/audit", s.exportAudit)
	api.GET("/backup", s.backup)
	api.GET("/backups", s.listBackups)
	api.POST("/restore", s.restore)
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
