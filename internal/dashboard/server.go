package dashboard

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pricewatch/config"
	"pricewatch/internal/aggregate"
	"pricewatch/internal/metrics"
	"pricewatch/internal/repository"
	"pricewatch/logger"
	"pricewatch/writer"
)

//go:embed templates/*.tmpl assets/*
var embeddedFS embed.FS

const requestIDHeader = "X-Request-ID"

// Exporter uploads aggregated price histories.
type Exporter interface {
	Export(ctx context.Context, histories []aggregate.History) (*writer.ExportResult, error)
}

// Deps are the collaborators of the dashboard. Exporter may be nil when the
// S3 export is disabled.
type Deps struct {
	Repository  *repository.Repository
	Exporter    Exporter
	Environment string
}

// Server hosts the Gin-powered price dashboard.
type Server struct {
	cfg               config.DashboardConfig
	env               string
	repo              *repository.Repository
	exporter          Exporter
	hub               *hub
	log               *logger.Log
	metricStore       *metricStore
	logStore          *logStore
	metricHandler     metrics.MetricHandlerID
	httpServer        *http.Server
	refreshIntervalMs int
	resourceSampler   *resourceSampler
}

// NewServer constructs a dashboard server when the dashboard feature is enabled.
// When the dashboard is disabled the returned server will be nil.
func NewServer(cfg config.DashboardConfig, deps Deps, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if deps.Repository == nil {
		return nil, errors.New("dashboard requires a repository")
	}
	if log == nil {
		log = logger.GetLogger()
	}

	cfg.Address = normalizeAddress(cfg.Address)

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}

	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}

	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	if cfg.TopSeries <= 0 {
		cfg.TopSeries = aggregate.DefaultTopSeries
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	sampler := newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, "/", log)

	server := &Server{
		cfg:               cfg,
		env:               deps.Environment,
		repo:              deps.Repository,
		exporter:          deps.Exporter,
		hub:               newHub(log),
		log:               log,
		metricStore:       metricStore,
		logStore:          logStore,
		metricHandler:     handlerID,
		refreshIntervalMs: int(cfg.RefreshInterval / time.Millisecond),
		resourceSampler:   sampler,
	}

	if server.refreshIntervalMs <= 0 {
		server.refreshIntervalMs = int((5 * time.Second) / time.Millisecond)
	}

	return server, nil
}

// Run starts the dashboard HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	if s.resourceSampler != nil {
		s.resourceSampler.start(ctx)
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{
		"address":     s.cfg.Address,
		"environment": s.env,
	}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.hub.close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.resourceSampler != nil {
		s.resourceSampler.stop()
	}
	if s.hub != nil {
		s.hub.close()
	}
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	if config.IsProductionLike(s.env) {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), s.requestID())
	// Allow running behind load balancers and accessing the dashboard from
	// public networks by trusting all proxies by default.
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	tmpl, err := template.New("dashboard").Funcs(templateFuncs()).ParseFS(embeddedFS, "templates/index.tmpl")
	if err != nil {
		return nil, err
	}
	router.SetHTMLTemplate(tmpl)

	if assetsFS, err := fsSub("assets"); err == nil {
		router.StaticFS("/assets", http.FS(assetsFS))
	}

	router.GET("/", func(c *gin.Context) { s.handleIndex(c, appName) })
	router.POST("/products", s.handleProductForm)
	router.POST("/shops", s.handleShopForm)
	router.POST("/prices", s.handlePriceForm)

	api := router.Group("/api")
	api.GET("/dashboard", s.handleDashboard)
	api.GET("/products", s.handleListProducts)
	api.POST("/products", s.handleCreateProduct)
	api.GET("/shops", s.handleListShops)
	api.POST("/shops", s.handleCreateShop)
	api.GET("/prices", s.handleListPrices)
	api.POST("/prices", s.handleCreatePrice)
	api.GET("/panels", s.handleListPanels)
	api.POST("/export", s.handleExport)

	router.GET("/ws", s.hub.serve)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":            "ok",
			"websocket_clients": s.hub.count(),
			"export_enabled":    s.exporter != nil,
		})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api.GET("/metrics", func(c *gin.Context) {
		metricsSnapshot := s.metricStore.filter(c.Query("component"))
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	api.GET("/logs", func(c *gin.Context) {
		level := logrus.TraceLevel
		if q := c.Query("level"); q != "" {
			parsed, err := logrus.ParseLevel(q)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown log level"})
				return
			}
			level = parsed
		}
		logsSnapshot := s.logStore.filter(level)
		payload := make([]gin.H, 0, len(logsSnapshot))
		for _, l := range logsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": l.Timestamp.Format(time.RFC3339Nano),
				"level":     l.Level,
				"component": l.Component,
				"message":   l.Message,
				"fields":    l.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	api.GET("/resources", func(c *gin.Context) {
		snapshots := s.resourceSampler.snapshot()
		payload := make([]gin.H, 0, len(snapshots))
		for _, snap := range snapshots {
			payload = append(payload, gin.H{
				"timestamp":      snap.Timestamp.Format(time.RFC3339Nano),
				"cpu_percent":    snap.CPUPercent,
				"memory_used":    snap.MemoryUsed,
				"memory_total":   snap.MemoryTotal,
				"memory_percent": snap.MemoryPct,
				"disk_used":      snap.DiskUsed,
				"disk_total":     snap.DiskTotal,
				"disk_percent":   snap.DiskPct,
				"goroutines":     snap.Goroutines,
				"requests":       snap.Requests,
				"failures":       snap.Failures,
			})
		}
		c.JSON(http.StatusOK, gin.H{"resources": payload})
	})

	return router, nil
}

// requestID tags every request with an identifier, reusing the caller's
// X-Request-ID when present.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)

		start := time.Now()
		c.Next()

		s.log.WithComponent("dashboard").WithFields(logger.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Debug("request served")
	}
}

func fsSub(path string) (fs.FS, error) {
	sub, err := fs.Sub(embeddedFS, path)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
