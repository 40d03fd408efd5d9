package api

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/wootoff-monitor/internal/config"
	"github.com/wootoff-monitor/internal/metrics"
	"github.com/wootoff-monitor/internal/monitor"
	"github.com/wootoff-monitor/internal/storage"
	"golang.org/x/time/rate"
)

const defaultEventLimit = 50

// StatusProvider exposes the monitor loop's current view
type StatusProvider interface {
	Status() monitor.Status
}

// ProbeFunc re-probes every proxy endpoint and updates pool health
type ProbeFunc func(ctx context.Context)

type Server struct {
	config      *config.Config
	status      StatusProvider
	journal     storage.Journal
	probe       ProbeFunc
	metrics     *metrics.Collector
	gatherer    prometheus.Gatherer
	router      *gin.Engine
	httpServer  *http.Server
	rateLimiter *RateLimiter

	probing sync.Mutex
}

type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	rps := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 10 // Allow bursts
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[key] = limiter

	return limiter
}

// NewServer wires the ops endpoints. journal and probe may be nil; their
// endpoints then answer 503.
func NewServer(cfg *config.Config, status StatusProvider, journal storage.Journal, probe ProbeFunc,
	metricsCollector *metrics.Collector, gatherer prometheus.Gatherer) *Server {

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:      cfg,
		status:      status,
		journal:     journal,
		probe:       probe,
		metrics:     metricsCollector,
		gatherer:    gatherer,
		router:      router,
		rateLimiter: NewRateLimiter(cfg.API.RateLimitPerMinute),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())

	// Public endpoints
	s.router.GET("/health", s.handleHealth)

	// Metrics endpoint (usually scraped by Prometheus)
	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Endpoint, gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	// Protected endpoints
	protected := s.router.Group("/")
	if s.config.API.EnableAPIKeyAuth {
		protected.Use(s.authMiddleware())
	}
	if s.config.API.EnableIPRateLimit {
		protected.Use(s.rateLimitMiddleware())
	}

	protected.GET("/status", s.handleStatus)
	protected.GET("/events", s.handleEvents)
	protected.GET("/proxies", s.handleProxies)
	protected.POST("/probe", s.handleProbe)
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	log.Infof("Starting API server on %s", s.config.API.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

// Middleware

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Milliseconds(),
			"ip":       c.ClientIP(),
		}).Debug("API request")
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		c.Next()

		// route template keeps label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		s.metrics.RecordAPIRequest(method, path, status)
		s.metrics.RecordAPIDuration(method, path, time.Since(start).Seconds())
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	expectedKey := os.Getenv(s.config.API.APIKeyEnv)
	if expectedKey == "" {
		log.Warn("API key not set in environment, authentication disabled")
	}

	return func(c *gin.Context) {
		if expectedKey == "" {
			c.Next()
			return
		}

		// Check header first
		apiKey := c.GetHeader("X-Api-Key")
		if apiKey == "" {
			// Check query parameter
			apiKey = c.Query("key")
		}

		if apiKey != expectedKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or missing API key",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter := s.rateLimiter.GetLimiter(ip)

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status.Status())
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Event journal not configured",
		})
		return
	}

	limit := defaultEventLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid limit parameter",
			})
			return
		}
		limit = n
	}

	events, err := s.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		log.Errorf("Read journal: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read journal",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}

func (s *Server) handleProxies(c *gin.Context) {
	st := s.status.Status()

	format := c.Query("format")
	wantsJSON := format == "json" || strings.Contains(c.GetHeader("Accept"), "application/json")

	if wantsJSON {
		c.JSON(http.StatusOK, gin.H{
			"total":   len(st.Proxies),
			"counts":  st.ProxyCounts,
			"proxies": st.Proxies,
		})
		return
	}

	// Plain text format (one per line)
	var result strings.Builder
	for _, p := range st.Proxies {
		result.WriteString(p.Address())
		result.WriteString(" ")
		result.WriteString(p.Health.String())
		result.WriteString("\n")
	}
	c.String(http.StatusOK, result.String())
}

func (s *Server) handleProbe(c *gin.Context) {
	if s.probe == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Probing not available",
		})
		return
	}

	if !s.probing.TryLock() {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Probe already running",
		})
		return
	}

	log.Info("Proxy probe triggered via API")

	go func() {
		defer s.probing.Unlock()
		s.probe(context.Background())
		log.Info("Probe complete")
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Probe triggered",
	})
}
