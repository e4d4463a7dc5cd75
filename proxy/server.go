// Package proxy serves the thin backend endpoints the checkout page talks to:
// the order backend relay, a client log sink, health and metrics.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vitwit/web3checkout/logger"
	"github.com/vitwit/web3checkout/metrics"
)

const (
	OrderPath   = "/api/web3zahlung"
	LogPath     = "/api/log"
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"

	maxBodyBytes    = 2 << 20
	shutdownTimeout = 5 * time.Second
)

// Forwarder relays a request to the order backend. *clients.OrderClient
// satisfies it.
type Forwarder interface {
	Forward(ctx context.Context, method, rawQuery string, body []byte) (int, []byte, error)
}

type Server struct {
	orders  Forwarder
	timeout time.Duration
	origins []string
	logger  logger.Logger
	metrics metrics.Recorder
	exposed http.Handler
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Server) {
		s.metrics = r
	}
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.exposed = h
	}
}

// WithCORSOrigins restricts cross-origin callers. An empty list or "*" allows all.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

func WithTimeout(t time.Duration) Option {
	return func(s *Server) {
		s.timeout = t
	}
}

func NewServer(orders Forwarder, opts ...Option) *Server {
	s := &Server{
		orders:  orders,
		timeout: 30 * time.Second,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine. It is exported for tests.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.corsMiddleware())

	router.Any(OrderPath, s.relayOrder)
	router.POST(LogPath, s.clientLog)
	router.GET(HealthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.exposed != nil {
		router.GET(MetricsPath, gin.WrapH(s.exposed))
	}
	return router
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if allowAll(s.origins) {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.origins
	}
	return cors.New(cfg)
}

func allowAll(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// RunWithContext serves on addr until ctx is cancelled.
func (s *Server) RunWithContext(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown error", map[string]any{"error": err})
		}
	}()

	s.logger.Info("proxy listening", map[string]any{"addr": addr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) relayOrder(c *gin.Context) {
	method := c.Request.Method

	var (
		rawQuery string
		body     []byte
	)
	switch method {
	case http.MethodGet:
		orderID, token := c.Query("orderId"), c.Query("token")
		if orderID == "" || token == "" {
			s.count(method, http.StatusBadRequest)
			c.JSON(http.StatusBadRequest, gin.H{"error": "orderId and token are required"})
			return
		}
		rawQuery = c.Request.URL.RawQuery
	case http.MethodPost:
		data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			s.fail(c, method, err)
			return
		}
		if len(data) == 0 {
			data = []byte("{}")
		}
		if !json.Valid(data) {
			s.count(method, http.StatusBadRequest)
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be JSON"})
			return
		}
		body = data
	default:
		s.count(method, http.StatusMethodNotAllowed)
		c.Header("Allow", "GET, POST")
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method Not Allowed"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	status, out, err := s.orders.Forward(ctx, method, rawQuery, body)
	if err != nil {
		s.fail(c, method, err)
		return
	}
	if !json.Valid(out) {
		s.fail(c, method, errors.New("order backend returned non-JSON body"))
		return
	}

	s.count(method, status)
	c.Data(status, "application/json; charset=utf-8", out)
}

func (s *Server) fail(c *gin.Context, method string, err error) {
	s.logger.Error("order proxy error", map[string]any{"method": method, "error": err})
	s.count(method, http.StatusInternalServerError)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "proxy error"})
}

func (s *Server) count(method string, status int) {
	s.metrics.IncCounter(metrics.ProxyRequest, map[string]string{
		"reason": method + "_" + strconv.Itoa(status),
	})
}

// clientLog accepts arbitrary diagnostics from the checkout page and always
// answers {"ok":true}.
func (s *Server) clientLog(c *gin.Context) {
	id := uuid.NewString()
	fields := map[string]any{"request_id": id, "query": c.Request.URL.Query()}

	data, _ := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	var parsed any
	if len(data) > 0 && json.Unmarshal(data, &parsed) == nil {
		fields["body"] = parsed
	} else if len(data) > 0 {
		fields["raw"] = string(data)
	}

	s.logger.Info("client log", fields)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
