// Package httpapi serves the batch control and observation API.
//
// There is no authentication. Keep Addr on loopback unless something in
// front of the server handles that.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "github.com/IReaderorg/IReader-sub034/internal/runtime/supervisor"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

const (
	DefaultAddr            = "127.0.0.1:8088"
	DefaultShutdownTimeout = 5 * time.Second
)

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	// Pprof mounts the runtime profiles under /debug/pprof.
	Pprof      bool
	PprofToken string
}

type Option func(*Server)

// WithHealth adds the result of fn to /healthz.
func WithHealth(fn func() any) Option { return func(s *Server) { s.health = fn } }

// WithGatherer serves /metrics from g.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

type Server struct {
	cfg      Config
	ctrl     Controller
	log      logx.Logger
	health   func() any
	gatherer prometheus.Gatherer

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	sup  *rtsup.Supervisor
	addr string
}

func New(cfg Config, ctrl Controller, log logx.Logger, opts ...Option) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	s := &Server{cfg: cfg, ctrl: ctrl, log: log.Named("http")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the router. It is exported for tests and embedding.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", s.healthz)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	if s.cfg.Pprof {
		mountPprof(r, s.cfg.PprofToken)
	}

	v1 := r.Group("/v1")
	v1.GET("/status", s.status)
	v1.POST("/pause", s.pause)
	v1.POST("/resume", s.resume)

	v1.POST("/batches", s.queueBatch)
	v1.DELETE("/batches", s.cancelAll)

	v1.DELETE("/chapters/:id", s.cancelChapter)
	v1.POST("/chapters/:id/retry", s.retryChapter)

	v1.GET("/progress", s.progress)
	v1.GET("/progress/stream", s.progressStream)
	v1.DELETE("/progress", s.clearProgress)
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Supervisor returns the server's supervisor, nil before Start.
func (s *Server) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start binds the listener and serves in the background. Binding errors are
// returned; starting twice is a no-op.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	if !isLoopbackAddr(s.cfg.Addr) {
		s.log.Warn("control API bound to a non-loopback address without authentication", logx.String("addr", s.cfg.Addr))
	}
	// Request contexts end on Shutdown so open progress streams return.
	base, cancelBase := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancelBase)
	s.ln, s.srv, s.addr = ln, srv, ln.Addr().String()
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log))
	s.sup.Go("http.serve", func(context.Context) error {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	s.log.Info("http api started", logx.String("addr", s.addr))
	return nil
}

// Stop shuts the server down gracefully, bounded by ShutdownTimeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.ln, s.sup = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(sctx)
	if err != nil {
		_ = srv.Close()
	}
	_ = sup.Stop(sctx)
	s.log.Info("http api stopped")
	return err
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
